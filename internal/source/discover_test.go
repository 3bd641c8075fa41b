package source

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDiscoverSortsAndFilters(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.csv", "h\n")
	writeFile(t, dir, "a.csv", "h\n")
	writeFile(t, dir, "notes.txt", "h\n")
	writeFile(t, dir, "c.csv.processed", "h\n")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.csv"), 0o755))

	paths, err := Discover(dir, "")
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(dir, "a.csv"), filepath.Join(dir, "b.csv")}, paths)
}

func TestDiscoverErrors(t *testing.T) {
	_, err := Discover(filepath.Join(t.TempDir(), "nope"), "*.csv")
	require.Error(t, err)

	_, err = Discover(t.TempDir(), "[")
	require.Error(t, err)
}

func TestMarkProcessed(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.csv", "h\n")
	missing := filepath.Join(dir, "gone.csv")

	errs := MarkProcessed([]string{missing, a})
	require.Len(t, errs, 1)

	_, err := os.Stat(a + ProcessedSuffix)
	require.NoError(t, err)
	_, err = os.Stat(a)
	require.True(t, os.IsNotExist(err))

	require.Nil(t, MarkProcessed(nil))
}
