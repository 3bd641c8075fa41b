package source

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"
)

// DefaultPattern selects the files picked up from the input directory.
const DefaultPattern = "*.csv"

// ProcessedSuffix is appended to an input file name once it has been imported.
const ProcessedSuffix = ".processed"

// Discover lists the regular files in dir whose base name matches pattern,
// sorted by name so that runs over the same directory are reproducible.
func Discover(dir, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid input pattern %q: %w", pattern, err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list input directory %s: %w", dir, err)
	}

	var paths []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if ok, _ := filepath.Match(pattern, e.Name()); ok {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)

	logrus.Infof("discovered input files | dir=%s pattern=%s files=%d", dir, pattern, len(paths))
	return paths, nil
}

// MarkProcessed renames every path to path+ProcessedSuffix. Failures are
// logged and returned but never stop the remaining renames; re-importing a
// file that could not be renamed is harmless.
func MarkProcessed(paths []string) []error {
	if len(paths) == 0 {
		logrus.Info("no files to rename")
		return nil
	}

	var errs []error
	for _, p := range paths {
		target := p + ProcessedSuffix
		if err := os.Rename(p, target); err != nil {
			logrus.Warnf("failed to rename processed file | path=%s err=%v", p, err)
			errs = append(errs, fmt.Errorf("rename %s: %w", p, err))
			continue
		}
		logrus.Infof("renamed processed file | from=%s to=%s", filepath.Base(p), filepath.Base(target))
	}
	return errs
}
