package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	yaml "gopkg.in/yaml.v2"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SENSOR_ETL_"

// Supported storage drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverPGX      = "pgx"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type InputConfig struct {
	Dir     string `yaml:"dir"`
	Pattern string `yaml:"pattern"`
	// SkipLines is the number of header lines per file. Nil means one.
	SkipLines        *int     `yaml:"skip_lines"`
	Delimiter        string   `yaml:"delimiter"`
	TimestampLayouts []string `yaml:"timestamp_layouts"`
	Timezone         string   `yaml:"timezone"`
	RenameProcessed  bool     `yaml:"rename_processed"`
}

type StorageConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	Table  string `yaml:"table"`
}

type RetryConfig struct {
	Attempts int `yaml:"attempts"`
	DelayMS  int `yaml:"delay_ms"`
}

type LogsConfig struct {
	Dir     string `yaml:"dir"`
	SkipLog bool   `yaml:"skip_log"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type APIConfig struct {
	Port int `yaml:"port"`
}

type Config struct {
	Input   InputConfig   `yaml:"input"`
	Storage StorageConfig `yaml:"storage"`
	// Retry applies to opening the store connection.
	Retry RetryConfig `yaml:"retry"`
	// WriteAttempts is how many times a chunk is written before a transient
	// store error fails the run. One means no retry.
	WriteAttempts int `yaml:"write_attempts"`
	// ChunkSize is the number of validated records committed per transaction.
	ChunkSize int        `yaml:"chunk_size"`
	Logs      LogsConfig `yaml:"logs"`
	Log       LogConfig  `yaml:"log"`
	API       APIConfig  `yaml:"api"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and unmarshals the configuration file located at the given path.
// Relative input and log directories are resolved against the file's directory.
func Load(path string) (*Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfgDir := filepath.Dir(absPath)
	if cfg.Input.Dir != "" && !filepath.IsAbs(cfg.Input.Dir) {
		cfg.Input.Dir = filepath.Join(cfgDir, cfg.Input.Dir)
	}
	if cfg.Logs.Dir != "" && !filepath.IsAbs(cfg.Logs.Dir) {
		cfg.Logs.Dir = filepath.Join(cfgDir, cfg.Logs.Dir)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Input.Dir == "" {
		c.Input.Dir = "input"
	}
	if c.Input.Pattern == "" {
		c.Input.Pattern = "*.csv"
	}
	if c.Input.SkipLines == nil {
		one := 1
		c.Input.SkipLines = &one
	}
	if c.Input.Delimiter == "" {
		c.Input.Delimiter = ","
	}
	if c.Input.Timezone == "" {
		c.Input.Timezone = "UTC"
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverSQLite
	}
	if c.Storage.DSN == "" && c.Storage.Driver == DriverSQLite {
		c.Storage.DSN = "sensor.db"
	}
	if c.Storage.Table == "" {
		c.Storage.Table = "temperature_data"
	}

	if c.Retry.Attempts == 0 {
		c.Retry.Attempts = 3
	}
	if c.Retry.DelayMS == 0 {
		c.Retry.DelayMS = 1500
	}
	if c.WriteAttempts == 0 {
		c.WriteAttempts = 1
	}

	if c.ChunkSize == 0 {
		c.ChunkSize = 1_000
	}

	if c.Logs.Dir == "" {
		c.Logs.Dir = "logs"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
}

// ApplyEnv overrides fields from SENSOR_ETL_* variables. API_PORT is honoured
// without the prefix.
func (c *Config) ApplyEnv() error {
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s=%q: %w", key, v, err)
		}
		*dst = n
		return nil
	}

	str("INPUT_DIR", &c.Input.Dir)
	str("INPUT_PATTERN", &c.Input.Pattern)
	str("DB_DRIVER", &c.Storage.Driver)
	str("DB_DSN", &c.Storage.DSN)
	str("DB_TABLE", &c.Storage.Table)
	str("LOGS_DIR", &c.Logs.Dir)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	if err := num(EnvPrefix+"CHUNK_SIZE", &c.ChunkSize); err != nil {
		return err
	}
	if err := num(EnvPrefix+"WRITE_ATTEMPTS", &c.WriteAttempts); err != nil {
		return err
	}
	if err := num("API_PORT", &c.API.Port); err != nil {
		return err
	}
	if v, ok := os.LookupEnv(EnvPrefix + "RENAME_PROCESSED"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %sRENAME_PROCESSED=%q: %w", EnvPrefix, v, err)
		}
		c.Input.RenameProcessed = b
	}
	return nil
}

// Validate rejects configurations the importer cannot run with.
func (c *Config) Validate() error {
	if c.Input.Dir == "" {
		return fmt.Errorf("input.dir is required")
	}
	if _, err := filepath.Match(c.Input.Pattern, ""); err != nil {
		return fmt.Errorf("input.pattern %q is invalid: %w", c.Input.Pattern, err)
	}
	if c.Input.SkipLines != nil && *c.Input.SkipLines < 0 {
		return fmt.Errorf("input.skip_lines must not be negative")
	}
	if utf8.RuneCountInString(c.Input.Delimiter) != 1 {
		return fmt.Errorf("input.delimiter must be a single character, got %q", c.Input.Delimiter)
	}
	if _, err := time.LoadLocation(c.Input.Timezone); err != nil {
		return fmt.Errorf("input.timezone %q is invalid: %w", c.Input.Timezone, err)
	}

	switch c.Storage.Driver {
	case DriverSQLite, DriverMySQL, DriverPostgres, DriverPGX:
	default:
		return fmt.Errorf("unsupported storage driver: %s", c.Storage.Driver)
	}
	if c.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn is required when storage driver is %s", c.Storage.Driver)
	}
	if !tableName.MatchString(c.Storage.Table) {
		return fmt.Errorf("storage.table %q is not a valid identifier", c.Storage.Table)
	}

	if c.ChunkSize < 1 {
		return fmt.Errorf("chunk_size must be positive, got %d", c.ChunkSize)
	}
	if c.Retry.Attempts < 1 || c.WriteAttempts < 1 {
		return fmt.Errorf("retry.attempts and write_attempts must be at least 1")
	}
	if c.Retry.DelayMS < 0 {
		return fmt.Errorf("retry.delay_ms must not be negative")
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// HeaderLines returns how many lines are skipped at the top of each file.
func (c InputConfig) HeaderLines() int {
	if c.SkipLines == nil {
		return 1
	}
	return *c.SkipLines
}

// DelimiterRune returns the configured field delimiter.
func (c InputConfig) DelimiterRune() rune {
	r, _ := utf8.DecodeRuneInString(c.Delimiter)
	if r == utf8.RuneError {
		return ','
	}
	return r
}

// Location returns the zone input timestamps are read in.
func (c InputConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Apply configures the global logrus logger.
func (c LogConfig) Apply() error {
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	if strings.EqualFold(c.Format, "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}
