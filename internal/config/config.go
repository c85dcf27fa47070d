package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/adtopia/adtopia/internal/engine/cache"
	"github.com/adtopia/adtopia/internal/logging"
)

// Environment variables that override the config file.
const (
	EnvHome        = "ADTOPIA_HOME"
	EnvURL         = "ADTOPIA_URL"
	EnvAnonKey     = "ADTOPIA_ANON_KEY"
	EnvAccessToken = "ADTOPIA_ACCESS_TOKEN"
	EnvLogLevel    = "ADTOPIA_LOG_LEVEL"
	EnvLogFormat   = "ADTOPIA_LOG_FORMAT"
)

// Progress display modes.
const (
	ProgressAuto  = "auto"
	ProgressTUI   = "tui"
	ProgressPlain = "plain"
	ProgressNone  = "none"
)

// Output formats for command summaries.
const (
	FormatTable = "table"
	FormatJSON  = "json"
)

const configFileName = "config.yaml"

// ErrUnknownKey is returned by Get and Set for keys outside the config schema.
var ErrUnknownKey = errors.New("unknown configuration key")

// Config is the adtopia CLI configuration stored in ~/.adtopia/config.yaml.
type Config struct {
	Backend    BackendConfig    `yaml:"backend"`
	Processing ProcessingConfig `yaml:"processing"`
	Cache      CacheConfig      `yaml:"cache"`
	Logging    LoggingConfig    `yaml:"logging"`
	Output     OutputConfig     `yaml:"output"`

	configPath string
}

// BackendConfig locates the backend and its credentials.
type BackendConfig struct {
	URL         string        `yaml:"url"`
	AnonKey     string        `yaml:"anon_key"`
	AccessToken string        `yaml:"access_token,omitempty"`
	Bucket      string        `yaml:"bucket"`
	Timeout     time.Duration `yaml:"timeout"`
	// RateLimit is the sustained request rate per second (0 = unlimited).
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`
}

// ProcessingConfig tunes the bulk workflows.
type ProcessingConfig struct {
	ChunkSize         int           `yaml:"chunk_size"`
	ChunkDelay        time.Duration `yaml:"chunk_delay"`
	Concurrency       int           `yaml:"concurrency"`
	OptimizeBatchSize int           `yaml:"optimize_batch_size"`
	BatchSize         int           `yaml:"batch_size"`
	BatchTimeout      time.Duration `yaml:"batch_timeout"`
}

// CacheConfig configures the local cache.
type CacheConfig struct {
	Enabled           bool   `yaml:"enabled"`
	Directory         string `yaml:"directory,omitempty"`
	TTLSeconds        int    `yaml:"ttl_seconds"`
	MaxSizeMB         int    `yaml:"max_size_mb"`
	CompressThreshold int    `yaml:"compress_threshold"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file,omitempty"`
}

// OutputConfig configures how results are printed.
type OutputConfig struct {
	Format   string `yaml:"format"`
	Progress string `yaml:"progress"`
}

// Default returns a Config populated with defaults and no file or env applied.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			Bucket:    "gallery-images",
			Timeout:   30 * time.Second,
			RateLimit: 10,
			Burst:     5,
		},
		Processing: ProcessingConfig{
			ChunkSize:         10,
			ChunkDelay:        10 * time.Millisecond,
			Concurrency:       3,
			OptimizeBatchSize: 3,
			BatchSize:         10,
			BatchTimeout:      time.Second,
		},
		Cache: CacheConfig{
			Enabled:           true,
			TTLSeconds:        cache.DefaultTTLSeconds,
			MaxSizeMB:         cache.DefaultCacheMaxSizeMB,
			CompressThreshold: cache.DefaultCompressThreshold,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: logging.FormatConsole,
		},
		Output: OutputConfig{
			Format:   FormatTable,
			Progress: ProgressAuto,
		},
	}
}

// New returns the defaults overlaid with the global config file (when it
// exists) and environment overrides. A malformed file is ignored.
func New() *Config {
	cfg := Default()

	if dir, err := GetConfigDir(); err == nil {
		cfg.configPath = filepath.Join(dir, configFileName)
		_ = cfg.Load()
	}

	cfg.ApplyEnv()
	return cfg
}

// FromFile returns the defaults overlaid with the global config file only.
// Commands that write the file start from it so environment overrides are
// never persisted.
func FromFile() (*Config, error) {
	cfg := Default()
	dir, err := GetConfigDir()
	if err != nil {
		return nil, err
	}
	cfg.configPath = filepath.Join(dir, configFileName)
	if err := cfg.Load(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ConfigPath returns the file Load and Save use.
func (c *Config) ConfigPath() string {
	return c.configPath
}

// SetConfigPath changes the file Load and Save use.
func (c *Config) SetConfigPath(path string) {
	c.configPath = path
}

// Load reads the config file on top of the current values.
// A missing file is not an error.
func (c *Config) Load() error {
	data, err := os.ReadFile(c.configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading config %s: %w", c.configPath, err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config %s: %w", c.configPath, err)
	}
	return nil
}

// Save writes the config file, owner-readable only, creating its directory.
func (c *Config) Save() error {
	if c.configPath == "" {
		return errors.New("config path is not set")
	}

	if err := os.MkdirAll(filepath.Dir(c.configPath), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.WriteFile(c.configPath, data, 0o600); err != nil {
		return fmt.Errorf("writing config %s: %w", c.configPath, err)
	}
	return nil
}

// ApplyEnv overlays ADTOPIA_* environment variables.
func (c *Config) ApplyEnv() {
	setFromEnv(&c.Backend.URL, EnvURL)
	setFromEnv(&c.Backend.AnonKey, EnvAnonKey)
	setFromEnv(&c.Backend.AccessToken, EnvAccessToken)
	setFromEnv(&c.Logging.Level, EnvLogLevel)
	setFromEnv(&c.Logging.Format, EnvLogFormat)
	setFromEnv(&c.Cache.Directory, cache.EnvCacheDir)

	if os.Getenv(cache.EnvCacheEnabled) != "" {
		c.Cache.Enabled = cache.GetCacheEnabledFromEnv()
	}
	if os.Getenv(cache.EnvTTLSeconds) != "" {
		c.Cache.TTLSeconds = cache.GetTTLFromEnv()
	}
	if os.Getenv(cache.EnvCacheMaxSize) != "" {
		c.Cache.MaxSizeMB = cache.GetCacheMaxSizeFromEnv()
	}
}

func setFromEnv(dst *string, name string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

// CacheDir returns the configured cache directory or ~/.adtopia/cache.
func (c *Config) CacheDir() (string, error) {
	if c.Cache.Directory != "" {
		return c.Cache.Directory, nil
	}
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "cache"), nil
}

// Validate checks the configuration for values the commands cannot use.
// All problems are reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.Backend.URL != "" {
		u, err := url.Parse(c.Backend.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("backend.url %q is not an absolute URL", c.Backend.URL))
		}
	}
	if c.Backend.Bucket == "" {
		errs = append(errs, errors.New("backend.bucket must not be empty"))
	}
	if c.Backend.RateLimit < 0 {
		errs = append(errs, errors.New("backend.rate_limit must not be negative"))
	}

	positive := map[string]int{
		"processing.chunk_size":          c.Processing.ChunkSize,
		"processing.concurrency":         c.Processing.Concurrency,
		"processing.optimize_batch_size": c.Processing.OptimizeBatchSize,
		"processing.batch_size":          c.Processing.BatchSize,
	}
	for _, key := range sortedKeys(positive) {
		if positive[key] < 1 {
			errs = append(errs, fmt.Errorf("%s must be at least 1, got %d", key, positive[key]))
		}
	}
	if c.Processing.BatchTimeout <= 0 {
		errs = append(errs, errors.New("processing.batch_timeout must be positive"))
	}

	if c.Cache.Enabled {
		if err := cache.ValidateTTL(c.Cache.TTLSeconds); err != nil {
			errs = append(errs, fmt.Errorf("cache.ttl_seconds: %w", err))
		}
		if c.Cache.MaxSizeMB < 0 {
			errs = append(errs, errors.New("cache.max_size_mb must not be negative"))
		}
	}

	if _, err := zerolog.ParseLevel(strings.ToLower(c.Logging.Level)); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	if c.Logging.Format != logging.FormatJSON && c.Logging.Format != logging.FormatConsole {
		errs = append(errs, fmt.Errorf("logging.format must be %q or %q, got %q",
			logging.FormatJSON, logging.FormatConsole, c.Logging.Format))
	}

	switch c.Output.Progress {
	case ProgressAuto, ProgressTUI, ProgressPlain, ProgressNone:
	default:
		errs = append(errs, fmt.Errorf("output.progress %q is not one of auto, tui, plain, none", c.Output.Progress))
	}
	if c.Output.Format != FormatTable && c.Output.Format != FormatJSON {
		errs = append(errs, fmt.Errorf("output.format %q is not one of table, json", c.Output.Format))
	}

	return errors.Join(errs...)
}

// field binds a dotted key to a config value.
type field struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

func stringField(ptr func(c *Config) *string) field {
	return field{
		get: func(c *Config) string { return *ptr(c) },
		set: func(c *Config, v string) error { *ptr(c) = v; return nil },
	}
}

func intField(ptr func(c *Config) *int) field {
	return field{
		get: func(c *Config) string { return strconv.Itoa(*ptr(c)) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("expected an integer: %w", err)
			}
			*ptr(c) = n
			return nil
		},
	}
}

func boolField(ptr func(c *Config) *bool) field {
	return field{
		get: func(c *Config) string { return strconv.FormatBool(*ptr(c)) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("expected true or false: %w", err)
			}
			*ptr(c) = b
			return nil
		},
	}
}

func durationField(ptr func(c *Config) *time.Duration) field {
	return field{
		get: func(c *Config) string { return ptr(c).String() },
		set: func(c *Config, v string) error {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("expected a duration such as 500ms: %w", err)
			}
			*ptr(c) = d
			return nil
		},
	}
}

//nolint:gochecknoglobals // Static key table for config get/set.
var fields = map[string]field{
	"backend.url":          stringField(func(c *Config) *string { return &c.Backend.URL }),
	"backend.anon_key":     stringField(func(c *Config) *string { return &c.Backend.AnonKey }),
	"backend.access_token": stringField(func(c *Config) *string { return &c.Backend.AccessToken }),
	"backend.bucket":       stringField(func(c *Config) *string { return &c.Backend.Bucket }),
	"backend.timeout":      durationField(func(c *Config) *time.Duration { return &c.Backend.Timeout }),
	"backend.rate_limit": {
		get: func(c *Config) string { return strconv.FormatFloat(c.Backend.RateLimit, 'f', -1, 64) },
		set: func(c *Config, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("expected a number: %w", err)
			}
			c.Backend.RateLimit = f
			return nil
		},
	},
	"backend.burst":                  intField(func(c *Config) *int { return &c.Backend.Burst }),
	"processing.chunk_size":          intField(func(c *Config) *int { return &c.Processing.ChunkSize }),
	"processing.chunk_delay":         durationField(func(c *Config) *time.Duration { return &c.Processing.ChunkDelay }),
	"processing.concurrency":         intField(func(c *Config) *int { return &c.Processing.Concurrency }),
	"processing.optimize_batch_size": intField(func(c *Config) *int { return &c.Processing.OptimizeBatchSize }),
	"processing.batch_size":          intField(func(c *Config) *int { return &c.Processing.BatchSize }),
	"processing.batch_timeout":       durationField(func(c *Config) *time.Duration { return &c.Processing.BatchTimeout }),
	"cache.enabled":                  boolField(func(c *Config) *bool { return &c.Cache.Enabled }),
	"cache.directory":                stringField(func(c *Config) *string { return &c.Cache.Directory }),
	"cache.ttl_seconds": {
		get: func(c *Config) string { return strconv.Itoa(c.Cache.TTLSeconds) },
		set: func(c *Config, v string) error {
			ttl, err := cache.ParseTTL(v)
			if err != nil {
				return err
			}
			c.Cache.TTLSeconds = ttl
			return nil
		},
	},
	"cache.max_size_mb":              intField(func(c *Config) *int { return &c.Cache.MaxSizeMB }),
	"cache.compress_threshold":       intField(func(c *Config) *int { return &c.Cache.CompressThreshold }),
	"logging.level":                  stringField(func(c *Config) *string { return &c.Logging.Level }),
	"logging.format":                 stringField(func(c *Config) *string { return &c.Logging.Format }),
	"logging.file":                   stringField(func(c *Config) *string { return &c.Logging.File }),
	"output.format":                  stringField(func(c *Config) *string { return &c.Output.Format }),
	"output.progress":                stringField(func(c *Config) *string { return &c.Output.Progress }),
}

// Keys lists every key accepted by Get and Set, sorted.
func Keys() []string {
	return sortedKeys(fields)
}

// Get returns the value at a dotted key such as "processing.chunk_size".
func (c *Config) Get(key string) (string, error) {
	f, ok := fields[strings.ToLower(key)]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return f.get(c), nil
}

// Set parses value and stores it at key. The result is not validated.
func (c *Config) Set(key, value string) error {
	f, ok := fields[strings.ToLower(key)]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	if err := f.set(c, value); err != nil {
		return fmt.Errorf("setting %s: %w", key, err)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
