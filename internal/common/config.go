package common

import (
	"fmt"
	"os"
	"regexp"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ternarybob/harvester/internal/models"
)

// Config is the ambient application configuration: logging, environment, and
// the storage connection this process opens. It is distinct from
// models.RunConfig, which describes one harvest job template and is loaded
// separately (see internal/config).
type Config struct {
	Environment string        `yaml:"environment"` // "development" or "production"
	Logging     LoggingConfig `yaml:"logging"`
	SQLite      SQLiteConfig  `yaml:"sqlite"`
}

// LoggingConfig controls arbor's writer composition and verbosity.
type LoggingConfig struct {
	Level      string   `yaml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `yaml:"output"`      // "stdout", "file"
	TimeFormat string   `yaml:"time_format"` // default "15:04:05.000"
}

// SQLiteConfig controls the state-store connection. Path is usually sourced
// from models.RunConfig.StateDB at wiring time rather than set independently.
type SQLiteConfig struct {
	Path            string `yaml:"path"`
	Environment     string `yaml:"-"` // mirrored from Config.Environment at wiring time
	ResetOnStartup  bool   `yaml:"reset_on_startup"`
	CacheSizeMB     int    `yaml:"cache_size_mb"`
	BusyTimeoutMS   int    `yaml:"busy_timeout_ms"`
	WALMode         bool   `yaml:"wal_mode"`
}

// DefaultConfig returns the ambient config with every field at its
// documented default.
func DefaultConfig() *Config {
	return &Config{
		Environment: "production",
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout"},
			TimeFormat: "15:04:05.000",
		},
		SQLite: SQLiteConfig{
			CacheSizeMB:   64,
			BusyTimeoutMS: 5000,
			WALMode:       true,
		},
	}
}

// LoadFromFiles builds the ambient Config from defaults, then overlays each
// path's YAML document in order (later files win). A missing path is
// tolerated so callers can pass an optional, auto-discovered config file.
func LoadFromFiles(paths ...string) (*Config, error) {
	cfg := DefaultConfig()

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.SQLite.Environment = cfg.Environment
	return cfg, nil
}

var placeholderPattern = regexp.MustCompile(`\{num\}`)

var structValidator = validator.New()

// ValidateRunConfig enforces spec.md's §6 validation rules: a missing
// "{num}" placeholder, negative tunables, an inverted page range, an empty
// selector, or an unknown engine all abort before any side effect. Returned
// errors are always checked synchronously by the caller before Run is
// invoked — no partial state is ever created for an invalid config.
func ValidateRunConfig(cfg models.RunConfig) error {
	if err := structValidator.Struct(cfg); err != nil {
		return fmt.Errorf("invalid run config: %w", err)
	}
	if !placeholderPattern.MatchString(cfg.URLTemplate) {
		return fmt.Errorf("invalid run config: url_template must contain the literal placeholder {num}")
	}
	if cfg.StartNum < 0 {
		return fmt.Errorf("invalid run config: start_num must be >= 0")
	}
	if cfg.EndNum != nil && *cfg.EndNum < cfg.StartNum {
		return fmt.Errorf("invalid run config: end_num must be >= start_num")
	}
	if cfg.Selector == "" {
		return fmt.Errorf("invalid run config: selector must not be empty")
	}
	if cfg.Engine != "requests" && cfg.Engine != "playwright" {
		return fmt.Errorf("invalid run config: engine must be one of requests, playwright")
	}
	if cfg.PageTimeoutSec < 0 {
		return fmt.Errorf("invalid run config: page_timeout_sec must be >= 0")
	}
	if cfg.ImageTimeoutSec < 0 {
		return fmt.Errorf("invalid run config: image_timeout_sec must be >= 0")
	}
	if cfg.DownloadRatePerSec < 0 {
		return fmt.Errorf("invalid run config: download_rate_per_sec must be >= 0")
	}
	if cfg.ImageRetries < 0 {
		return fmt.Errorf("invalid run config: image_retries must be >= 0")
	}
	if cfg.PageRetries < 0 {
		return fmt.Errorf("invalid run config: page_retries must be >= 0")
	}
	if cfg.StopAfterConsecutivePageFailures < 1 {
		return fmt.Errorf("invalid run config: stop_after_consecutive_page_failures must be >= 1")
	}
	if cfg.RequestDelaySec < 0 {
		return fmt.Errorf("invalid run config: request_delay_sec must be >= 0")
	}
	if cfg.SequenceCountSelector == "" {
		return fmt.Errorf("invalid run config: sequence_count_selector must not be empty")
	}
	return nil
}
