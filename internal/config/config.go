// Package config provides configuration loading and defaults for the
// freezewatch daemon and for processes that embed the freeze handler.
//
// Configuration is loaded from a TOML file in the user's data directory.
// The package covers the collector endpoint and release-stage gating,
// watchdog timing, report delivery and spooling, privacy filters, and
// logging, with sensible defaults.
package config

//go:generate go run ../../cmd/genconfig

import (
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"tools.zach/dev/freezewatch/internal/atomicfile"
	"tools.zach/dev/freezewatch/internal/logger"
	"tools.zach/dev/freezewatch/internal/migrate"
	"tools.zach/dev/freezewatch/internal/paths"
	"tools.zach/dev/freezewatch/internal/report"
)

// DefaultEndpoint is the hosted notify endpoint reports are posted to.
const DefaultEndpoint = "https://notify.freezewatch.dev/v1/events"

// ///////////////////////////////////////////////
// Configuration Types
// ///////////////////////////////////////////////

// Config represents the top-level configuration.
type Config struct {
	// Version is the config schema version used for migrations.
	Version int `toml:"version"`
	// Collector holds where reports go and which releases report.
	Collector CollectorConfig `toml:"collector"`
	// Monitor holds the in-process watchdog timing.
	Monitor MonitorConfig `toml:"monitor"`
	// Delivery holds HTTP delivery settings.
	Delivery DeliveryConfig `toml:"delivery"`
	// Spool holds on-disk report queue settings.
	Spool SpoolConfig `toml:"spool"`
	// Privacy holds metadata redaction settings.
	Privacy PrivacyConfig `toml:"privacy"`
	// Log holds logging settings.
	Log LogConfig `toml:"log"`
}

// CollectorConfig holds the report destination and release-stage gating.
type CollectorConfig struct {
	// Endpoint is the URL reports are POSTed to. Empty disables delivery;
	// reports stay in the spool.
	Endpoint string `toml:"endpoint"`
	// APIKey is sent with every report.
	APIKey string `toml:"api_key"`
	// ReleaseStage is the stage reported for apps that do not send one.
	ReleaseStage string `toml:"release_stage"`
	// NotifyReleaseStages lists the stages that are delivered. Empty means all.
	NotifyReleaseStages []string `toml:"notify_release_stages"`
	// AppVersion is the version reported for apps that do not send one.
	AppVersion string `toml:"app_version,omitempty"`
}

// MonitorConfig holds the watchdog timing used when installing the handler.
type MonitorConfig struct {
	// PollIntervalMS is the polling wake interval when no semaphore exists.
	PollIntervalMS int `toml:"poll_interval_ms"`
	// SettleDelayMS is the pause between waking and notifying.
	SettleDelayMS int `toml:"settle_delay_ms"`
	// GracePeriodMS is the pause after re-raising the freeze signal.
	GracePeriodMS int `toml:"grace_period_ms"`
	// LegacyMode is passed through to Install and has no effect.
	LegacyMode bool `toml:"legacy_mode"`
}

// DeliveryConfig holds HTTP delivery settings.
type DeliveryConfig struct {
	// RetryMax is the number of retries after the first attempt.
	RetryMax int `toml:"retry_max"`
	// TimeoutSeconds bounds each HTTP attempt.
	TimeoutSeconds int `toml:"timeout_seconds"`
	// FlushIntervalSeconds is the spool polling interval when filesystem
	// notifications are unavailable.
	FlushIntervalSeconds int `toml:"flush_interval_seconds"`
}

// SpoolConfig holds on-disk report queue settings.
type SpoolConfig struct {
	// MaxReports caps the spool; the oldest reports are dropped first.
	MaxReports int `toml:"max_reports"`
}

// PrivacyConfig holds metadata redaction settings.
type PrivacyConfig struct {
	// Filters are substrings matched against metadata keys, or glob
	// patterns matched against "/"-separated metadata paths.
	Filters []string `toml:"filters"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error, fail).
	Level string `toml:"level"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation.
	MaxSizeMB int `toml:"max_size_mb"`
}

// ///////////////////////////////////////////////
// Default Configuration
// ///////////////////////////////////////////////

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: migrate.Config.CurrentVersion,
		Collector: CollectorConfig{
			Endpoint:            DefaultEndpoint,
			ReleaseStage:        "production",
			NotifyReleaseStages: []string{},
		},
		Monitor: MonitorConfig{
			PollIntervalMS: 100,
			SettleDelayMS:  10,
			GracePeriodMS:  2000,
		},
		Delivery: DeliveryConfig{
			RetryMax:             3,
			TimeoutSeconds:       15,
			FlushIntervalSeconds: 30,
		},
		Spool: SpoolConfig{
			MaxReports: 64,
		},
		Privacy: PrivacyConfig{
			Filters: []string{"password"},
		},
		Log: LogConfig{
			Level:     "info",
			MaxSizeMB: 10,
		},
	}
}

// ///////////////////////////////////////////////
// Example Configuration
// ///////////////////////////////////////////////

// ExampleConfig returns a Config suitable for generating config.default.toml.
func ExampleConfig() *Config {
	cfg := DefaultConfig()
	cfg.Collector.NotifyReleaseStages = []string{"production", "staging"}
	return cfg
}

// ///////////////////////////////////////////////
// PeekVersion
// ///////////////////////////////////////////////

// PeekVersion reads just the version field from raw TOML bytes.
// Returns 1 if the version field is missing or zero.
func PeekVersion(data []byte) int {
	var v struct {
		Version int `toml:"version"`
	}
	if err := toml.Unmarshal(data, &v); err != nil {
		return 1
	}
	if v.Version == 0 {
		return 1
	}
	return v.Version
}

// ///////////////////////////////////////////////
// Loading and Saving
// ///////////////////////////////////////////////

// Load reads and parses dataDir/config.toml. A missing file yields
// DefaultConfig.
func Load(dataDir string) (*Config, error) {
	path := filepath.Join(dataDir, paths.ConfigFile)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data, path)
}

// Parse decodes config bytes, migrating older schema versions. When path
// is non-empty a migrated config is backed up and re-saved there. A config
// written by a newer daemon fails with migrate.ErrTooNew.
func Parse(data []byte, path string) (*Config, error) {
	version := PeekVersion(data)
	outdated := version != migrate.Config.CurrentVersion

	if outdated && path != "" && version < migrate.Config.CurrentVersion {
		if backupErr := os.WriteFile(path+".bak", data, 0o600); backupErr != nil {
			slog.Warn("failed to write config backup", "error", backupErr)
		}
	}
	res, err := migrate.Config.Upgrade(data, version)
	if err != nil {
		return nil, fmt.Errorf("migrate config: %w", err)
	}
	if len(res.Applied) > 0 {
		slog.Info("config migrated", "from", res.From, "to", migrate.Config.CurrentVersion, "steps", len(res.Applied))
	}

	cfg := DefaultConfig()
	if err := toml.Unmarshal(res.Data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Version = migrate.Config.CurrentVersion

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	if (outdated || res.Changed()) && path != "" {
		if err := cfg.Save(path); err != nil {
			slog.Warn("failed to save migrated config", "error", err)
		}
	}

	return cfg, nil
}

// Save writes the config to path as TOML, replacing it atomically.
func (c *Config) Save(path string) error {
	return atomicfile.WriteFunc(path, 0o600, func(w io.Writer) error {
		if err := toml.NewEncoder(w).Encode(c); err != nil {
			return fmt.Errorf("encoding config: %w", err)
		}
		return nil
	})
}

// ///////////////////////////////////////////////
// Validation
// ///////////////////////////////////////////////

// Validate checks that all configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Collector.Endpoint != "" {
		u, err := url.Parse(c.Collector.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid collector.endpoint %q: must be an http or https URL", c.Collector.Endpoint)
		}
	}

	if c.Monitor.PollIntervalMS <= 0 {
		return fmt.Errorf("poll_interval_ms must be > 0, got %d", c.Monitor.PollIntervalMS)
	}
	if c.Monitor.SettleDelayMS <= 0 {
		return fmt.Errorf("settle_delay_ms must be > 0, got %d", c.Monitor.SettleDelayMS)
	}
	if c.Monitor.GracePeriodMS <= 0 {
		return fmt.Errorf("grace_period_ms must be > 0, got %d", c.Monitor.GracePeriodMS)
	}

	if c.Delivery.RetryMax < 0 {
		return fmt.Errorf("retry_max must be >= 0, got %d", c.Delivery.RetryMax)
	}
	if c.Delivery.TimeoutSeconds <= 0 {
		return fmt.Errorf("timeout_seconds must be > 0, got %d", c.Delivery.TimeoutSeconds)
	}
	if c.Delivery.FlushIntervalSeconds <= 0 {
		return fmt.Errorf("flush_interval_seconds must be > 0, got %d", c.Delivery.FlushIntervalSeconds)
	}

	if c.Spool.MaxReports <= 0 {
		return fmt.Errorf("max_reports must be > 0, got %d", c.Spool.MaxReports)
	}

	if _, err := report.CompileFilters(c.Privacy.Filters); err != nil {
		return fmt.Errorf("invalid privacy.filters: %w", err)
	}

	if _, ok := logger.LookupLevel(c.Log.Level); !ok {
		return fmt.Errorf("invalid log.level %q: must be one of %s", c.Log.Level, strings.Join(logger.LevelNames(), ", "))
	}

	return nil
}

// ///////////////////////////////////////////////
// Helpers
// ///////////////////////////////////////////////

// ShouldNotify reports whether reports from stage are delivered. An empty
// notify list delivers every stage.
func (c *Config) ShouldNotify(stage string) bool {
	if len(c.Collector.NotifyReleaseStages) == 0 {
		return true
	}
	return slices.Contains(c.Collector.NotifyReleaseStages, stage)
}

// PollInterval returns the polling wake interval.
func (m MonitorConfig) PollInterval() time.Duration {
	return time.Duration(m.PollIntervalMS) * time.Millisecond
}

// SettleDelay returns the pause between waking and notifying.
func (m MonitorConfig) SettleDelay() time.Duration {
	return time.Duration(m.SettleDelayMS) * time.Millisecond
}

// GracePeriod returns the pause after re-raising.
func (m MonitorConfig) GracePeriod() time.Duration {
	return time.Duration(m.GracePeriodMS) * time.Millisecond
}

// Timeout returns the per-attempt HTTP timeout.
func (d DeliveryConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutSeconds) * time.Second
}

// FlushInterval returns the spool polling interval.
func (d DeliveryConfig) FlushInterval() time.Duration {
	return time.Duration(d.FlushIntervalSeconds) * time.Second
}
