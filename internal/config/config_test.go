// Tests for the config package covering [Load] behavior (defaults, overrides,
// missing files, malformed input, migration), validation ([Config.Validate]),
// release-stage gating ([Config.ShouldNotify]), serialization round-trips
// ([Config.Save]), and [ConfigDocs] completeness.

package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/BurntSushi/toml"

	"tools.zach/dev/freezewatch/internal/migrate"
)

// ///////////////////////////////////////////////
// Load
// ///////////////////////////////////////////////

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		config  string
		noFile  bool // if true, skip writing a config file
		wantErr bool
		check   func(t *testing.T, cfg *Config)
	}{
		{
			name:   "defaults from minimal config",
			config: "version = 1\n",
			check: func(t *testing.T, cfg *Config) {
				t.Helper()
				def := DefaultConfig()
				if cfg.Collector.Endpoint != def.Collector.Endpoint {
					t.Errorf("Endpoint = %q, want %q", cfg.Collector.Endpoint, def.Collector.Endpoint)
				}
				if cfg.Monitor.PollIntervalMS != 100 {
					t.Errorf("PollIntervalMS = %d, want 100", cfg.Monitor.PollIntervalMS)
				}
				if cfg.Monitor.GracePeriodMS != 2000 {
					t.Errorf("GracePeriodMS = %d, want 2000", cfg.Monitor.GracePeriodMS)
				}
			},
		},
		{
			name: "user overrides applied",
			config: `
version = 1

[collector]
endpoint = "http://localhost:9000/events"
api_key = "abc123"

[monitor]
poll_interval_ms = 50
legacy_mode = true
`,
			check: func(t *testing.T, cfg *Config) {
				t.Helper()
				if cfg.Collector.Endpoint != "http://localhost:9000/events" {
					t.Errorf("Endpoint = %q", cfg.Collector.Endpoint)
				}
				if cfg.Collector.APIKey != "abc123" {
					t.Errorf("APIKey = %q, want %q", cfg.Collector.APIKey, "abc123")
				}
				if cfg.Monitor.PollIntervalMS != 50 {
					t.Errorf("PollIntervalMS = %d, want 50", cfg.Monitor.PollIntervalMS)
				}
				if !cfg.Monitor.LegacyMode {
					t.Error("LegacyMode = false, want true")
				}
			},
		},
		{
			name: "partial override preserves other defaults",
			config: `
version = 1

[privacy]
filters = ["secret", "metaData/**/token"]
`,
			check: func(t *testing.T, cfg *Config) {
				t.Helper()
				if len(cfg.Privacy.Filters) != 2 || cfg.Privacy.Filters[1] != "metaData/**/token" {
					t.Errorf("Filters = %v", cfg.Privacy.Filters)
				}
				def := DefaultConfig()
				if cfg.Spool.MaxReports != def.Spool.MaxReports {
					t.Errorf("MaxReports = %d, want default %d", cfg.Spool.MaxReports, def.Spool.MaxReports)
				}
				if cfg.Collector.ReleaseStage != "production" {
					t.Errorf("ReleaseStage = %q, want default production", cfg.Collector.ReleaseStage)
				}
			},
		},
		{
			name:   "missing file returns defaults",
			noFile: true,
			check: func(t *testing.T, cfg *Config) {
				t.Helper()
				def := DefaultConfig()
				if cfg.Version != def.Version {
					t.Errorf("Version = %d, want %d", cfg.Version, def.Version)
				}
			},
		},
		{
			name:    "malformed TOML returns error",
			config:  "this is not valid toml [[[",
			wantErr: true,
		},
		{
			name:    "invalid value fails validation",
			config:  "version = 1\n[spool]\nmax_reports = 0\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			if !tt.noFile {
				writeConfig(t, dir, tt.config)
			}

			cfg, err := Load(dir)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

// ///////////////////////////////////////////////
// Migration integration
// ///////////////////////////////////////////////

func TestLoad_Migration(t *testing.T) {
	tests := []struct {
		name        string
		config      string
		wantVersion int
	}{
		{
			name:        "missing version is treated as current",
			config:      "[collector]\napi_key = \"test\"\n",
			wantVersion: 1,
		},
		{
			name:        "skips migration when current",
			config:      "version = 1",
			wantVersion: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeConfig(t, dir, tt.config)

			cfg, err := Load(dir)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if cfg.Version != tt.wantVersion {
				t.Errorf("Version = %d, want %d", cfg.Version, tt.wantVersion)
			}
			if _, err := os.Stat(filepath.Join(dir, "config.toml.bak")); !os.IsNotExist(err) {
				t.Errorf("unexpected backup for a current config (stat err = %v)", err)
			}
		})
	}
}

func TestLoad_MigrationUpgradesAndBacksUp(t *testing.T) {
	withConfigRegistry(t, 2, []migrate.Migration{{
		Version:     2,
		Description: "rename collector.url to collector.endpoint",
		Upgrade: func(data []byte) ([]byte, error) {
			return bytes.Replace(data, []byte("url ="), []byte("endpoint ="), 1), nil
		},
	}})

	dir := t.TempDir()
	old := "version = 1\n[collector]\nurl = \"http://127.0.0.1:1/events\"\n"
	writeConfig(t, dir, old)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Version != 2 {
		t.Errorf("Version = %d, want 2", cfg.Version)
	}
	if cfg.Collector.Endpoint != "http://127.0.0.1:1/events" {
		t.Errorf("Endpoint = %q, want migrated value", cfg.Collector.Endpoint)
	}

	bak, err := os.ReadFile(filepath.Join(dir, "config.toml.bak"))
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}
	if string(bak) != old {
		t.Errorf("backup = %q, want original content", bak)
	}

	saved, err := os.ReadFile(filepath.Join(dir, "config.toml"))
	if err != nil {
		t.Fatalf("read saved: %v", err)
	}
	if PeekVersion(saved) != 2 {
		t.Errorf("saved version = %d, want 2", PeekVersion(saved))
	}
}

func TestLoad_DevTransform(t *testing.T) {
	prev := migrate.Config.Dev
	t.Cleanup(func() { migrate.Config.Dev = prev })
	migrate.Config.Dev = []migrate.Migration{{
		Description: "force debug logging",
		Upgrade: func(data []byte) ([]byte, error) {
			return append(data, []byte("\n[log]\nlevel = \"debug\"\n")...), nil
		},
	}}

	dir := t.TempDir()
	writeConfig(t, dir, "version = 1\n")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Level = %q, want debug", cfg.Log.Level)
	}
}

func TestLoad_MigrationFailure(t *testing.T) {
	withConfigRegistry(t, 2, []migrate.Migration{{
		Version:     2,
		Description: "always fails",
		Upgrade: func([]byte) ([]byte, error) {
			return nil, os.ErrInvalid
		},
	}})

	dir := t.TempDir()
	writeConfig(t, dir, "version = 1\n")
	if _, err := Load(dir); err == nil {
		t.Fatal("expected migration error, got nil")
	}
}

func TestLoad_NewerVersionRefused(t *testing.T) {
	dir := t.TempDir()
	newer := "version = 99\n[collector]\napi_key = \"keep\"\n"
	writeConfig(t, dir, newer)

	_, err := Load(dir)
	if !errors.Is(err, migrate.ErrTooNew) {
		t.Fatalf("Load() error = %v, want migrate.ErrTooNew", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "config.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != newer {
		t.Errorf("newer config was rewritten: %q", data)
	}
}

// ///////////////////////////////////////////////
// PeekVersion
// ///////////////////////////////////////////////

func TestPeekVersion(t *testing.T) {
	tests := []struct {
		name string
		data string
		want int
	}{
		{
			name: "reads version from TOML",
			data: "version = 3\n[collector]\napi_key = \"test\"\n",
			want: 3,
		},
		{
			name: "missing version returns 1",
			data: "[collector]\napi_key = \"test\"\n",
			want: 1,
		},
		{
			name: "malformed returns 1",
			data: "[[[",
			want: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PeekVersion([]byte(tt.data))
			if got != tt.want {
				t.Errorf("PeekVersion() = %d, want %d", got, tt.want)
			}
		})
	}
}

// ///////////////////////////////////////////////
// ExampleConfig
// ///////////////////////////////////////////////

func TestExampleConfig(t *testing.T) {
	cfg := ExampleConfig()
	if cfg.Version != 1 {
		t.Errorf("Version = %d, want 1", cfg.Version)
	}
	if len(cfg.Collector.NotifyReleaseStages) == 0 {
		t.Error("expected example notify_release_stages")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("ExampleConfig does not validate: %v", err)
	}
	var buf strings.Builder
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		t.Fatalf("failed to marshal ExampleConfig: %v", err)
	}
}

// ///////////////////////////////////////////////
// ConfigDocs completeness
// ///////////////////////////////////////////////

// TestConfigDocsComplete encodes a fully populated config and requires a
// doc entry for every value written, and a written key for every doc entry.
func TestConfigDocsComplete(t *testing.T) {
	cfg := ExampleConfig()
	cfg.Collector.AppVersion = "1.0.0" // omitempty

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		t.Fatal(err)
	}
	md, err := toml.Decode(buf.String(), new(Config))
	if err != nil {
		t.Fatal(err)
	}

	// Sections may carry a doc entry but need not.
	written := make(map[string]bool)
	for _, key := range md.Keys() {
		written[key.String()] = true
		if md.Type(key...) == "Hash" {
			continue
		}
		if _, ok := ConfigDocs[key.String()]; !ok {
			t.Errorf("ConfigDocs missing entry for %q", key)
		}
	}
	for key := range ConfigDocs {
		if !written[key] {
			t.Errorf("ConfigDocs documents %q, which the config never writes", key)
		}
	}
}

// ///////////////////////////////////////////////
// Marshal field order
// ///////////////////////////////////////////////

func TestConfigMarshalFieldOrder(t *testing.T) {
	var buf strings.Builder
	if err := toml.NewEncoder(&buf).Encode(DefaultConfig()); err != nil {
		t.Fatalf("marshal: %v", err)
	}
	out := buf.String()

	order := []string{"version", "[collector]", "[monitor]", "[delivery]", "[spool]", "[privacy]", "[log]"}
	for i := 1; i < len(order); i++ {
		bIdx := strings.Index(out, order[i-1])
		aIdx := strings.Index(out, order[i])
		if bIdx < 0 || aIdx < 0 || bIdx > aIdx {
			t.Errorf("expected %q before %q in marshaled output", order[i-1], order[i])
		}
	}
}

// ///////////////////////////////////////////////
// Save
// ///////////////////////////////////////////////

func TestConfig_Save_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	orig := DefaultConfig()
	orig.Collector.APIKey = "round-trip-test"
	orig.Collector.NotifyReleaseStages = []string{"beta"}
	orig.Delivery.RetryMax = 7

	if err := orig.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Collector.APIKey != orig.Collector.APIKey {
		t.Errorf("APIKey = %q, want %q", loaded.Collector.APIKey, orig.Collector.APIKey)
	}
	if !reflect.DeepEqual(loaded.Collector.NotifyReleaseStages, []string{"beta"}) {
		t.Errorf("NotifyReleaseStages = %v, want [beta]", loaded.Collector.NotifyReleaseStages)
	}
	if loaded.Delivery.RetryMax != 7 {
		t.Errorf("RetryMax = %d, want 7", loaded.Delivery.RetryMax)
	}
}

// ///////////////////////////////////////////////
// Validate
// ///////////////////////////////////////////////

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(cfg *Config)
		wantErr bool
	}{
		{name: "default config passes", setup: func(cfg *Config) {}},
		{name: "empty endpoint passes", setup: func(cfg *Config) { cfg.Collector.Endpoint = "" }},
		{name: "http endpoint passes", setup: func(cfg *Config) { cfg.Collector.Endpoint = "http://localhost:8080/e" }},
		{name: "endpoint without scheme", setup: func(cfg *Config) { cfg.Collector.Endpoint = "localhost:8080" }, wantErr: true},
		{name: "ftp endpoint", setup: func(cfg *Config) { cfg.Collector.Endpoint = "ftp://example.com/x" }, wantErr: true},
		{name: "poll_interval_ms = 0", setup: func(cfg *Config) { cfg.Monitor.PollIntervalMS = 0 }, wantErr: true},
		{name: "settle_delay_ms = 0", setup: func(cfg *Config) { cfg.Monitor.SettleDelayMS = 0 }, wantErr: true},
		{name: "negative settle_delay_ms", setup: func(cfg *Config) { cfg.Monitor.SettleDelayMS = -1 }, wantErr: true},
		{name: "grace_period_ms = 0", setup: func(cfg *Config) { cfg.Monitor.GracePeriodMS = 0 }, wantErr: true},
		{name: "negative retry_max", setup: func(cfg *Config) { cfg.Delivery.RetryMax = -1 }, wantErr: true},
		{name: "timeout_seconds = 0", setup: func(cfg *Config) { cfg.Delivery.TimeoutSeconds = 0 }, wantErr: true},
		{name: "flush_interval_seconds = 0", setup: func(cfg *Config) { cfg.Delivery.FlushIntervalSeconds = 0 }, wantErr: true},
		{name: "max_reports = 0", setup: func(cfg *Config) { cfg.Spool.MaxReports = 0 }, wantErr: true},
		{name: "glob filter passes", setup: func(cfg *Config) { cfg.Privacy.Filters = []string{"metaData/*/token"} }},
		{name: "malformed glob filter", setup: func(cfg *Config) { cfg.Privacy.Filters = []string{"metaData/[abc"} }, wantErr: true},
		{name: "invalid log.level", setup: func(cfg *Config) { cfg.Log.Level = "verbose" }, wantErr: true},
		{name: "uppercase log.level passes", setup: func(cfg *Config) { cfg.Log.Level = "DEBUG" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.setup(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// ///////////////////////////////////////////////
// Helpers
// ///////////////////////////////////////////////

func TestConfig_ShouldNotify(t *testing.T) {
	tests := []struct {
		name   string
		stages []string
		stage  string
		want   bool
	}{
		{name: "empty list notifies all", stages: nil, stage: "development", want: true},
		{name: "listed stage", stages: []string{"production", "beta"}, stage: "beta", want: true},
		{name: "unlisted stage", stages: []string{"production"}, stage: "development", want: false},
		{name: "case sensitive", stages: []string{"production"}, stage: "Production", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Collector.NotifyReleaseStages = tt.stages
			if got := cfg.ShouldNotify(tt.stage); got != tt.want {
				t.Errorf("ShouldNotify(%q) = %v, want %v", tt.stage, got, tt.want)
			}
		})
	}
}

func TestDurations(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.Monitor.PollInterval(); got != 100*time.Millisecond {
		t.Errorf("PollInterval = %v", got)
	}
	if got := cfg.Monitor.SettleDelay(); got != 10*time.Millisecond {
		t.Errorf("SettleDelay = %v", got)
	}
	if got := cfg.Monitor.GracePeriod(); got != 2*time.Second {
		t.Errorf("GracePeriod = %v", got)
	}
	if got := cfg.Delivery.Timeout(); got != 15*time.Second {
		t.Errorf("Timeout = %v", got)
	}
	if got := cfg.Delivery.FlushInterval(); got != 30*time.Second {
		t.Errorf("FlushInterval = %v", got)
	}
}

// writeConfig writes a TOML config string to config.toml in dir for use
// by [Load] in test cases.
func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write test config: %v", err)
	}
}

// withConfigRegistry swaps the config migration registry for the duration
// of the test.
func withConfigRegistry(t *testing.T, version int, migrations []migrate.Migration) {
	t.Helper()
	prevVersion, prevMigrations := migrate.Config.CurrentVersion, migrate.Config.Migrations
	t.Cleanup(func() {
		migrate.Config.CurrentVersion = prevVersion
		migrate.Config.Migrations = prevMigrations
	})
	migrate.Config.CurrentVersion = version
	migrate.Config.Migrations = migrations
}
