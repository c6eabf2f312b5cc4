package config

// ///////////////////////////////////////////////
// Documentation Types
// ///////////////////////////////////////////////

// FieldDoc holds documentation and alternative examples for a single config field.
// The genconfig tool uses [FieldDoc] values to annotate the generated config.default.toml.
type FieldDoc struct {
	// Comment is shown as a header comment above the field in the example config.
	Comment string

	// Alternatives are shown as commented-out lines below the active value.
	Alternatives []string
}

// ///////////////////////////////////////////////
// Field Documentation Map
// ///////////////////////////////////////////////

// ConfigDocs maps TOML field paths (dot-separated, e.g. "monitor.poll_interval_ms")
// to their [FieldDoc] entries.
var ConfigDocs = map[string]FieldDoc{
	// ── Root ──────────────────────────────────────────────────────
	"version": {
		Comment: "Config schema version. Do not edit.",
	},

	// ── Collector ────────────────────────────────────────────────
	"collector.endpoint": {
		Comment: "Where freeze reports are POSTed. Leave empty to keep reports in the spool only.",
		Alternatives: []string{
			`endpoint = "http://localhost:8080/events"`,
		},
	},
	"collector.api_key": {
		Comment: "API key sent with every report in the Freezewatch-Api-Key header.",
	},
	"collector.release_stage": {
		Comment: "Release stage for apps that do not report their own.",
		Alternatives: []string{
			`release_stage = "development"`,
		},
	},
	"collector.notify_release_stages": {
		Comment: "Only deliver reports from these release stages. Empty delivers every stage.\nReports from other stages are still spooled.",
	},
	"collector.app_version": {
		Comment: "App version for apps that do not report their own.",
		Alternatives: []string{
			`app_version = "1.4.0"`,
		},
	},

	// ── Monitor ──────────────────────────────────────────────────
	"monitor.poll_interval_ms": {
		Comment: "How often the watchdog checks for a freeze when no semaphore is available (ms).",
	},
	"monitor.settle_delay_ms": {
		Comment: "Pause between the freeze signal and notifying the collector (ms).",
	},
	"monitor.grace_period_ms": {
		Comment: "Time given to the runtime's own SIGQUIT dump after re-raising (ms).",
	},
	"monitor.legacy_mode": {
		Comment: "Accepted for compatibility. Has no effect.",
	},

	// ── Delivery ─────────────────────────────────────────────────
	"delivery.retry_max": {
		Comment: "Retries after the first failed delivery attempt.",
	},
	"delivery.timeout_seconds": {
		Comment: "Timeout for each delivery attempt (seconds).",
	},
	"delivery.flush_interval_seconds": {
		Comment: "How often to rescan the spool (seconds). fsnotify is primary,\nthis is the fallback interval.",
	},

	// ── Spool ────────────────────────────────────────────────────
	"spool.max_reports": {
		Comment: "Maximum reports kept on disk. The oldest are dropped first.",
	},

	// ── Privacy ──────────────────────────────────────────────────
	"privacy.filters": {
		Comment: "Metadata to replace with [FILTERED] before a report is stored.\nPlain entries match any key containing them; globs match the metadata path,\ne.g. \"metaData/user/**/token\".",
		Alternatives: []string{
			`filters = ["password", "secret", "metaData/**/token"]`,
		},
	},

	// ── Log ──────────────────────────────────────────────────────
	"log": {
		Comment: "Logging configuration",
	},
	"log.level": {
		Comment: "Minimum log level. Options: \"trace\", \"debug\", \"info\", \"warn\", \"error\"",
		Alternatives: []string{
			`level = "debug"`,
			`level = "warn"`,
		},
	},
	"log.max_size_mb": {
		Comment: "Maximum log file size in megabytes before rotation.",
	},
}
