// Package freezewatch reports application freezes.
//
// A frozen process is sent SIGQUIT by whoever noticed it stopped
// responding. Once [Install] has run, that signal first triggers a call to
// the collector's NotifyFreezeDetected method and is then handed back to the
// disposition that was in place before, so the usual goroutine dump and exit
// still happen.
//
// The collector normally lives in the freezewatchd daemon:
//
//	rt := freezewatch.Connect(freezewatch.AppInfo{Name: "myapp", Version: "1.2.0"})
//	freezewatch.Install(rt, freezewatch.DaemonCollector, false)
//
// or, for a collector in the same process, any value with a
// NotifyFreezeDetected() method pinned in a [Local] runtime.
package freezewatch

import (
	"fmt"
	"log/slog"
	"net"

	"tools.zach/dev/freezewatch/internal/anr"
	"tools.zach/dev/freezewatch/internal/collector"
	"tools.zach/dev/freezewatch/internal/config"
	"tools.zach/dev/freezewatch/internal/host"
	"tools.zach/dev/freezewatch/internal/paths"
)

// ///////////////////////////////////////////////
// Types
// ///////////////////////////////////////////////

type (
	// Runtime hosts the collector. See [Connect] and [NewLocal].
	Runtime = host.Runtime
	// AppInfo describes the monitored application to the daemon.
	AppInfo = host.AppInfo
	// Options tunes the watchdog timing.
	Options = anr.Options
	// Local is an in-process runtime.
	Local = host.Local
)

// DaemonCollector names the collector served by freezewatchd.
const DaemonCollector = collector.Name

// ///////////////////////////////////////////////
// Handler
// ///////////////////////////////////////////////

// Install binds collector in rt and arms the freeze handler. Only the first
// successful call installs anything; every call enables reporting and
// returns true. Setup failures are logged and leave freezes unreported, never
// the caller failed. legacyMode has no effect.
func Install(rt Runtime, collector any, legacyMode bool) bool {
	return anr.Default().Install(rt, collector, legacyMode)
}

// Uninstall disables reporting. The signal handling stays in place and
// still hands SIGQUIT back to the original disposition.
func Uninstall() {
	anr.Default().Uninstall()
}

// Configure sets the watchdog timing. It returns false once installed.
func Configure(opts Options) bool {
	return anr.Default().Configure(opts)
}

// ///////////////////////////////////////////////
// Runtimes
// ///////////////////////////////////////////////

// Connect returns a runtime that reaches freezewatchd at its default
// address. Nothing is dialed until the runtime is used.
func Connect(app AppInfo) Runtime {
	return ConnectAt(app, host.DefaultAddress(paths.DefaultDataDir()))
}

// ConnectAt is [Connect] for a daemon listening at addr (a socket path, or
// a pipe name on Windows).
func ConnectAt(app AppInfo, addr string) Runtime {
	return host.NewIPC(app, func() (net.Conn, error) {
		return host.DialCollector(addr)
	})
}

// NewLocal returns an empty in-process runtime.
func NewLocal() *Local {
	return host.NewLocal()
}

// ///////////////////////////////////////////////
// Configuration
// ///////////////////////////////////////////////

// LoadOptions reads the [monitor] section of dataDir/config.toml. It also
// returns the configured legacy_mode for passing to [Install].
func LoadOptions(dataDir string) (Options, bool, error) {
	cfg, err := config.Load(dataDir)
	if err != nil {
		return Options{}, false, fmt.Errorf("load config: %w", err)
	}
	return Options{
		PollInterval: cfg.Monitor.PollInterval(),
		SettleDelay:  cfg.Monitor.SettleDelay(),
		GracePeriod:  cfg.Monitor.GracePeriod(),
	}, cfg.Monitor.LegacyMode, nil
}

// Start reports freezes of this process to freezewatchd using the timing
// from the daemon's config. A config that cannot be read falls back to the
// default timing.
func Start(app AppInfo) bool {
	dir := paths.DefaultDataDir()
	opts, legacy, err := LoadOptions(dir.Root)
	if err != nil {
		slog.Warn("using default freeze watchdog timing", "error", err)
	}
	Configure(opts)
	return Install(ConnectAt(app, host.DefaultAddress(dir)), DaemonCollector, legacy)
}
