// Command hangprobe is a process that freezes on purpose. It installs the
// freeze handler, wedges its main goroutine, and waits for someone to send
// it SIGQUIT:
//
//	hangprobe &
//	kill -QUIT $!
//
// By default the report goes to freezewatchd. With -local the collector runs
// in-process and writes straight into the daemon's spool, with this
// process's goroutines attached.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"tools.zach/dev/freezewatch"
	"tools.zach/dev/freezewatch/internal/collector"
	"tools.zach/dev/freezewatch/internal/config"
	"tools.zach/dev/freezewatch/internal/host"
	"tools.zach/dev/freezewatch/internal/logger"
	"tools.zach/dev/freezewatch/internal/paths"
	"tools.zach/dev/freezewatch/internal/report"
)

func main() {
	dataDir := flag.String("data-dir", paths.DefaultDataDir().Root, "freezewatchd data directory")
	name := flag.String("app", "hangprobe", "Application name to report")
	appVersion := flag.String("app-version", "", "Application version to report")
	stage := flag.String("stage", "", "Release stage to report")
	local := flag.Bool("local", false, "Run the collector in this process")
	after := flag.Duration("after", 0, "Stay responsive this long before wedging")
	verbose := flag.Bool("v", false, "Log at debug level")
	flag.Parse()

	level := logger.LevelInfo
	if *verbose {
		level = logger.LevelDebug
	}
	slog.SetDefault(slog.New(logger.NewHandler(os.Stderr, level)))

	dir := paths.DataDir{Root: *dataDir}
	app := freezewatch.AppInfo{Name: *name, Version: *appVersion, ReleaseStage: *stage}

	opts, legacy, err := freezewatch.LoadOptions(dir.Root)
	if err != nil {
		slog.Warn("using default freeze watchdog timing", "error", err)
	}
	freezewatch.Configure(opts)

	rt, target, err := runtimeFor(dir, app, *local)
	if err != nil {
		logger.Fail(slog.Default(), "cannot set up collector", "error", err)
		os.Exit(1)
	}
	freezewatch.Install(rt, target, legacy)

	fmt.Fprintf(os.Stderr, "pid %d: send SIGQUIT (kill -QUIT %d) once frozen\n", os.Getpid(), os.Getpid())
	if *after > 0 {
		time.Sleep(*after)
	}
	wedge()
}

// runtimeFor returns the runtime and collector to install: the daemon's
// reporter by name, or a reporter pinned in a local runtime.
func runtimeFor(dir paths.DataDir, app freezewatch.AppInfo, local bool) (freezewatch.Runtime, any, error) {
	if !local {
		return freezewatch.ConnectAt(app, host.DefaultAddress(dir)), freezewatch.DaemonCollector, nil
	}

	cfg, err := config.Load(dir.Root)
	if err != nil {
		return nil, nil, err
	}
	filters, err := report.CompileFilters(cfg.Privacy.Filters)
	if err != nil {
		return nil, nil, err
	}
	spool, err := collector.NewSpool(dir.Spool(), cfg.Spool.MaxReports)
	if err != nil {
		return nil, nil, err
	}
	r := collector.NewReporter(spool, collector.ReporterOptions{
		App:                 app,
		APIKey:              cfg.Collector.APIKey,
		DefaultReleaseStage: cfg.Collector.ReleaseStage,
		DefaultAppVersion:   cfg.Collector.AppVersion,
		Filters:             filters,
		CaptureStacks:       true,
	})
	r.LeaveBreadcrumb("hangprobe started", "process", map[string]string{"pid": fmt.Sprint(os.Getpid())})
	r.AddMetadata("hangprobe", "local", true)
	return freezewatch.NewLocal(), r, nil
}

// wedge blocks the main goroutine on a lock a worker never releases.
func wedge() {
	var mu sync.Mutex
	held := make(chan struct{})
	go func() {
		mu.Lock()
		close(held)
		for {
			time.Sleep(time.Hour)
		}
	}()
	<-held
	slog.Info("main goroutine wedged")
	mu.Lock()
}
