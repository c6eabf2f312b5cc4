package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"tools.zach/dev/freezewatch/internal/collector"
	"tools.zach/dev/freezewatch/internal/config"
	"tools.zach/dev/freezewatch/internal/host"
	"tools.zach/dev/freezewatch/internal/paths"
	"tools.zach/dev/freezewatch/internal/report"
)

// ///////////////////////////////////////////////
// Daemon
// ///////////////////////////////////////////////

// flushTimeout bounds one pass over the spool.
const flushTimeout = 2 * time.Minute

// daemon wires the collector pieces for one data directory.
type daemon struct {
	dir       paths.DataDir
	cfg       *config.Config
	filters   []report.Filter
	spool     *collector.Spool
	deliverer *collector.Deliverer
	server    *collector.Server
	registry  *prometheus.Registry
	metrics   *collector.Metrics
	started   time.Time

	// flushMu keeps the run loop and the admin endpoint from delivering
	// the same report twice.
	flushMu sync.Mutex
}

// newDaemon builds the spool, deliverer, and server described by cfg.
func newDaemon(dir paths.DataDir, cfg *config.Config) (*daemon, error) {
	filters, err := report.CompileFilters(cfg.Privacy.Filters)
	if err != nil {
		return nil, fmt.Errorf("privacy filters: %w", err)
	}
	spool, err := collector.NewSpool(dir.Spool(), cfg.Spool.MaxReports)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	d := &daemon{
		dir:      dir,
		cfg:      cfg,
		filters:  filters,
		spool:    spool,
		registry: reg,
		metrics:  collector.NewMetrics(reg, spool),
		started:  time.Now(),
		deliverer: collector.NewDeliverer(collector.DeliveryOptions{
			Endpoint:     cfg.Collector.Endpoint,
			RetryMax:     cfg.Delivery.RetryMax,
			Timeout:      cfg.Delivery.Timeout(),
			ShouldNotify: cfg.ShouldNotify,
		}),
	}
	d.server = collector.NewServer(d.newReporter, d.metrics)
	return d, nil
}

// newReporter creates the reporter for a process that just said hello.
func (d *daemon) newReporter(hello host.Hello) *collector.Reporter {
	slog.Info("monitored process connected",
		"pid", hello.PID, "app", hello.App.Name, "version", hello.App.Version)
	return collector.NewReporter(d.spool, collector.ReporterOptions{
		App:                 hello.App,
		PID:                 hello.PID,
		APIKey:              d.cfg.Collector.APIKey,
		DefaultReleaseStage: d.cfg.Collector.ReleaseStage,
		DefaultAppVersion:   d.cfg.Collector.AppVersion,
		Filters:             d.filters,
		Metrics:             d.metrics,
	})
}

// flush delivers what is spooled. Failures are logged; the next change or
// tick tries again.
func (d *daemon) flush(ctx context.Context) (collector.FlushResult, error) {
	d.flushMu.Lock()
	defer d.flushMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()

	start := time.Now()
	res, err := d.deliverer.Flush(ctx, d.spool)
	d.metrics.ObserveFlush(res, time.Since(start), err)
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("report delivery interrupted", "error", err, "sent", res.Sent)
	}
	if res.Sent+res.Dropped+res.Held > 0 {
		slog.Debug("spool flushed", "sent", res.Sent, "dropped", res.Dropped, "held", res.Held)
	}
	return res, err
}

// tick is the periodic housekeeping pass.
func (d *daemon) tick(ctx context.Context) {
	if n := d.server.Prune(); n > 0 {
		slog.Info("released exited processes", "count", n)
	}
	d.flush(ctx)
}

// run serves ln (and admin, when non-nil) and keeps the spool flushed until
// ctx is done, then closes the servers.
func (d *daemon) run(ctx context.Context, ln net.Listener, admin net.Listener) error {
	watcher, err := collector.NewWatcher(d.spool.Dir(), d.cfg.Delivery.FlushInterval())
	if err != nil {
		return fmt.Errorf("watch spool: %w", err)
	}
	defer watcher.Close()
	if watcher.Polling() {
		slog.Info("using polling mode for spool watching")
	}

	serveErr := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("collector server panic", "error", r)
				serveErr <- fmt.Errorf("server panic: %v", r)
			}
		}()
		serveErr <- d.server.Serve(ln)
	}()

	var adminSrv *http.Server
	if admin != nil {
		adminSrv = &http.Server{
			Handler:           d.adminRouter(ctx),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := adminSrv.Serve(admin); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("admin server stopped", "error", err)
			}
		}()
		slog.Info("admin endpoint listening", "address", admin.Addr().String())
	}
	defer func() {
		if adminSrv == nil {
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := adminSrv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("closing admin server", "error", err)
		}
	}()

	ticker := time.NewTicker(d.cfg.Delivery.FlushInterval())
	defer ticker.Stop()

	d.flush(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("received shutdown signal")
			if err := d.server.Close(); err != nil {
				slog.Warn("closing collector server", "error", err)
			}
			return <-serveErr

		case err := <-serveErr:
			d.server.Close()
			return err

		case <-watcher.Events():
			d.flush(ctx)

		case <-ticker.C:
			d.tick(ctx)
		}
	}
}
