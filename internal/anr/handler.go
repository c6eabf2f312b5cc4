package anr

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"tools.zach/dev/freezewatch/internal/host"
)

// ///////////////////////////////////////////////
// Handler
// ///////////////////////////////////////////////

// Handler guards installation of the freeze machinery.
//
// installed flips to true at most once and only after the collector binds.
// enabled follows the most recent Install or Uninstall call and is read
// lock-free by the watchdog.
type Handler struct {
	// mu guards installed, opts and the install-time fields below. It is
	// never held across a blocking call.
	mu        sync.Mutex
	opts      Options
	installed bool
	enabled   atomic.Bool

	binding *host.Binding
	ic      *interceptor
	wake    *wake
	done    chan struct{}
}

// New creates a Handler. Most callers want [Default].
func New(opts Options) *Handler {
	return &Handler{opts: opts.withDefaults()}
}

// Configure replaces the handler's options. It returns false, leaving the
// options unchanged, once the handler is installed.
func (h *Handler) Configure(opts Options) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.installed {
		return false
	}
	if opts.signals == nil {
		opts.signals = h.opts.signals
	}
	if opts.newSemaphore == nil {
		opts.newSemaphore = h.opts.newSemaphore
	}
	h.opts = opts.withDefaults()
	return true
}

// Install binds collector in rt and arms the freeze handler, once. Every
// call enables reporting and returns true: setup failures are logged and
// leave the handler inert rather than failing the caller. A failed bind
// leaves the handler uninstalled so a later call may try again.
//
// legacyMode is accepted for compatibility and has no effect.
func (h *Handler) Install(rt host.Runtime, collector any, legacyMode bool) bool {
	_ = legacyMode

	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.installed {
		if err := h.install(rt, collector); err != nil {
			slog.Warn("freeze handler not installed", "error", err)
		} else {
			h.installed = true
		}
	}
	h.enabled.Store(true)
	return true
}

// install performs the one-time setup. The caller must hold h.mu.
func (h *Handler) install(rt host.Runtime, collector any) error {
	b, err := host.Bind(rt, collector)
	if err != nil {
		return fmt.Errorf("bind collector: %w", err)
	}
	h.binding = b

	h.wake = newWake(h.opts.newSemaphore, h.opts.PollInterval)
	h.ic = newInterceptor(h.opts.signals, h.wake.post)
	if err := h.ic.arm(); err != nil {
		// Structural setup was attempted; retrying cannot change the
		// platform, so the handler stays installed but unarmed.
		slog.Warn("freeze signal not intercepted", "error", err)
		return nil
	}

	h.done = make(chan struct{})
	wd := &watchdog{
		wake:    h.wake,
		ic:      h.ic,
		enabled: &h.enabled,
		notify:  b.NotifyFreeze,
		raise:   h.opts.signals.Raise,
		settle:  h.opts.SettleDelay,
		grace:   h.opts.GracePeriod,
		done:    h.done,
	}
	go wd.run()

	slog.Info("freeze handler installed",
		"wake", h.wake.strategy,
		"collector", b.Method().Name,
	)
	return nil
}

// Uninstall disables reporting. Signal state and the watchdog are left in
// place, so a report cycle already past its enabled check still completes.
// Calling it before Install, or repeatedly, is a no-op.
func (h *Handler) Uninstall() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.enabled.Store(false)
}

// Enabled reports whether freeze notifications are currently permitted.
func (h *Handler) Enabled() bool {
	return h.enabled.Load()
}

// Installed reports whether the one-time setup has completed.
func (h *Handler) Installed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.installed
}

// State reports the interceptor's progress.
func (h *Handler) State() State {
	h.mu.Lock()
	ic := h.ic
	h.mu.Unlock()
	if ic == nil {
		return Uninstalled
	}
	return ic.current()
}

// Strategy reports the wake strategy chosen at install. It is WakePolling
// before install.
func (h *Handler) Strategy() WakeStrategy {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.wake == nil {
		return WakePolling
	}
	return h.wake.strategy
}

// Done is closed when the watchdog finishes its report cycle. In a real
// process the re-raised signal usually ends the process first. Done returns
// nil when no watchdog was started.
func (h *Handler) Done() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.done
}
