package collector

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ///////////////////////////////////////////////
// Metrics
// ///////////////////////////////////////////////

const metricsNamespace = "freezewatch"

// Delivery outcomes, as the "outcome" label of the delivered counter.
const (
	OutcomeSent    = "sent"
	OutcomeDropped = "dropped"
)

// Metrics counts collector activity. A nil *Metrics records nothing, so
// components built without one need no checks.
type Metrics struct {
	sessions  prometheus.Counter
	spooled   prometheus.Counter
	processes prometheus.Gauge
	delivered *prometheus.CounterVec
	held      prometheus.Gauge
	flushes   prometheus.Histogram
}

// NewMetrics registers the collector metrics with reg. When spool is non-nil
// its depth is exported as a gauge read at scrape time.
func NewMetrics(reg prometheus.Registerer, spool *Spool) *Metrics {
	m := &Metrics{
		sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_total",
			Help:      "Monitored process sessions accepted by the daemon.",
		}),
		spooled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reports_spooled_total",
			Help:      "Freeze reports written to the spool.",
		}),
		processes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "monitored_processes",
			Help:      "Monitored processes currently holding a reporter.",
		}),
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reports_delivered_total",
			Help:      "Spooled reports removed by delivery, by outcome.",
		}, []string{"outcome"}),
		held: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "reports_held",
			Help:      "Reports kept back by release stage at the last complete flush.",
		}),
		flushes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "flush_duration_seconds",
			Help:      "Time spent delivering the spool in one pass.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
	}
	for _, o := range []string{OutcomeSent, OutcomeDropped} {
		m.delivered.WithLabelValues(o)
	}
	reg.MustRegister(m.sessions, m.spooled, m.processes, m.delivered, m.held, m.flushes)

	if spool != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "spool_reports",
			Help:      "Reports waiting in the spool.",
		}, func() float64 {
			names, err := spool.List()
			if err != nil {
				return 0
			}
			return float64(len(names))
		}))
	}
	return m
}

// ObserveFlush records one delivery pass that ended with err. Held reports
// stay in the spool and are seen again by every pass, so they set a gauge,
// and only when the pass walked the whole spool.
func (m *Metrics) ObserveFlush(res FlushResult, took time.Duration, err error) {
	if m == nil {
		return
	}
	m.delivered.WithLabelValues(OutcomeSent).Add(float64(res.Sent))
	m.delivered.WithLabelValues(OutcomeDropped).Add(float64(res.Dropped))
	if err == nil {
		m.held.Set(float64(res.Held))
	}
	m.flushes.Observe(took.Seconds())
}

func (m *Metrics) sessionOpened() {
	if m != nil {
		m.sessions.Inc()
	}
}

func (m *Metrics) reportSpooled() {
	if m != nil {
		m.spooled.Inc()
	}
}

func (m *Metrics) setProcesses(n int) {
	if m != nil {
		m.processes.Set(float64(n))
	}
}
