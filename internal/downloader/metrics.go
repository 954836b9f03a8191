package downloader

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "mediaqueue"
	metricsSubsystem = "scheduler"
)

// Metrics holds the scheduler's Prometheus collectors. A nil *Metrics is a
// valid no-op.
type Metrics struct {
	ActiveWorkers  prometheus.Gauge
	Promotions     prometheus.Counter
	Finished       *prometheus.CounterVec
	CancelTimeouts prometheus.Counter
	ProgressTicks  prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ActiveWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "active_workers",
			Help:      "Workers currently running a transfer",
		}),
		Promotions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "promotions_total",
			Help:      "Pending jobs promoted to downloading",
		}),
		Finished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "jobs_finished_total",
			Help:      "Transfers that ended, by final job status",
		}, []string{"status"}),
		CancelTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "cancel_timeouts_total",
			Help:      "Workers that did not acknowledge cancellation in time",
		}),
		ProgressTicks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "progress_ticks_total",
			Help:      "Progress reports forwarded to the task store",
		}),
	}
}

func (m *Metrics) workerStarted() {
	if m != nil {
		m.ActiveWorkers.Inc()
	}
}

func (m *Metrics) workerStopped() {
	if m != nil {
		m.ActiveWorkers.Dec()
	}
}

func (m *Metrics) promoted() {
	if m != nil {
		m.Promotions.Inc()
	}
}

func (m *Metrics) finished(status string) {
	if m != nil {
		m.Finished.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) cancelTimedOut() {
	if m != nil {
		m.CancelTimeouts.Inc()
	}
}

func (m *Metrics) tick() {
	if m != nil {
		m.ProgressTicks.Inc()
	}
}
