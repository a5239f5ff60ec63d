package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the kernel orchestrator. All methods are
// safe on a nil receiver so the kernel can run without metrics.
type Metrics struct {
	// Processed events by event type and outcome output type
	EventsProcessed *prometheus.CounterVec

	// Event-fatal and run-fatal failures by failure code
	EventFailures *prometheus.CounterVec

	// Gas consumed per event by event type
	GasConsumed *prometheus.HistogramVec

	ConflictsRegistered  prometheus.Counter
	AuthoritiesDestroyed prometheus.Counter
	AuthoritiesExpired   prometheus.Counter

	// Deadlock declarations by kind
	DeadlocksDeclared *prometheus.CounterVec

	// Current epoch
	Epoch prometheus.Gauge
}

// New creates kernel metrics registered with reg. Pass a fresh
// prometheus.NewRegistry() in tests to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EventsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "akernel_events_processed_total",
			Help: "Total events processed by event type and primary output type",
		}, []string{"event_type", "output_type"}),

		EventFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "akernel_event_failures_total",
			Help: "Events that failed as a whole, by failure code",
		}, []string{"failure"}),

		GasConsumed: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "akernel_gas_consumed",
			Help:    "Gas consumed per event by event type",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"event_type"}),

		ConflictsRegistered: f.NewCounter(prometheus.CounterOpts{
			Name: "akernel_conflicts_registered_total",
			Help: "Total conflicts registered",
		}),

		AuthoritiesDestroyed: f.NewCounter(prometheus.CounterOpts{
			Name: "akernel_authorities_destroyed_total",
			Help: "Total authorities voided by destructive resolution",
		}),

		AuthoritiesExpired: f.NewCounter(prometheus.CounterOpts{
			Name: "akernel_authorities_expired_total",
			Help: "Total authorities expired by epoch sweeps",
		}),

		DeadlocksDeclared: f.NewCounterVec(prometheus.CounterOpts{
			Name: "akernel_deadlocks_declared_total",
			Help: "Deadlock declarations by kind",
		}, []string{"kind"}),

		Epoch: f.NewGauge(prometheus.GaugeOpts{
			Name: "akernel_epoch",
			Help: "Current kernel epoch",
		}),
	}
}

// ObserveEvent records a processed event and its gas consumption.
func (m *Metrics) ObserveEvent(eventType, outputType string, gasConsumed int) {
	if m != nil {
		m.EventsProcessed.WithLabelValues(eventType, outputType).Inc()
		m.GasConsumed.WithLabelValues(eventType).Observe(float64(gasConsumed))
	}
}

// IncrementFailure records a failed event.
func (m *Metrics) IncrementFailure(failure string) {
	if m != nil {
		m.EventFailures.WithLabelValues(failure).Inc()
	}
}

// IncrementConflicts records a registered conflict.
func (m *Metrics) IncrementConflicts() {
	if m != nil {
		m.ConflictsRegistered.Inc()
	}
}

// AddDestroyed records voided authorities.
func (m *Metrics) AddDestroyed(n int) {
	if m != nil {
		m.AuthoritiesDestroyed.Add(float64(n))
	}
}

// AddExpired records expired authorities.
func (m *Metrics) AddExpired(n int) {
	if m != nil {
		m.AuthoritiesExpired.Add(float64(n))
	}
}

// IncrementDeadlock records a deadlock declaration.
func (m *Metrics) IncrementDeadlock(kind string) {
	if m != nil {
		m.DeadlocksDeclared.WithLabelValues(kind).Inc()
	}
}

// SetEpoch records the current epoch.
func (m *Metrics) SetEpoch(epoch uint64) {
	if m != nil {
		m.Epoch.Set(float64(epoch))
	}
}
