package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds process-level metrics for the kernel CLI. Kernel-internal
// counters live in internal/kernel/metrics.
type Metrics struct {
	JournalEntries prometheus.Counter
	ReplayDuration prometheus.Histogram
	Divergences    prometheus.Counter
}

// New creates the process metrics registered with reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		JournalEntries: f.NewCounter(prometheus.CounterOpts{
			Name: "akernel_journal_entries_total",
			Help: "Total number of kernel outputs written to the journal",
		}),
		ReplayDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "akernel_replay_duration_seconds",
			Help:    "Wall time to replay an event log",
			Buckets: prometheus.DefBuckets,
		}),
		Divergences: f.NewCounter(prometheus.CounterOpts{
			Name: "akernel_replay_divergences_total",
			Help: "Total number of verifications whose state hash chains diverged",
		}),
	}
}

func (m *Metrics) AddJournalEntries(n int) {
	if m == nil {
		return
	}
	m.JournalEntries.Add(float64(n))
}

func (m *Metrics) ObserveReplay(d time.Duration) {
	if m == nil {
		return
	}
	m.ReplayDuration.Observe(d.Seconds())
}

func (m *Metrics) IncrementDivergences() {
	if m == nil {
		return
	}
	m.Divergences.Inc()
}

// WriteTextfile dumps everything g gathers to path in the Prometheus text
// format, for node_exporter's textfile collector.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
