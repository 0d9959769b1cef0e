package observability

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	escrowMetricsOnce sync.Once
	escrowRegistry    *EscrowMetrics
)

// ModuleMetrics returns the lazily-initialised registry used to record
// JSON-RPC module activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "gig",
				Subsystem: "module",
				Name:      "requests_total",
				Help:      "Total JSON-RPC module requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "gig",
				Subsystem: "module",
				Name:      "errors_total",
				Help:      "Total JSON-RPC module errors segmented by module, method, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "gig",
				Subsystem: "module",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC module handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a module request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// EscrowMetrics tracks fund-custody activity across the escrow and
// arbitration engines.
type EscrowMetrics struct {
	jobsCreated    *prometheus.CounterVec
	settlements    *prometheus.CounterVec
	disputesOpened *prometheus.CounterVec
	bondsPosted    prometheus.Counter
	stuckCases     prometheus.Gauge
}

// Escrow returns the singleton registry for escrow activity metrics.
func Escrow() *EscrowMetrics {
	escrowMetricsOnce.Do(func() {
		escrowRegistry = &EscrowMetrics{
			jobsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "gig",
				Subsystem: "escrow",
				Name:      "jobs_created_total",
				Help:      "Count of escrow engagements created, segmented by kind.",
			}, []string{"kind"}),
			settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "gig",
				Subsystem: "escrow",
				Name:      "settlements_total",
				Help:      "Count of terminal payouts segmented by path.",
			}, []string{"path"}),
			disputesOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "gig",
				Subsystem: "escrow",
				Name:      "disputes_opened_total",
				Help:      "Count of disputes handed to an arbitrator, segmented by mode.",
			}, []string{"mode"}),
			bondsPosted: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "gig",
				Subsystem: "arbitration",
				Name:      "bonds_posted_total",
				Help:      "Count of assertion bonds and counter-bonds pulled into custody.",
			}),
			stuckCases: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "gig",
				Subsystem: "arbitration",
				Name:      "stuck_cases",
				Help:      "Voting cases past their deadline without quorum.",
			}),
		}
		prometheus.MustRegister(
			escrowRegistry.jobsCreated,
			escrowRegistry.settlements,
			escrowRegistry.disputesOpened,
			escrowRegistry.bondsPosted,
			escrowRegistry.stuckCases,
		)
	})
	return escrowRegistry
}

// RecordJobCreated increments the creation counter. Kind is "bounty" or "gig".
func (m *EscrowMetrics) RecordJobCreated(kind string) {
	if m == nil {
		return
	}
	m.jobsCreated.WithLabelValues(kind).Inc()
}

// RecordSettlement increments the payout counter for a settlement path such
// as "approve", "auto_release", or "dispute".
func (m *EscrowMetrics) RecordSettlement(path string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(path).Inc()
}

// RecordDispute increments the dispute counter for a mode label.
func (m *EscrowMetrics) RecordDispute(mode string) {
	if m == nil {
		return
	}
	m.disputesOpened.WithLabelValues(mode).Inc()
}

// RecordBond increments the posted-bond counter.
func (m *EscrowMetrics) RecordBond() {
	if m == nil {
		return
	}
	m.bondsPosted.Inc()
}

// SetStuckCases records the current number of quorum-starved voting cases.
func (m *EscrowMetrics) SetStuckCases(count int) {
	if m == nil {
		return
	}
	m.stuckCases.Set(float64(count))
}
