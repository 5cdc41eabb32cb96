package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Session metrics (pkg/protocol)
	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "boxvault_sessions_active",
			Help: "Number of currently logged-in store sessions",
		},
	)

	SessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boxvault_sessions_total",
			Help: "Total number of sessions started, by whether they were read-only",
		},
		[]string{"mode"},
	)

	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boxvault_commands_total",
			Help: "Total number of session-protocol commands handled, by command and outcome",
		},
		[]string{"command", "outcome"},
	)

	// Object store metrics (pkg/sos, pkg/session)
	ObjectsWrittenTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "boxvault_objects_written_total",
			Help: "Total number of objects committed to striped storage",
		},
	)

	BlocksUsed = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "boxvault_blocks_used",
			Help: "Blocks in use per account, by category (current, old, deleted, directories)",
		},
		[]string{"account_id", "category"},
	)

	// Checker metrics (pkg/checker, cmd/boxcheck)
	StripesReconstructedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "boxvault_stripes_reconstructed_total",
			Help: "Total number of degraded stripes reconstructed from parity",
		},
	)

	CheckerErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boxvault_checker_errors_total",
			Help: "Total number of consistency errors found, by checker phase",
		},
		[]string{"phase"},
	)

	CheckerRunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "boxvault_checker_run_duration_seconds",
			Help:    "Time taken for a full consistency check run",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600},
		},
	)

	// Housekeeping metrics (pkg/housekeeping)
	HousekeepingCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "boxvault_housekeeping_cycles_total",
			Help: "Total number of housekeeping cycles completed",
		},
	)

	HousekeepingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "boxvault_housekeeping_duration_seconds",
			Help:    "Time taken for a housekeeping cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	HousekeepingBlocksReclaimed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "boxvault_housekeeping_blocks_reclaimed_total",
			Help: "Total number of blocks reclaimed by housekeeping",
		},
	)

	HousekeepingReleaseWaitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "boxvault_housekeeping_release_waits_total",
			Help: "Total number of times housekeeping had to wait for a live session to release an account",
		},
	)
)

func init() {
	prometheus.MustRegister(SessionsActive)
	prometheus.MustRegister(SessionsTotal)
	prometheus.MustRegister(CommandsTotal)
	prometheus.MustRegister(ObjectsWrittenTotal)
	prometheus.MustRegister(BlocksUsed)
	prometheus.MustRegister(StripesReconstructedTotal)
	prometheus.MustRegister(CheckerErrorsTotal)
	prometheus.MustRegister(CheckerRunDuration)
	prometheus.MustRegister(HousekeepingCyclesTotal)
	prometheus.MustRegister(HousekeepingDuration)
	prometheus.MustRegister(HousekeepingBlocksReclaimed)
	prometheus.MustRegister(HousekeepingReleaseWaitsTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
