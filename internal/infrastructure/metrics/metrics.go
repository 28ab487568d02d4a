package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Agent dispatcher metrics.
var (
	WakesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "supportdeck",
			Subsystem: "agent",
			Name:      "wakes_total",
			Help:      "Wake signals consumed by workers",
		},
		[]string{"result"}, // drained, lease_held, error
	)

	BatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "supportdeck",
			Subsystem: "agent",
			Name:      "batches_total",
			Help:      "Effective trigger batches by outcome",
		},
		[]string{"outcome"}, // completed, skipped, retrying, dropped
	)

	StageFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "supportdeck",
			Subsystem: "agent",
			Name:      "stage_failures_total",
			Help:      "Pipeline stage failures by stage and severity",
		},
		[]string{"stage", "severity"},
	)

	PublicSendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "supportdeck",
			Subsystem: "agent",
			Name:      "public_sends_total",
			Help:      "Public agent sends by result",
		},
		[]string{"result"}, // sent, suppressed
	)

	RogueTripsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "supportdeck",
			Subsystem: "agent",
			Name:      "rogue_trips_total",
			Help:      "Rogue guard auto-pauses",
		},
	)

	TriggersDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "supportdeck",
			Subsystem: "agent",
			Name:      "triggers_dropped_total",
			Help:      "Triggers finalized without processing",
		},
		[]string{"reason"}, // paused, retry_exhausted, unretryable
	)

	DrainDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "supportdeck",
			Subsystem: "agent",
			Name:      "drain_duration_seconds",
			Help:      "Duration of one dispatcher drain run",
			Buckets:   []float64{0.05, 0.25, 1, 5, 15, 60, 180},
		},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "supportdeck",
			Subsystem: "agent",
			Name:      "queue_depth",
			Help:      "Pending triggers across all conversations",
		},
	)

	SweepRescheduledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "supportdeck",
			Subsystem: "agent",
			Name:      "sweep_rescheduled_total",
			Help:      "Wakes re-scheduled by the reconciliation sweep",
		},
	)
)

// Handler returns the prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
