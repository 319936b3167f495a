package presence

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Ticks        *prometheus.CounterVec
	TickDuration prometheus.Histogram

	ActiveEpisodes    prometheus.Gauge
	StartedEpisodes   prometheus.Counter
	FinalizedEpisodes prometheus.Counter
	Suppressed        prometheus.Counter

	Failures *prometheus.CounterVec
}

const (
	ns        = "borderwatch"
	subsystem = "presence"

	LabelResult = "result"
	LabelStage  = "stage"

	ResultSuccess = "success"
	ResultAborted = "aborted"

	StageDeliver   = "deliver"
	StageEdit      = "edit"
	StageRender    = "render"
	StageResidency = "residency"
	StageSightings = "sightings"
)

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Ticks: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "ticks_total", Namespace: ns, Subsystem: subsystem,
			Help: "The number of ticks run, by whether they completed or were aborted before touching episodes.",
		}, []string{LabelResult}),
		TickDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name: "tick_duration_seconds", Namespace: ns, Subsystem: subsystem,
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			Help:    "The time taken by one tick, including delivery and edits.",
		}),

		ActiveEpisodes: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "active_episodes", Namespace: ns, Subsystem: subsystem,
			Help: "The number of occupants currently tracked inside a territory.",
		}),
		StartedEpisodes: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "episodes_started_total", Namespace: ns, Subsystem: subsystem,
			Help: "The number of episodes created.",
		}),
		FinalizedEpisodes: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "episodes_finalized_total", Namespace: ns, Subsystem: subsystem,
			Help: "The number of episodes closed after the occupant left.",
		}),
		Suppressed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "resident_suppressed_total", Namespace: ns, Subsystem: subsystem,
			Help: "The number of entries skipped because the occupant lives in the territory's affiliation.",
		}),

		Failures: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "failures_total", Namespace: ns, Subsystem: subsystem,
			Help: "The number of best-effort operations that failed, by stage.",
		}, []string{LabelStage}),
	}
}
