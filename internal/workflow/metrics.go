package workflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	turnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "story_engine_turns_total",
			Help: "Total number of workflow turns by outcome.",
		},
		[]string{"outcome"},
	)
	turnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "story_engine_turn_duration_seconds",
			Help:    "Histogram of workflow turn durations.",
			Buckets: []float64{1, 2.5, 5, 10, 20, 40, 60, 90, 120, 180},
		},
		[]string{"outcome"},
	)
	stepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "story_engine_step_duration_seconds",
			Help:    "Histogram of step function durations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"state"},
	)
	parseOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "story_engine_parse_outcomes_total",
			Help: "Generator output parse results by outcome.",
		},
		[]string{"outcome"},
	)
	mediaFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "story_engine_turn_media_failures_total",
			Help: "Media steps that fell back to a null URL, by kind.",
		},
		[]string{"kind"},
	)
)
