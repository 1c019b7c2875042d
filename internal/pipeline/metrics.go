package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	storiesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "story_engine_pipeline_stories_total",
		Help: "Standalone stories by result (success, error).",
	}, []string{"status"})

	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "story_engine_pipeline_stage_duration_seconds",
		Help:    "Duration of pipeline stages.",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"stage"})

	plannerFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "story_engine_pipeline_planner_fallbacks_total",
		Help: "Beat plans replaced by the template skeleton after a parse failure.",
	})

	biblesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "story_engine_pipeline_bibles_total",
		Help: "Story bible enhancements by result (generated, fallback, error).",
	}, []string{"status"})

	mediaFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "story_engine_pipeline_media_failures_total",
		Help: "Failed media stages in the standalone pipeline.",
	}, []string{"kind"})
)
