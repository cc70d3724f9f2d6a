package extract

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	extractionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mailevent_extractions_total",
		Help: "Extraction calls by provenance and whether the field-count threshold was met.",
	}, []string{"provenance", "event"})

	strategyDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mailevent_strategy_duration_seconds",
		Help:    "Per-strategy latency by strategy name and outcome.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
	}, []string{"strategy", "outcome"})

	strategySkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mailevent_strategy_skipped_total",
		Help: "Strategies skipped because the field-completeness gate was already satisfied.",
	}, []string{"strategy"})
)
