// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "techtube_cycles_total",
		Help: "Collection cycles, by outcome (ok, partial, skipped).",
	}, []string{"outcome"})

	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "techtube_cycle_duration_seconds",
		Help:    "Wall time of a collection cycle, pacing waits included.",
		Buckets: []float64{1, 5, 30, 60, 120, 300, 600, 1200},
	})

	PagesFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "techtube_pages_fetched_total",
		Help: "Search result pages fetched, by query kind.",
	}, []string{"kind"})

	BranchAborts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "techtube_branch_aborts_total",
		Help: "Keyword/channel branches aborted mid-pagination, by kind and reason.",
	}, []string{"kind", "reason"})

	VideosIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "techtube_videos_ingested_total",
		Help: "Videos inserted for the first time, by query kind.",
	}, []string{"kind"})

	KeywordsAdded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "techtube_keywords_added_total",
		Help: "Keywords inserted by the engine, by source (tag, extracted).",
	}, []string{"source"})

	Extractions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "techtube_keyword_extractions_total",
		Help: "Keyword extraction attempts for tag-less videos, by result (ok, empty, error).",
	}, []string{"result"})

	EmbeddedVideos = promauto.NewCounter(prometheus.CounterOpts{
		Name: "techtube_videos_embedded_total",
		Help: "Video titles embedded and stored.",
	})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "techtube_api_request_duration_seconds",
		Help:    "HTTP request duration in seconds, by route pattern, method and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method", "status"})
)
