package indexer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Detection sources used as metric labels.
const (
	sourceIndex   = "index"
	sourceRefresh = "refresh"
	sourceLive    = "live"
)

var (
	pagesDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bubblenav_pages_detected_total",
			Help: "Pages run through balloon detection",
		},
		[]string{"source", "status"}, // status: ok, error
	)

	detectionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bubblenav_page_detection_duration_seconds",
			Help:    "Time to load, detect and order one page",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"source"},
	)

	balloonsPerPage = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bubblenav_balloons_per_page",
			Help:    "Balloons found per detected page",
			Buckets: []float64{0, 1, 2, 4, 8, 12, 16, 24, 32},
		},
	)

	indexRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bubblenav_index_runs_total",
			Help: "Full indexing runs by outcome",
		},
		[]string{"result"}, // completed, canceled, unavailable
	)

	refreshSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bubblenav_refresh_skipped_total",
			Help: "Page refreshes skipped because the page was already being processed",
		},
	)

	indexSaveErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bubblenav_index_save_errors_total",
			Help: "Failed index writes; the in-memory index is kept",
		},
	)
)
