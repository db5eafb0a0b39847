// Package metrics holds the Prometheus instruments exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PriceSourceRequests counts fetches per source by outcome.
	PriceSourceRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "snaplist",
			Subsystem: "pricing",
			Name:      "source_requests_total",
			Help:      "Price source fetches by outcome (ok, empty, blocked, error, timeout, open)",
		},
		[]string{"source", "outcome"},
	)

	// PriceSourceDuration tracks how long each source took.
	PriceSourceDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "snaplist",
			Subsystem: "pricing",
			Name:      "source_duration_seconds",
			Help:      "Price source fetch duration in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 15, 25},
		},
		[]string{"source"},
	)

	// PriceSearches counts searches by the stage that produced the result.
	PriceSearches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "snaplist",
			Subsystem: "pricing",
			Name:      "searches_total",
			Help:      "Price searches by the stage that produced the result",
		},
		[]string{"stage"},
	)

	// PriceCacheLookups counts cache hits and misses.
	PriceCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "snaplist",
			Subsystem: "pricing",
			Name:      "cache_lookups_total",
			Help:      "Price cache lookups by result",
		},
		[]string{"result"},
	)

	// ChatTurns counts conversation turns by step and path taken.
	ChatTurns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "snaplist",
			Subsystem: "chat",
			Name:      "turns_total",
			Help:      "Conversation turns by flow step and path (fast, model, model_error)",
		},
		[]string{"step", "path"},
	)

	// ListingsCreated counts terminal listing attempts.
	ListingsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "snaplist",
			Subsystem: "chat",
			Name:      "listings_created_total",
			Help:      "Listing creation attempts by status",
		},
		[]string{"status"},
	)

	// ImageAnalyses counts image analyses by recovery stage.
	ImageAnalyses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "snaplist",
			Subsystem: "vision",
			Name:      "analyses_total",
			Help:      "Image analyses by the parsing stage that produced the result",
		},
		[]string{"stage"},
	)

	// ToolCallDecodes counts tool call payload decodes by recovery stage.
	ToolCallDecodes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "snaplist",
			Subsystem: "chat",
			Name:      "tool_call_decodes_total",
			Help:      "Tool call payload decodes by tool and recovery stage",
		},
		[]string{"tool", "stage"},
	)
)

// RecordSource records one price source fetch.
func RecordSource(source, outcome string, elapsed time.Duration) {
	PriceSourceRequests.WithLabelValues(source, outcome).Inc()
	PriceSourceDuration.WithLabelValues(source).Observe(elapsed.Seconds())
}
