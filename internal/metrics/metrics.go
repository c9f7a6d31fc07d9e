package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Store metrics - calls made against the key/value client
var (
	StoreCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repairnet_store_calls_total",
			Help: "Total number of key/value client calls by operation and result",
		},
		[]string{"op", "result"},
	)

	StoreCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "repairnet_store_call_duration_seconds",
			Help:    "Latency of key/value client calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)
)

// Listing metrics - controller activity
var (
	ListingLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repairnet_listing_loads_total",
			Help: "Total number of listing reloads by result",
		},
		[]string{"result"},
	)

	ListingsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repairnet_listings_skipped_total",
			Help: "Listings skipped during a load, by reason",
		},
		[]string{"reason"},
	)

	ListingTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repairnet_listing_transitions_total",
			Help: "Listing creations and status transitions by target status and result",
		},
		[]string{"status", "result"},
	)

	ListingsVisible = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "repairnet_listings_visible",
		Help: "Number of listings in the current snapshot",
	})
)

// Feed metrics
var (
	FeedSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "repairnet_feed_subscribers",
		Help: "Number of connected websocket subscribers",
	})
)
