package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	CacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slot_auction_cache_hits_total",
		Help: "Total number of cache hits",
	})

	CacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slot_auction_cache_misses_total",
		Help: "Total number of cache misses",
	})

	CacheSetsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slot_auction_cache_sets_total",
		Help: "Total number of cache sets",
	})

	CacheDeletesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slot_auction_cache_deletes_total",
		Help: "Total number of cache deletes",
	})

	// CacheHitRate is ristretto's own hit ratio, refreshed on every Get.
	CacheHitRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "slot_auction_cache_hit_ratio",
		Help: "Cache hit ratio reported by ristretto",
	})

	CacheOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "slot_auction_cache_operation_duration_seconds",
			Help:    "Duration of cache operations",
			Buckets: []float64{0.00001, 0.0001, 0.001, 0.01},
		},
		[]string{"operation"},
	)
)
