package preview

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	previewsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "urlpreview",
		Name:      "previews_total",
		Help:      "Previews generated, by content source.",
	}, []string{"source"})

	previewErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "urlpreview",
		Name:      "preview_errors_total",
		Help:      "Preview generations that failed, by content source.",
	}, []string{"source"})

	browserFallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "urlpreview",
		Name:      "browser_fallbacks_total",
		Help:      "Browser render failures recovered by the HTTP fallback.",
	})

	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "urlpreview",
		Name:      "cache_hits_total",
		Help:      "Previews served from cache.",
	})

	previewDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "urlpreview",
		Name:      "preview_duration_seconds",
		Help:      "End-to-end preview generation latency.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	})
)
