package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Image lookup metrics
var (
	// ImageLookupsTotal counts latest-image lookups by strategy and outcome
	ImageLookupsTotal *prometheus.CounterVec

	// ImageLookupDuration tracks directory scan time
	ImageLookupDuration prometheus.Histogram

	// ImagesObservedTotal counts images reported by the output directory watcher
	ImagesObservedTotal prometheus.Counter
)

func initImageMetrics() {
	ImageLookupsTotal = NewCounterVec(
		"sdlauncher_image_lookups_total",
		"Latest image lookups, by strategy and outcome (found, empty, error).",
		[]string{"strategy", "outcome"},
	)

	ImageLookupDuration = NewHistogram(
		"sdlauncher_image_lookup_duration_seconds",
		"Duration of latest image lookups in seconds.",
		LookupBuckets,
	)

	ImagesObservedTotal = NewCounter(
		"sdlauncher_images_observed_total",
		"New images reported by the output directory watcher.",
	)
}

func registerImageMetrics() {
	prometheus.MustRegister(ImageLookupsTotal)
	prometheus.MustRegister(ImageLookupDuration)
	prometheus.MustRegister(ImagesObservedTotal)
}

func RecordImageLookup(strategy, outcome string, seconds float64) {
	if ImageLookupsTotal == nil {
		return
	}
	ImageLookupsTotal.WithLabelValues(strategy, outcome).Inc()
	ImageLookupDuration.Observe(seconds)
}

func RecordImageObserved() {
	if ImagesObservedTotal == nil {
		return
	}
	ImagesObservedTotal.Inc()
}
