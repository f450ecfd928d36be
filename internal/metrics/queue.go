package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Queue subsystem metrics
var (
	// QueueItems tracks queue items by status
	QueueItems *prometheus.GaugeVec

	// QueueProcessedTotal counts finished queue items by final status
	QueueProcessedTotal *prometheus.CounterVec

	// QueueItemDuration tracks generation time per item
	QueueItemDuration prometheus.Histogram

	// QueueLastRunTimestamp records when the processor last finished an item
	QueueLastRunTimestamp prometheus.Gauge

	// QueueProcessing is 1 while the processor is draining the queue
	QueueProcessing prometheus.Gauge
)

func initQueueMetrics() {
	QueueItems = NewGaugeVec(
		"sdlauncher_queue_items",
		"Queue items by status.",
		[]string{"status"},
	)

	QueueProcessedTotal = NewCounterVec(
		"sdlauncher_queue_processed_total",
		"Queue items processed, by final status.",
		[]string{"status"},
	)

	QueueItemDuration = NewHistogram(
		"sdlauncher_queue_item_duration_seconds",
		"Time to generate one queue item in seconds.",
		CommandBuckets,
	)

	QueueLastRunTimestamp = NewGauge(
		"sdlauncher_queue_last_run_timestamp",
		"Timestamp of the last processed queue item (Unix epoch seconds).",
	)

	QueueProcessing = NewGauge(
		"sdlauncher_queue_processing",
		"1 while the queue is being processed.",
	)
}

func registerQueueMetrics() {
	prometheus.MustRegister(QueueItems)
	prometheus.MustRegister(QueueProcessedTotal)
	prometheus.MustRegister(QueueItemDuration)
	prometheus.MustRegister(QueueLastRunTimestamp)
	prometheus.MustRegister(QueueProcessing)
}

// SetQueueCounts replaces the per-status gauges.
func SetQueueCounts(counts map[string]int) {
	if QueueItems == nil {
		return
	}
	QueueItems.Reset()
	for status, n := range counts {
		QueueItems.WithLabelValues(status).Set(float64(n))
	}
}

func RecordQueueItem(status string, seconds float64) {
	if QueueProcessedTotal == nil {
		return
	}
	QueueProcessedTotal.WithLabelValues(status).Inc()
	QueueItemDuration.Observe(seconds)
	QueueLastRunTimestamp.Set(float64(time.Now().Unix()))
}

func SetQueueProcessing(on bool) {
	if QueueProcessing == nil {
		return
	}
	if on {
		QueueProcessing.Set(1)
	} else {
		QueueProcessing.Set(0)
	}
}
