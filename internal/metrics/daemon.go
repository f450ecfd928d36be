package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"sd-launcher/internal/disk"
)

// Daemon subsystem metrics
var (
	// ErrorsTotal tracks total errors encountered by the daemon
	ErrorsTotal prometheus.Counter

	// DaemonStartTime records daemon start timestamp
	DaemonStartTime prometheus.Gauge

	// OutputFreeBytes tracks free space on the filesystem holding the output directory
	OutputFreeBytes *prometheus.GaugeVec

	// OutputTotalBytes tracks capacity of the filesystem holding the output directory
	OutputTotalBytes *prometheus.GaugeVec
)

func initDaemonMetrics() {
	ErrorsTotal = NewCounter(
		"sdlauncher_daemon_errors_total",
		"Total number of errors encountered by sd-launcher.",
	)

	DaemonStartTime = NewGauge(
		"sdlauncher_daemon_start_timestamp_seconds",
		"Unix timestamp when the daemon started.",
	)

	OutputFreeBytes = NewGaugeVec(
		"sdlauncher_output_free_bytes",
		"Free space available on the filesystem containing the output directory.",
		[]string{"path"},
	)

	OutputTotalBytes = NewGaugeVec(
		"sdlauncher_output_total_bytes",
		"Total capacity of the filesystem containing the output directory.",
		[]string{"path"},
	)
}

func registerDaemonMetrics() {
	prometheus.MustRegister(ErrorsTotal)
	prometheus.MustRegister(DaemonStartTime)
	prometheus.MustRegister(OutputFreeBytes)
	prometheus.MustRegister(OutputTotalBytes)
}

func IncErrors() {
	if ErrorsTotal == nil {
		return
	}
	ErrorsTotal.Inc()
}

// UpdateOutputUsage refreshes the output volume gauges for path.
func UpdateOutputUsage(path string) error {
	usage, err := disk.GetUsage(path)
	if err != nil {
		return err
	}
	if OutputFreeBytes == nil {
		return nil
	}
	OutputFreeBytes.WithLabelValues(path).Set(float64(usage.FreeBytes))
	OutputTotalBytes.WithLabelValues(path).Set(float64(usage.TotalBytes))
	return nil
}
