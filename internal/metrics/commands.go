package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Command subsystem metrics
var (
	// CommandsTotal counts commands by activation mode and result
	CommandsTotal *prometheus.CounterVec

	// CommandDuration tracks wall time of executed commands
	CommandDuration *prometheus.HistogramVec
)

func initCommandMetrics() {
	CommandsTotal = NewCounterVec(
		"sdlauncher_commands_total",
		"Commands run, by environment mode and result (success, exit_nonzero, error, dry_run).",
		[]string{"mode", "result"},
	)

	CommandDuration = NewHistogramVec(
		"sdlauncher_command_duration_seconds",
		"Duration of executed commands in seconds.",
		CommandBuckets,
		[]string{"mode"},
	)
}

func registerCommandMetrics() {
	prometheus.MustRegister(CommandsTotal)
	prometheus.MustRegister(CommandDuration)
}

// RecordCommand records one command outcome. No-op before Init.
func RecordCommand(mode, result string, seconds float64) {
	if CommandsTotal == nil {
		return
	}
	CommandsTotal.WithLabelValues(mode, result).Inc()
	if result != "dry_run" {
		CommandDuration.WithLabelValues(mode).Observe(seconds)
	}
}
