package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	initOnce    sync.Once
	serverMutex sync.Mutex
	currentSrv  *http.Server

	healthMutex sync.RWMutex
	healthFunc  func() map[string]error
)

// Init initializes all metrics subsystems and registers them with Prometheus.
// Safe to call multiple times.
func Init() {
	initOnce.Do(func() {
		initCommandMetrics()
		initImageMetrics()
		initQueueMetrics()
		initDaemonMetrics()
		initAPIMetrics()

		registerCommandMetrics()
		registerImageMetrics()
		registerQueueMetrics()
		registerDaemonMetrics()
		registerAPIMetrics()

		// Present in /metrics before the first run
		QueueLastRunTimestamp.Set(0)
		DaemonStartTime.Set(float64(time.Now().Unix()))
	})
}

// SetHealthFunc installs the component checks reported by /health.
func SetHealthFunc(fn func() map[string]error) {
	healthMutex.Lock()
	defer healthMutex.Unlock()
	healthFunc = fn
}

// HealthHandler reports ok unless one of the installed checks fails.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	healthMutex.RLock()
	fn := healthFunc
	healthMutex.RUnlock()

	status := map[string]interface{}{"status": "ok", "healthy": true}
	code := http.StatusOK
	if fn != nil {
		components := map[string]string{}
		for name, err := range fn() {
			if err != nil {
				components[name] = err.Error()
				status["status"] = "degraded"
				status["healthy"] = false
				code = http.StatusServiceUnavailable
			} else {
				components[name] = "ok"
			}
		}
		status["components"] = components
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if r.Method == http.MethodHead {
		return
	}
	_ = json.NewEncoder(w).Encode(status)
}

// StartServer starts the metrics HTTP server on addr.
// Exposes /metrics (Prometheus) and /health.
func StartServer(addr string, logger zerolog.Logger) {
	serverMutex.Lock()
	defer serverMutex.Unlock()

	if currentSrv != nil {
		logger.Warn().Str("addr", currentSrv.Addr).Msg("metrics server already running")
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", HealthHandler)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	currentSrv = srv

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server error")
			IncErrors()
		}
	}()
}

// Shutdown gracefully stops the metrics server.
func Shutdown(ctx context.Context, logger zerolog.Logger) {
	serverMutex.Lock()
	defer serverMutex.Unlock()

	if currentSrv == nil {
		return
	}
	if err := currentSrv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("metrics server shutdown error")
	}
	currentSrv = nil
}
