package metrics

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func value(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	out := &dto.Metric{}
	if err := m.Write(out); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	switch {
	case out.Counter != nil:
		return out.Counter.GetValue()
	case out.Gauge != nil:
		return out.Gauge.GetValue()
	}
	t.Fatalf("unsupported metric type")
	return 0
}

// TestMetricsInit verifies that Init() is idempotent and registers metrics
func TestMetricsInit(t *testing.T) {
	Init()
	Init()

	if CommandsTotal == nil || CommandDuration == nil {
		t.Error("command metrics should be initialized")
	}
	if ImageLookupsTotal == nil || ImagesObservedTotal == nil {
		t.Error("image metrics should be initialized")
	}
	if QueueItems == nil || QueueProcessedTotal == nil {
		t.Error("queue metrics should be initialized")
	}
	if HTTPRequestsTotal == nil || ErrorsTotal == nil {
		t.Error("api and daemon metrics should be initialized")
	}

	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}
	found := map[string]bool{}
	for _, mf := range mfs {
		found[mf.GetName()] = true
	}
	for _, name := range []string{
		"sdlauncher_queue_last_run_timestamp",
		"sdlauncher_daemon_start_timestamp_seconds",
		"sdlauncher_queue_processing",
	} {
		if !found[name] {
			t.Errorf("metric %s not registered", name)
		}
	}
}

func TestRecordCommand(t *testing.T) {
	Init()
	before := value(t, CommandsTotal.WithLabelValues("venv", "success"))
	RecordCommand("venv", "success", 12)
	after := value(t, CommandsTotal.WithLabelValues("venv", "success"))
	if after-before != 1 {
		t.Errorf("CommandsTotal delta = %v, want 1", after-before)
	}
}

func TestSetQueueCounts(t *testing.T) {
	Init()
	SetQueueCounts(map[string]int{"pending": 3, "running": 1})
	if got := value(t, QueueItems.WithLabelValues("pending")); got != 3 {
		t.Errorf("pending gauge = %v, want 3", got)
	}
	SetQueueCounts(map[string]int{"completed": 4})
	if got := value(t, QueueItems.WithLabelValues("pending")); got != 0 {
		t.Errorf("pending gauge after reset = %v, want 0", got)
	}
}

func TestHealthHandler(t *testing.T) {
	defer SetHealthFunc(nil)

	rec := httptest.NewRecorder()
	HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}

	SetHealthFunc(func() map[string]error {
		return map[string]error{
			"database":   nil,
			"output_dir": errors.New("missing"),
		}
	})
	rec = httptest.NewRecorder()
	HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}

	var body struct {
		Healthy    bool              `json:"healthy"`
		Components map[string]string `json:"components"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Healthy || body.Components["output_dir"] != "missing" || body.Components["database"] != "ok" {
		t.Errorf("unexpected body %+v", body)
	}
}

func TestUpdateOutputUsage(t *testing.T) {
	Init()
	dir := t.TempDir()
	if err := UpdateOutputUsage(dir); err != nil {
		t.Skipf("filesystem usage unavailable: %v", err)
	}
	if got := value(t, OutputTotalBytes.WithLabelValues(dir)); got <= 0 {
		t.Errorf("OutputTotalBytes = %v", got)
	}
}
