package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/saiset-co/sai-og/logger"
	"github.com/saiset-co/sai-og/types"
)

func TestPrometheusCounterAndHistogram(t *testing.T) {
	m := NewPrometheusMetrics(logger.NewNop(), &types.MetricsConfig{Enabled: true, Namespace: "test"})

	c := m.Counter("renders_total", map[string]string{"result": "ok"})
	c.Inc()
	c.Add(2)

	if got := m.Counter("renders_total", map[string]string{"result": "ok"}).Get(); got != 3 {
		t.Fatalf("counter = %v, want 3", got)
	}

	h := m.Histogram("stage_seconds", []float64{0.01, 0.1, 1}, map[string]string{"stage": "encode"})
	h.Observe(0.05)
	h.Observe(0.5)

	if got := h.GetCount(); got != 2 {
		t.Fatalf("histogram count = %d, want 2", got)
	}
	if got := h.GetSum(); got < 0.549 || got > 0.551 {
		t.Fatalf("histogram sum = %v, want 0.55", got)
	}
}

func TestPrometheusHandlerExposesMetrics(t *testing.T) {
	m := NewPrometheusMetrics(logger.NewNop(), &types.MetricsConfig{Enabled: true, Namespace: "test"})
	m.Gauge("cache_entries", nil).Set(7)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "test_cache_entries 7") {
		t.Fatalf("exposition missing gauge:\n%s", body)
	}
}

func TestNewManagerDisabledIsNop(t *testing.T) {
	m := NewManager(logger.NewNop(), &types.MetricsConfig{Enabled: false})
	m.Counter("anything", nil).Inc()
	if got := m.Counter("anything", nil).Get(); got != 0 {
		t.Fatalf("nop counter = %v, want 0", got)
	}
}
