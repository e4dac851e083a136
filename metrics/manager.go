package metrics

import (
	"net/http"
	"time"

	"github.com/saiset-co/sai-og/types"
)

func NewManager(logger types.Logger, config *types.MetricsConfig) types.MetricsManager {
	if config == nil || !config.Enabled {
		return NewNop()
	}
	return NewPrometheusMetrics(logger, config)
}

type nopMetrics struct{}

func NewNop() types.MetricsManager {
	return nopMetrics{}
}

func (nopMetrics) Start() error    { return nil }
func (nopMetrics) Stop() error     { return nil }
func (nopMetrics) IsRunning() bool { return true }

func (nopMetrics) Counter(string, map[string]string) types.Counter { return nopInstrument{} }
func (nopMetrics) Gauge(string, map[string]string) types.Gauge     { return nopInstrument{} }

func (nopMetrics) Histogram(string, []float64, map[string]string) types.Histogram {
	return nopInstrument{}
}

func (nopMetrics) Handler() http.Handler {
	return http.NotFoundHandler()
}

type nopInstrument struct{}

func (nopInstrument) Inc()                      {}
func (nopInstrument) Dec()                      {}
func (nopInstrument) Add(float64)               {}
func (nopInstrument) Sub(float64)               {}
func (nopInstrument) Set(float64)               {}
func (nopInstrument) Get() float64              { return 0 }
func (nopInstrument) Observe(float64)           {}
func (nopInstrument) ObserveDuration(time.Time) {}
func (nopInstrument) GetCount() uint64          { return 0 }
func (nopInstrument) GetSum() float64           { return 0 }
