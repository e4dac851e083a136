package metrics

import (
	"runtime"
	"sync"
	"time"

	"github.com/saiset-co/sai-og/types"
)

// StatsSource reports the current cache counters.
type StatsSource interface {
	Stats() types.CacheStats
}

// Collector samples runtime and cache statistics. Monotonic CacheStats
// fields not already counted at the call site are exported as deltas.
type Collector struct {
	metrics   types.MetricsManager
	source    StatsSource
	startTime time.Time

	mu          sync.Mutex
	last        types.CacheStats
	lastGCCount uint32
}

func NewCollector(metricsManager types.MetricsManager, source StatsSource) *Collector {
	if metricsManager == nil {
		metricsManager = NewNop()
	}
	return &Collector{
		metrics:   metricsManager,
		source:    source,
		startTime: time.Now(),
	}
}

func (c *Collector) Collect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.source != nil {
		c.collectCache(c.source.Stats())
	}
	c.collectRuntime()
}

func (c *Collector) collectCache(stats types.CacheStats) {
	c.metrics.Gauge("cache_entries", map[string]string{"tier": "memory"}).Set(float64(stats.Entries))
	c.metrics.Gauge("cache_size_bytes", map[string]string{"tier": "memory"}).Set(float64(stats.MemoryBytes))

	counters := []struct {
		name   string
		labels map[string]string
		now    uint64
		before uint64
	}{
		{"cache_evictions_total", map[string]string{"tier": "memory"}, stats.Evictions, c.last.Evictions},
		{"cache_persistent_hits_total", nil, stats.PersistentHits, c.last.PersistentHits},
		{"cache_coalesced_total", nil, stats.Coalesced, c.last.Coalesced},
	}

	for _, counter := range counters {
		if counter.now > counter.before {
			c.metrics.Counter(counter.name, counter.labels).Add(float64(counter.now - counter.before))
		}
	}

	c.last = stats
}

func (c *Collector) collectRuntime() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	gauges := []struct {
		name   string
		labels map[string]string
		value  float64
	}{
		{"system_memory_usage_bytes", map[string]string{"type": "heap_inuse"}, float64(m.HeapInuse)},
		{"system_memory_usage_bytes", map[string]string{"type": "heap_alloc"}, float64(m.HeapAlloc)},
		{"system_memory_usage_bytes", map[string]string{"type": "sys"}, float64(m.Sys)},
		{"system_heap_objects_count", nil, float64(m.HeapObjects)},
		{"system_goroutines_count", nil, float64(runtime.NumGoroutine())},
		{"system_uptime_seconds", nil, time.Since(c.startTime).Seconds()},
	}

	for _, gauge := range gauges {
		c.metrics.Gauge(gauge.name, gauge.labels).Set(gauge.value)
	}

	if m.NumGC != c.lastGCCount {
		c.metrics.Gauge("system_gc_cycles_total", nil).Set(float64(m.NumGC))
		c.metrics.Gauge("system_gc_cpu_percent", nil).Set(m.GCCPUFraction * 100)

		lastPause := m.PauseNs[(m.NumGC+255)%256]
		if lastPause > 0 {
			c.metrics.Histogram("system_gc_duration_seconds",
				[]float64{0.0001, 0.001, 0.01, 0.1, 1.0},
				nil,
			).Observe(float64(lastPause) / 1e9)
		}
		c.lastGCCount = m.NumGC
	}
}
