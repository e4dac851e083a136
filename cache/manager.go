package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-og/types"
)

var (
	customStoresMu sync.RWMutex
	customStores   = make(map[string]types.PersistentStoreCreator)
)

func RegisterPersistentStore(name string, creator types.PersistentStoreCreator) {
	customStoresMu.Lock()
	defer customStoresMu.Unlock()

	customStores[name] = creator
}

// NewPersistentStore builds the configured second tier. It returns a nil
// store when the tier is disabled.
func NewPersistentStore(ctx context.Context, logger types.Logger, metrics types.MetricsManager, config *types.PersistentCacheConfig) (types.PersistentStore, error) {
	if config == nil || config.Type == "" || config.Type == "none" {
		return nil, nil
	}

	var impl types.PersistentStore
	var err error

	switch config.Type {
	case "disk":
		impl, err = NewDiskStore(ctx, logger, config)
	case "redis":
		impl, err = NewRedisStore(ctx, logger, config)
	case "sqlite":
		impl, err = NewSQLiteStore(ctx, logger, config)
	case "clover":
		impl, err = NewCloverStore(ctx, logger, config)
	default:
		customStoresMu.RLock()
		creator, exists := customStores[config.Type]
		customStoresMu.RUnlock()

		if !exists {
			return nil, types.Errorf(types.ErrCacheTypeUnknown, "type: %s", config.Type)
		}
		impl, err = creator(ctx, logger, config)
	}

	if err != nil {
		return nil, err
	}

	logger.Info("Persistent cache tier ready", zap.String("type", impl.Name()))

	if metrics == nil {
		return impl, nil
	}
	return newInstrumentedStore(logger, metrics, impl), nil
}

type instrumentedStore struct {
	impl    types.PersistentStore
	logger  types.Logger
	metrics types.MetricsManager
}

func newInstrumentedStore(logger types.Logger, metrics types.MetricsManager, impl types.PersistentStore) types.PersistentStore {
	return &instrumentedStore{
		impl:    impl,
		logger:  logger,
		metrics: metrics,
	}
}

func (is *instrumentedStore) Name() string {
	return is.impl.Name()
}

func (is *instrumentedStore) Get(ctx context.Context, key string) (*types.CacheEntry, bool, error) {
	start := time.Now()
	entry, exists, err := is.impl.Get(ctx, key)
	duration := time.Since(start)

	result := "miss"
	switch {
	case err != nil:
		result = "error"
	case exists:
		result = "hit"
	}

	is.recordMetric("get", result, duration)
	return entry, exists, err
}

func (is *instrumentedStore) Set(ctx context.Context, key string, entry *types.CacheEntry) error {
	start := time.Now()
	err := is.impl.Set(ctx, key, entry)
	is.recordMetric("set", resultOf(err), time.Since(start))
	return err
}

func (is *instrumentedStore) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := is.impl.Delete(ctx, key)
	is.recordMetric("delete", resultOf(err), time.Since(start))
	return err
}

func (is *instrumentedStore) Sweep(ctx context.Context) (int, error) {
	start := time.Now()
	n, err := is.impl.Sweep(ctx)
	is.recordMetric("sweep", resultOf(err), time.Since(start))

	if n > 0 {
		is.metrics.Counter("cache_swept_entries_total", map[string]string{"tier": is.impl.Name()}).Add(float64(n))
	}
	return n, err
}

func (is *instrumentedStore) Close() error {
	return is.impl.Close()
}

func (is *instrumentedStore) recordMetric(operation, result string, duration time.Duration) {
	opCounter := is.metrics.Counter("cache_operations_total", map[string]string{
		"tier":      is.impl.Name(),
		"operation": operation,
		"result":    result,
	})
	opCounter.Inc()

	opDuration := is.metrics.Histogram("cache_operation_duration_seconds",
		[]float64{0.0001, 0.001, 0.01, 0.1, 1.0},
		map[string]string{"tier": is.impl.Name(), "operation": operation},
	)
	opDuration.Observe(duration.Seconds())
}

func resultOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
