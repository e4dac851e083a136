package cache

import (
	"context"
	"runtime/debug"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/saiset-co/sai-og/metrics"
	"github.com/saiset-co/sai-og/types"
)

const persistentTimeout = 2 * time.Second

// ComputeFunc produces an entry on a miss. Its context is detached from the
// caller: a caller giving up does not cancel the computation.
type ComputeFunc func(ctx context.Context) (*types.CacheEntry, error)

// Layer checks the memory tier, then the persistent tier, and coalesces
// concurrent misses on the same key into one computation. Persistent-tier
// failures are logged and treated as misses.
type Layer struct {
	logger        types.Logger
	metrics       types.MetricsManager
	memory        *MemoryCache
	persistent    types.PersistentStore
	memoryTTL     time.Duration
	persistentTTL time.Duration
	group         singleflight.Group
	now           func() time.Time

	hits             uint64
	misses           uint64
	persistentHits   uint64
	persistentErrors uint64
	coalesced        uint64
}

func NewLayer(logger types.Logger, metricsManager types.MetricsManager, config *types.CacheConfig, memory *MemoryCache, persistent types.PersistentStore) *Layer {
	if metricsManager == nil {
		metricsManager = metrics.NewNop()
	}

	l := &Layer{
		logger:     logger,
		metrics:    metricsManager,
		memory:     memory,
		persistent: persistent,
		now:        time.Now,
	}

	if config != nil && config.Memory != nil {
		l.memoryTTL = config.Memory.TTL
	}
	if config != nil && config.Persistent != nil {
		l.persistentTTL = config.Persistent.TTL
	}

	return l
}

// Get returns a live entry from either tier. A persistent hit is promoted
// into memory.
func (l *Layer) Get(ctx context.Context, key string) (*types.CacheEntry, bool) {
	entry, ok := l.lookup(ctx, key)
	if ok {
		atomic.AddUint64(&l.hits, 1)
		l.metrics.Counter("cache_lookups_total", map[string]string{"result": "hit"}).Inc()
	} else {
		atomic.AddUint64(&l.misses, 1)
		l.metrics.Counter("cache_lookups_total", map[string]string{"result": "miss"}).Inc()
	}
	return entry, ok
}

func (l *Layer) lookup(ctx context.Context, key string) (*types.CacheEntry, bool) {
	if entry, ok := l.memory.Get(key); ok {
		return entry, true
	}

	if l.persistent == nil {
		return nil, false
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistentTimeout)
	defer cancel()

	entry, ok, err := l.persistent.Get(pctx, key)
	if err != nil {
		l.persistentFailure("get", key, err)
		return nil, false
	}
	if !ok {
		return nil, false
	}

	atomic.AddUint64(&l.persistentHits, 1)

	promoted := *entry
	promoted.ExpiresAt = l.expiry(l.memoryTTL, entry.CreatedAt)
	if !entry.ExpiresAt.IsZero() && (promoted.ExpiresAt.IsZero() || entry.ExpiresAt.Before(promoted.ExpiresAt)) {
		promoted.ExpiresAt = entry.ExpiresAt
	}
	if err := l.memory.Set(key, &promoted); err != nil {
		l.logger.Warn("Failed to promote cache entry", zap.String("key", key), zap.Error(err))
	}

	return &promoted, true
}

// Set stores entry in both tiers, each with its own TTL. Data is shared
// between tiers, not copied.
func (l *Layer) Set(ctx context.Context, key string, entry *types.CacheEntry) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	created := entry.CreatedAt
	if created.IsZero() {
		created = l.now()
	}

	mem := *entry
	mem.CreatedAt = created
	mem.ExpiresAt = l.expiry(l.memoryTTL, created)
	if err := l.memory.Set(key, &mem); err != nil {
		return err
	}

	if l.persistent == nil {
		return nil
	}

	persisted := mem
	persisted.ExpiresAt = l.expiry(l.persistentTTL, created)

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistentTimeout)
	defer cancel()

	if err := l.persistent.Set(pctx, key, &persisted); err != nil {
		l.persistentFailure("set", key, err)
	}

	return nil
}

// Do returns the cached entry for key or runs fn once for all concurrent
// callers. The result is stored before waiters are released. When ctx ends
// first Do returns ctx.Err() while the computation carries on and still
// populates the cache.
func (l *Layer) Do(ctx context.Context, key string, fn ComputeFunc) (*types.CacheEntry, bool, error) {
	detached := context.WithoutCancel(ctx)

	ch := l.group.DoChan(key, func() (interface{}, error) {
		if entry, ok := l.lookup(detached, key); ok {
			return entry, nil
		}

		entry, err := l.compute(detached, key, fn)
		if err != nil {
			return nil, err
		}

		if err := l.Set(detached, key, entry); err != nil {
			l.logger.Warn("Failed to cache computed entry", zap.String("key", key), zap.Error(err))
		}
		return entry, nil
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Shared {
			atomic.AddUint64(&l.coalesced, 1)
		}
		if res.Err != nil {
			return nil, res.Shared, res.Err
		}
		return res.Val.(*types.CacheEntry), res.Shared, nil
	}
}

// compute runs fn and turns a panic into an Internal error. singleflight
// re-panics on a fresh goroutine, which no caller could recover.
func (l *Layer) compute(ctx context.Context, key string, fn ComputeFunc) (entry *types.CacheEntry, err error) {
	defer func() {
		if r := recover(); r != nil {
			l.metrics.Counter("cache_compute_panics_total", nil).Inc()
			l.logger.Error("Cache computation panicked",
				zap.String("key", key),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			entry, err = nil, types.NewError(types.KindInternal, "computation panicked: %v", r)
		}
	}()
	return fn(ctx)
}

func (l *Layer) Delete(ctx context.Context, key string) {
	l.memory.Delete(key)

	if l.persistent == nil {
		return
	}
	if err := l.persistent.Delete(ctx, key); err != nil {
		l.persistentFailure("delete", key, err)
	}
}

// Sweep drops expired entries from the persistent tier.
func (l *Layer) Sweep(ctx context.Context) (int, error) {
	if l.persistent == nil {
		return 0, nil
	}

	n, err := l.persistent.Sweep(ctx)
	if err != nil {
		l.persistentFailure("sweep", "", err)
		return n, types.WrapKind(types.KindCacheError, err, "sweep %s", l.persistent.Name())
	}
	return n, nil
}

func (l *Layer) Stats() types.CacheStats {
	return types.CacheStats{
		Hits:             atomic.LoadUint64(&l.hits),
		Misses:           atomic.LoadUint64(&l.misses),
		Entries:          l.memory.Len(),
		MemoryBytes:      l.memory.Bytes(),
		Evictions:        l.memory.Evictions(),
		PersistentHits:   atomic.LoadUint64(&l.persistentHits),
		PersistentErrors: atomic.LoadUint64(&l.persistentErrors),
		Coalesced:        atomic.LoadUint64(&l.coalesced),
	}
}

func (l *Layer) Persistent() types.PersistentStore {
	return l.persistent
}

func (l *Layer) Close() error {
	if l.persistent == nil {
		return nil
	}
	return l.persistent.Close()
}

func (l *Layer) expiry(ttl time.Duration, from time.Time) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return from.Add(ttl)
}

func (l *Layer) persistentFailure(op, key string, err error) {
	atomic.AddUint64(&l.persistentErrors, 1)
	l.metrics.Counter("cache_persistent_errors_total", map[string]string{"operation": op}).Inc()

	cacheErr := types.WrapKind(types.KindCacheError, err, "persistent %s", op)
	l.logger.Warn("Persistent cache failure, bypassing tier",
		zap.String("tier", l.persistent.Name()),
		zap.String("key", key),
		zap.Error(cacheErr))
}
