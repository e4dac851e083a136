package cache

import (
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-og/types"
)

const (
	DefaultMaxEntries = 1024
	DefaultTTL        = 1 * time.Hour
)

// MemoryCache is the first tier: an LRU bounded by entry count and, when
// MaxBytes is set, by the total size of cached images. Expired entries are
// dropped lazily on Get.
type MemoryCache struct {
	logger    types.Logger
	config    *types.MemoryCacheConfig
	mu        sync.Mutex
	lru       *lru.Cache
	bytes     int64
	evictions uint64
	now       func() time.Time
}

func NewMemoryCache(logger types.Logger, config *types.MemoryCacheConfig) (*MemoryCache, error) {
	if config == nil {
		config = &types.MemoryCacheConfig{}
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = DefaultMaxEntries
	}

	m := &MemoryCache{
		logger: logger,
		config: config,
		now:    time.Now,
	}

	cache, err := lru.NewWithEvict(config.MaxEntries, m.onEvict)
	if err != nil {
		return nil, types.WrapError(err, "failed to create memory cache")
	}
	m.lru = cache

	return m, nil
}

// onEvict runs inside lru calls, which are only made with m.mu held.
func (m *MemoryCache) onEvict(_ interface{}, value interface{}) {
	if entry, ok := value.(*types.CacheEntry); ok {
		m.bytes -= entry.Size()
	}
}

func (m *MemoryCache) Get(key string) (*types.CacheEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	value, ok := m.lru.Get(key)
	if !ok {
		return nil, false
	}

	entry := value.(*types.CacheEntry)
	if entry.Expired(m.now()) {
		m.lru.Remove(key)
		return nil, false
	}

	return entry, true
}

func (m *MemoryCache) Set(key string, entry *types.CacheEntry) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	size := entry.Size()
	if m.config.MaxBytes > 0 && size > m.config.MaxBytes {
		m.logger.Debug("Entry larger than memory cache, not stored",
			zap.String("key", key),
			zap.Int64("size", size),
			zap.Int64("max_bytes", m.config.MaxBytes))
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.lru.Remove(key)

	if m.lru.Add(key, entry) {
		atomic.AddUint64(&m.evictions, 1)
	}
	m.bytes += size

	for m.config.MaxBytes > 0 && m.bytes > m.config.MaxBytes {
		if _, _, ok := m.lru.RemoveOldest(); !ok {
			break
		}
		atomic.AddUint64(&m.evictions, 1)
	}

	return nil
}

func (m *MemoryCache) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lru.Remove(key)
}

func (m *MemoryCache) Purge() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lru.Purge()
	m.bytes = 0
}

func (m *MemoryCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.lru.Len()
}

func (m *MemoryCache) Bytes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.bytes
}

func (m *MemoryCache) Evictions() uint64 {
	return atomic.LoadUint64(&m.evictions)
}
