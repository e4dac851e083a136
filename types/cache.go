package types

import (
	"context"
	"time"
)

// CacheEntry holds one encoded image. Data is shared between tiers and
// in-flight responses and must never be mutated after Set.
type CacheEntry struct {
	Data        []byte    `json:"data"`
	ContentType string    `json:"content_type"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (e *CacheEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

func (e *CacheEntry) Size() int64 {
	return int64(len(e.Data))
}

type CacheStats struct {
	Hits             uint64 `json:"hits"`
	Misses           uint64 `json:"misses"`
	Entries          int    `json:"entries"`
	MemoryBytes      int64  `json:"memory_bytes"`
	Evictions        uint64 `json:"evictions"`
	PersistentHits   uint64 `json:"persistent_hits"`
	PersistentErrors uint64 `json:"persistent_errors"`
	Coalesced        uint64 `json:"coalesced"`
}

// PersistentStore is the optional second cache tier. Implementations return
// (nil, false, nil) on a miss and must be safe for concurrent use.
type PersistentStore interface {
	Name() string
	Get(ctx context.Context, key string) (*CacheEntry, bool, error)
	Set(ctx context.Context, key string, entry *CacheEntry) error
	Delete(ctx context.Context, key string) error
	Sweep(ctx context.Context) (int, error)
	Close() error
}

type PersistentStoreCreator func(ctx context.Context, logger Logger, config *PersistentCacheConfig) (PersistentStore, error)
