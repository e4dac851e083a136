package cache

import (
	"context"
	"encoding/base64"
	"sync"
	"time"

	"github.com/ostafen/clover"

	"github.com/saiset-co/sai-og/types"
	"github.com/saiset-co/sai-og/utils"
)

const cloverCollection = "og_cache"

type CloverConfig struct {
	Path string `json:"path"`
}

// CloverStore keeps one document per key. Image bytes are stored base64
// encoded and timestamps as unix milliseconds.
type CloverStore struct {
	logger types.Logger
	config *CloverConfig
	db     *clover.DB
	mu     sync.Mutex
	now    func() time.Time
}

func NewCloverStore(_ context.Context, logger types.Logger, config *types.PersistentCacheConfig) (types.PersistentStore, error) {
	cloverConfig := &CloverConfig{
		Path: "og_cache_clover",
	}

	if config.Config != nil {
		if err := utils.UnmarshalConfig(config.Config, cloverConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal clover cache config")
		}
	}

	db, err := clover.Open(cloverConfig.Path)
	if err != nil {
		return nil, types.WrapError(err, "failed to open CloverDB")
	}

	exists, err := db.HasCollection(cloverCollection)
	if err != nil {
		_ = db.Close()
		return nil, types.WrapError(err, "failed to check collection")
	}
	if !exists {
		if err := db.CreateCollection(cloverCollection); err != nil {
			_ = db.Close()
			return nil, types.WrapError(err, "failed to create collection")
		}
	}

	return &CloverStore{
		logger: logger,
		config: cloverConfig,
		db:     db,
		now:    time.Now,
	}, nil
}

func (c *CloverStore) Name() string {
	return "clover"
}

func (c *CloverStore) Get(_ context.Context, key string) (*types.CacheEntry, bool, error) {
	docs, err := c.db.Query(cloverCollection).Where(clover.Field("key").Eq(key)).FindAll()
	if err != nil {
		return nil, false, types.WrapError(err, "failed to query clover cache")
	}
	if len(docs) == 0 {
		return nil, false, nil
	}

	var fields map[string]interface{}
	if err := docs[0].Unmarshal(&fields); err != nil {
		return nil, false, types.Errorf(types.ErrCacheEntryCorrupt, "document: %v", err)
	}

	encoded, _ := fields["data"].(string)
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, false, types.Errorf(types.ErrCacheEntryCorrupt, "data: %v", err)
	}

	contentType, _ := fields["content_type"].(string)
	entry := &types.CacheEntry{
		Data:        data,
		ContentType: contentType,
		Width:       int(toInt64(fields["width"])),
		Height:      int(toInt64(fields["height"])),
		CreatedAt:   time.UnixMilli(toInt64(fields["created_at"])),
	}
	if expiresAt := toInt64(fields["expires_at"]); expiresAt > 0 {
		entry.ExpiresAt = time.UnixMilli(expiresAt)
	}

	if entry.Expired(c.now()) {
		return nil, false, nil
	}

	return entry, true, nil
}

func (c *CloverStore) Set(_ context.Context, key string, entry *types.CacheEntry) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	var expiresAt int64
	if !entry.ExpiresAt.IsZero() {
		expiresAt = entry.ExpiresAt.UnixMilli()
	}

	doc := clover.NewDocument()
	doc.Set("key", key)
	doc.Set("content_type", entry.ContentType)
	doc.Set("width", entry.Width)
	doc.Set("height", entry.Height)
	doc.Set("created_at", entry.CreatedAt.UnixMilli())
	doc.Set("expires_at", expiresAt)
	doc.Set("data", base64.StdEncoding.EncodeToString(entry.Data))

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.db.Query(cloverCollection).Where(clover.Field("key").Eq(key)).Delete(); err != nil {
		return types.WrapError(err, "failed to replace clover cache entry")
	}
	if err := c.db.Insert(cloverCollection, doc); err != nil {
		return types.WrapError(err, "failed to insert clover cache entry")
	}

	return nil
}

func (c *CloverStore) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.db.Query(cloverCollection).Where(clover.Field("key").Eq(key)).Delete(); err != nil {
		return types.WrapError(err, "failed to delete clover cache entry")
	}
	return nil
}

func (c *CloverStore) Sweep(_ context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expired := clover.Field("expires_at").Gt(0).And(clover.Field("expires_at").LtEq(c.now().UnixMilli()))
	query := c.db.Query(cloverCollection).Where(expired)

	count, err := query.Count()
	if err != nil {
		return 0, types.WrapError(err, "failed to count expired clover entries")
	}
	if count == 0 {
		return 0, nil
	}

	if err := query.Delete(); err != nil {
		return 0, types.WrapError(err, "failed to sweep clover cache")
	}
	return count, nil
}

func (c *CloverStore) Close() error {
	return c.db.Close()
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case uint64:
		return int64(n)
	case float64:
		return int64(n)
	case float32:
		return int64(n)
	}
	return 0
}
