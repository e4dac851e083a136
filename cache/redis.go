package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-og/types"
	"github.com/saiset-co/sai-og/utils"
)

type RedisConfig struct {
	Host               string        `json:"host"`
	Port               int           `json:"port"`
	Addr               string        `json:"addr"`
	Password           string        `json:"password"`
	DB                 int           `json:"db"`
	PoolSize           int           `json:"pool_size"`
	MinIdleConnections int           `json:"min_idle_connections"`
	DialTimeout        time.Duration `json:"dial_timeout"`
	ReadTimeout        time.Duration `json:"read_timeout"`
	WriteTimeout       time.Duration `json:"write_timeout"`
	KeyPrefix          string        `json:"key_prefix"`
}

// RedisStore relies on redis key expiry, so Sweep has nothing to do.
type RedisStore struct {
	logger types.Logger
	config *RedisConfig
	client *redis.Client
	now    func() time.Time
}

func NewRedisStore(ctx context.Context, logger types.Logger, config *types.PersistentCacheConfig) (types.PersistentStore, error) {
	var redisConfig = &RedisConfig{
		Host:               "localhost",
		Port:               6379,
		PoolSize:           10,
		MinIdleConnections: 2,
		DialTimeout:        5 * time.Second,
		ReadTimeout:        3 * time.Second,
		WriteTimeout:       3 * time.Second,
		KeyPrefix:          "sai-og",
	}

	if config.Config != nil {
		err := utils.UnmarshalConfig(config.Config, redisConfig)
		if err != nil {
			return nil, types.WrapError(err, "failed to unmarshal redis cache config")
		}
	}

	store := &RedisStore{
		logger: logger,
		config: redisConfig,
		now:    time.Now,
	}

	store.initRedisClient()

	if err := store.ping(ctx); err != nil {
		_ = store.client.Close()
		return nil, types.WrapError(err, "failed to connect to redis")
	}

	return store, nil
}

func (r *RedisStore) Name() string {
	return "redis"
}

func (r *RedisStore) Get(ctx context.Context, key string) (*types.CacheEntry, bool, error) {
	if key == "" {
		return nil, false, nil
	}

	fullKey := r.buildFullKey(key)

	raw, err := r.client.Get(ctx, fullKey).Bytes()
	if err != nil {
		if types.IsError(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, types.WrapError(err, "failed to get cache entry")
	}

	entry, err := decodeEntry(raw)
	if err != nil {
		r.logger.Warn("Dropping corrupt redis cache entry", zap.String("key", key), zap.Error(err))
		r.client.Del(ctx, fullKey)
		return nil, false, err
	}

	if entry.Expired(r.now()) {
		return nil, false, nil
	}

	return entry, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, entry *types.CacheEntry) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	var ttl time.Duration
	if !entry.ExpiresAt.IsZero() {
		ttl = entry.ExpiresAt.Sub(r.now())
		if ttl <= 0 {
			return nil
		}
	}

	raw, err := encodeEntry(entry)
	if err != nil {
		return err
	}

	if err := r.client.Set(ctx, r.buildFullKey(key), raw, ttl).Err(); err != nil {
		return types.WrapError(err, "failed to set cache entry")
	}

	return nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}

	if err := r.client.Del(ctx, r.buildFullKey(key)).Err(); err != nil {
		return types.WrapError(err, "failed to delete cache key")
	}

	return nil
}

func (r *RedisStore) Sweep(context.Context) (int, error) {
	return 0, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) initRedisClient() {
	addr := r.config.Addr
	if addr == "" {
		addr = fmt.Sprintf("%s:%d", r.config.Host, r.config.Port)
	}

	r.client = redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     r.config.Password,
		DB:           r.config.DB,
		PoolSize:     r.config.PoolSize,
		MinIdleConns: r.config.MinIdleConnections,
		DialTimeout:  r.config.DialTimeout,
		ReadTimeout:  r.config.ReadTimeout,
		WriteTimeout: r.config.WriteTimeout,
	})
}

func (r *RedisStore) ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.config.DialTimeout)
	defer cancel()

	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) buildFullKey(key string) string {
	if r.config.KeyPrefix == "" {
		return key
	}
	return r.config.KeyPrefix + ":og:" + key
}
