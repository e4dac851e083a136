package cache

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/saiset-co/sai-og/logger"
	"github.com/saiset-co/sai-og/metrics"
	"github.com/saiset-co/sai-og/types"
)

type storeFactory func(t *testing.T) (types.PersistentStore, func(func() time.Time))

func persistentStores() map[string]storeFactory {
	return map[string]storeFactory{
		"disk": func(t *testing.T) (types.PersistentStore, func(func() time.Time)) {
			s, err := NewDiskStore(context.Background(), logger.NewNop(), &types.PersistentCacheConfig{
				Config: map[string]interface{}{"dir": t.TempDir()},
			})
			if err != nil {
				t.Fatalf("NewDiskStore: %v", err)
			}
			return s, func(now func() time.Time) { s.(*DiskStore).now = now }
		},
		"redis": func(t *testing.T) (types.PersistentStore, func(func() time.Time)) {
			mr := miniredis.RunT(t)
			s, err := NewRedisStore(context.Background(), logger.NewNop(), &types.PersistentCacheConfig{
				Config: map[string]interface{}{"addr": mr.Addr()},
			})
			if err != nil {
				t.Fatalf("NewRedisStore: %v", err)
			}
			return s, func(now func() time.Time) { s.(*RedisStore).now = now }
		},
		"sqlite": func(t *testing.T) (types.PersistentStore, func(func() time.Time)) {
			s, err := NewSQLiteStore(context.Background(), logger.NewNop(), &types.PersistentCacheConfig{
				Config: map[string]interface{}{"path": filepath.Join(t.TempDir(), "cache.db")},
			})
			if err != nil {
				t.Fatalf("NewSQLiteStore: %v", err)
			}
			return s, func(now func() time.Time) { s.(*SQLiteStore).now = now }
		},
		"clover": func(t *testing.T) (types.PersistentStore, func(func() time.Time)) {
			s, err := NewCloverStore(context.Background(), logger.NewNop(), &types.PersistentCacheConfig{
				Config: map[string]interface{}{"path": filepath.Join(t.TempDir(), "clover")},
			})
			if err != nil {
				t.Fatalf("NewCloverStore: %v", err)
			}
			return s, func(now func() time.Time) { s.(*CloverStore).now = now }
		},
	}
}

func TestPersistentStores(t *testing.T) {
	for name, factory := range persistentStores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store, setNow := factory(t)
			defer store.Close()

			now := time.Now().Truncate(time.Millisecond)
			setNow(func() time.Time { return now })

			entry := &types.CacheEntry{
				Data:        []byte{0x89, 'P', 'N', 'G', 0, 1, 2},
				ContentType: "image/png",
				Width:       1200,
				Height:      630,
				CreatedAt:   now,
				ExpiresAt:   now.Add(time.Minute),
			}

			if _, ok, err := store.Get(ctx, "missing"); ok || err != nil {
				t.Fatalf("Get(missing) = %v, %v", ok, err)
			}

			if err := store.Set(ctx, "abc123", entry); err != nil {
				t.Fatalf("Set: %v", err)
			}

			got, ok, err := store.Get(ctx, "abc123")
			if err != nil || !ok {
				t.Fatalf("Get = %v, %v", ok, err)
			}
			if !bytes.Equal(got.Data, entry.Data) || got.ContentType != entry.ContentType ||
				got.Width != 1200 || got.Height != 630 || !got.ExpiresAt.Equal(entry.ExpiresAt) {
				t.Fatalf("round trip mismatch: %+v", got)
			}

			if err := store.Set(ctx, "expired", &types.CacheEntry{Data: []byte{1}, CreatedAt: now, ExpiresAt: now.Add(time.Second)}); err != nil {
				t.Fatalf("Set expired: %v", err)
			}

			now = now.Add(2 * time.Second)
			if _, ok, _ := store.Get(ctx, "expired"); ok {
				t.Fatal("expired entry returned")
			}
			if _, err := store.Sweep(ctx); err != nil {
				t.Fatalf("Sweep: %v", err)
			}
			if _, ok, _ := store.Get(ctx, "abc123"); !ok {
				t.Fatal("sweep removed a live entry")
			}

			if err := store.Delete(ctx, "abc123"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, ok, _ := store.Get(ctx, "abc123"); ok {
				t.Fatal("deleted entry returned")
			}
		})
	}
}

func TestDiskStoreSweepAndCorruption(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewDiskStore(ctx, logger.NewNop(), &types.PersistentCacheConfig{Config: map[string]interface{}{"dir": dir}})
	if err != nil {
		t.Fatalf("NewDiskStore: %v", err)
	}
	store := s.(*DiskStore)

	now := time.Unix(5000, 0)
	store.now = func() time.Time { return now }

	_ = store.Set(ctx, "old1", &types.CacheEntry{Data: []byte{1}, ExpiresAt: now.Add(time.Second)})
	_ = store.Set(ctx, "old2", &types.CacheEntry{Data: []byte{1}, ExpiresAt: now.Add(time.Second)})
	_ = store.Set(ctx, "keep", &types.CacheEntry{Data: []byte{1}})

	writeRaw := func(key string, raw []byte) error {
		if err := os.MkdirAll(filepath.Dir(store.path(key)), 0o755); err != nil {
			return err
		}
		return os.WriteFile(store.path(key), raw, 0o644)
	}

	if err := writeRaw("junk", []byte("garbage")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	now = now.Add(time.Minute)
	n, err := store.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 3 {
		t.Fatalf("swept %d files, want 3", n)
	}
	if _, ok, _ := store.Get(ctx, "keep"); !ok {
		t.Fatal("entry without expiry was swept")
	}

	if err := writeRaw("bad", []byte("OGC1\xff\xff\xff\xff")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, _, err := store.Get(ctx, "bad"); !errors.Is(err, types.ErrCacheEntryCorrupt) {
		t.Fatalf("err = %v, want ErrCacheEntryCorrupt", err)
	}
}

func TestNewPersistentStore(t *testing.T) {
	ctx := context.Background()
	nop := logger.NewNop()

	store, err := NewPersistentStore(ctx, nop, metrics.NewNop(), &types.PersistentCacheConfig{Type: "none"})
	if err != nil || store != nil {
		t.Fatalf("none = %v, %v; want nil, nil", store, err)
	}

	_, err = NewPersistentStore(ctx, nop, metrics.NewNop(), &types.PersistentCacheConfig{Type: "tape"})
	if !errors.Is(err, types.ErrCacheTypeUnknown) {
		t.Fatalf("err = %v, want ErrCacheTypeUnknown", err)
	}

	RegisterPersistentStore("test-disk", NewDiskStore)
	store, err = NewPersistentStore(ctx, nop, metrics.NewNop(), &types.PersistentCacheConfig{
		Type:   "test-disk",
		Config: map[string]interface{}{"dir": t.TempDir()},
	})
	if err != nil {
		t.Fatalf("custom store: %v", err)
	}
	if _, ok := store.(*instrumentedStore); !ok {
		t.Fatalf("store is %T, want instrumented", store)
	}
	if store.Name() != "disk" {
		t.Fatalf("name = %q", store.Name())
	}
}
