package cache

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/natefinch/atomic"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-og/types"
	"github.com/saiset-co/sai-og/utils"
)

const (
	diskEntryExt  = ".ogc"
	maxHeaderSize = 64 << 10
)

type DiskConfig struct {
	Dir string `json:"dir"`
}

// DiskStore keeps one file per key under a two-character fan-out directory.
// Writes go through a temp file and rename so readers never see a torn entry.
type DiskStore struct {
	logger types.Logger
	config *DiskConfig
	now    func() time.Time
}

func NewDiskStore(_ context.Context, logger types.Logger, config *types.PersistentCacheConfig) (types.PersistentStore, error) {
	diskConfig := &DiskConfig{
		Dir: filepath.Join(os.TempDir(), "sai-og-cache"),
	}

	if config.Config != nil {
		if err := utils.UnmarshalConfig(config.Config, diskConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal disk cache config")
		}
	}

	if err := os.MkdirAll(diskConfig.Dir, 0o755); err != nil {
		return nil, types.WrapError(err, "failed to create disk cache dir")
	}

	return &DiskStore{
		logger: logger,
		config: diskConfig,
		now:    time.Now,
	}, nil
}

func (d *DiskStore) Name() string {
	return "disk"
}

func (d *DiskStore) path(key string) string {
	fan := "__"
	if len(key) >= 2 {
		fan = key[:2]
	}
	return filepath.Join(d.config.Dir, fan, key+diskEntryExt)
}

func (d *DiskStore) Get(_ context.Context, key string) (*types.CacheEntry, bool, error) {
	raw, err := os.ReadFile(d.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, types.WrapError(err, "failed to read cache file")
	}

	entry, err := decodeEntry(raw)
	if err != nil {
		_ = os.Remove(d.path(key))
		return nil, false, err
	}

	if entry.Expired(d.now()) {
		_ = os.Remove(d.path(key))
		return nil, false, nil
	}

	return entry, true, nil
}

func (d *DiskStore) Set(_ context.Context, key string, entry *types.CacheEntry) error {
	if key == "" || strings.ContainsAny(key, `/\`) {
		return types.Errorf(types.ErrCacheKeyEmpty, "invalid disk cache key %q", key)
	}

	raw, err := encodeEntry(entry)
	if err != nil {
		return err
	}

	path := d.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return types.WrapError(err, "failed to create cache shard")
	}

	if err := atomic.WriteFile(path, bytes.NewReader(raw)); err != nil {
		return types.WrapError(err, "failed to write cache file")
	}

	return nil
}

func (d *DiskStore) Delete(_ context.Context, key string) error {
	if err := os.Remove(d.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return types.WrapError(err, "failed to delete cache file")
	}
	return nil
}

// Sweep removes expired and unreadable entries. Only headers are read.
func (d *DiskStore) Sweep(ctx context.Context) (int, error) {
	now := d.now()
	removed := 0

	err := filepath.WalkDir(d.config.Dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if entry.IsDir() || filepath.Ext(path) != diskEntryExt {
			return nil
		}

		expired, err := d.expired(path, now)
		if err != nil {
			d.logger.Warn("Removing unreadable cache file", zap.String("path", path), zap.Error(err))
		}
		if expired || err != nil {
			if rmErr := os.Remove(path); rmErr == nil {
				removed++
			}
		}
		return nil
	})

	return removed, err
}

func (d *DiskStore) expired(path string, now time.Time) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	prefix := make([]byte, 8)
	if _, err := io.ReadFull(f, prefix); err != nil {
		return false, types.Errorf(types.ErrCacheEntryCorrupt, "short file")
	}
	if [4]byte(prefix[:4]) != entryMagic {
		return false, types.Errorf(types.ErrCacheEntryCorrupt, "bad magic")
	}

	n := int(binary.BigEndian.Uint32(prefix[4:]))
	if n > maxHeaderSize {
		return false, types.Errorf(types.ErrCacheEntryCorrupt, "header length %d", n)
	}
	header := make([]byte, n)
	if _, err := io.ReadFull(f, header); err != nil {
		return false, types.Errorf(types.ErrCacheEntryCorrupt, "short header")
	}

	var h entryHeader
	if err := utils.Unmarshal(header, &h); err != nil {
		return false, types.Errorf(types.ErrCacheEntryCorrupt, "header: %v", err)
	}

	return !h.ExpiresAt.IsZero() && !now.Before(h.ExpiresAt), nil
}

func (d *DiskStore) Close() error {
	return nil
}
