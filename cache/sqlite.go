package cache

import (
	"context"
	"database/sql"
	"path/filepath"
	"time"

	"github.com/saiset-co/sai-og/types"
	"github.com/saiset-co/sai-og/utils"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS og_cache (
	key          TEXT PRIMARY KEY,
	content_type TEXT NOT NULL,
	width        INTEGER NOT NULL,
	height       INTEGER NOT NULL,
	created_at   INTEGER NOT NULL,
	expires_at   INTEGER NOT NULL,
	data         BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS og_cache_expires_at ON og_cache (expires_at);`

type SQLiteConfig struct {
	Path string `json:"path"`
}

// SQLiteStore keeps entries in a single table. The driver is chosen at
// build time: modernc.org/sqlite by default, mattn/go-sqlite3 with the
// cgo_sqlite tag.
type SQLiteStore struct {
	logger types.Logger
	config *SQLiteConfig
	db     *sql.DB
	now    func() time.Time
}

func NewSQLiteStore(ctx context.Context, logger types.Logger, config *types.PersistentCacheConfig) (types.PersistentStore, error) {
	sqliteConfig := &SQLiteConfig{
		Path: "og_cache.db",
	}

	if config.Config != nil {
		if err := utils.UnmarshalConfig(config.Config, sqliteConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal sqlite cache config")
		}
	}

	db, err := openSQLite(filepath.Clean(sqliteConfig.Path))
	if err != nil {
		return nil, types.WrapError(err, "failed to open sqlite cache")
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, types.WrapError(err, "failed to create sqlite cache schema")
	}

	return &SQLiteStore{
		logger: logger,
		config: sqliteConfig,
		db:     db,
		now:    time.Now,
	}, nil
}

func (s *SQLiteStore) Name() string {
	return "sqlite"
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (*types.CacheEntry, bool, error) {
	var (
		entry     types.CacheEntry
		createdAt int64
		expiresAt int64
	)

	err := s.db.QueryRowContext(ctx,
		`SELECT content_type, width, height, created_at, expires_at, data FROM og_cache WHERE key = ?`, key,
	).Scan(&entry.ContentType, &entry.Width, &entry.Height, &createdAt, &expiresAt, &entry.Data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, types.WrapError(err, "failed to query sqlite cache")
	}

	entry.CreatedAt = time.Unix(0, createdAt)
	if expiresAt > 0 {
		entry.ExpiresAt = time.Unix(0, expiresAt)
	}

	if entry.Expired(s.now()) {
		return nil, false, nil
	}

	return &entry, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key string, entry *types.CacheEntry) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	var expiresAt int64
	if !entry.ExpiresAt.IsZero() {
		expiresAt = entry.ExpiresAt.UnixNano()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO og_cache (key, content_type, width, height, created_at, expires_at, data) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		key, entry.ContentType, entry.Width, entry.Height, entry.CreatedAt.UnixNano(), expiresAt, entry.Data,
	)
	if err != nil {
		return types.WrapError(err, "failed to write sqlite cache")
	}

	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM og_cache WHERE key = ?`, key); err != nil {
		return types.WrapError(err, "failed to delete from sqlite cache")
	}
	return nil
}

func (s *SQLiteStore) Sweep(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM og_cache WHERE expires_at > 0 AND expires_at <= ?`, s.now().UnixNano())
	if err != nil {
		return 0, types.WrapError(err, "failed to sweep sqlite cache")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
