package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cyelis1224/moescape-exporter-sub001/internal/cache"
)

// CacheBackend keeps cache entries in the store's database so they survive
// between invocations. Expired rows are left in place and read as misses by
// cache.Store; Save replaces them.
type CacheBackend struct {
	db *sql.DB
}

var _ cache.Backend = (*CacheBackend)(nil)

func (s *Store) CacheBackend() *CacheBackend {
	return &CacheBackend{db: s.db}
}

func (c *CacheBackend) Load(ctx context.Context, ns cache.Namespace, key string) (cache.Entry, bool, error) {
	var (
		data     []byte
		storedAt int64
		ttlMs    int64
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT data, stored_at, ttl_ms FROM cache_entries WHERE namespace = ? AND key = ?`,
		string(ns), key,
	).Scan(&data, &storedAt, &ttlMs)
	if errors.Is(err, sql.ErrNoRows) {
		return cache.Entry{}, false, nil
	}
	if err != nil {
		return cache.Entry{}, false, fmt.Errorf("failed to load cache entry: %w", err)
	}
	return cache.Entry{
		Data:      data,
		Timestamp: time.UnixMilli(storedAt),
		TTL:       time.Duration(ttlMs) * time.Millisecond,
	}, true, nil
}

func (c *CacheBackend) Save(ctx context.Context, ns cache.Namespace, key string, e cache.Entry) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO cache_entries (namespace, key, data, stored_at, ttl_ms)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET
			data = excluded.data,
			stored_at = excluded.stored_at,
			ttl_ms = excluded.ttl_ms
	`, string(ns), key, []byte(e.Data), e.Timestamp.UnixMilli(), e.TTL.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to save cache entry: %w", err)
	}
	return nil
}

func (c *CacheBackend) Delete(ctx context.Context, ns cache.Namespace, key string) error {
	_, err := c.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE namespace = ? AND key = ?`, string(ns), key)
	if err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

func (c *CacheBackend) Clear(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM cache_entries`); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}
