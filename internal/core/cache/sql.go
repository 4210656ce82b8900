package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"apview/internal/db"
	"apview/internal/metrics"
)

// SQLStore implements Store on the cache_entries table created by the
// db package migrations. Payload size is tracked per row so the byte cap can
// be enforced with an aggregate instead of reading payloads.
type SQLStore struct {
	db       *sql.DB
	driver   string
	maxBytes int64
	now      func() time.Time
}

// NewSQLStore returns a SQLStore over an open, migrated database.
func NewSQLStore(conn *sql.DB, driver string, maxBytes int64) (*SQLStore, error) {
	if conn == nil {
		return nil, errors.New("cache database is nil")
	}
	if maxBytes <= 0 {
		return nil, ErrInvalidMaxSize
	}
	return &SQLStore{db: conn, driver: driver, maxBytes: maxBytes, now: time.Now}, nil
}

func (s *SQLStore) ph(n int) string {
	return db.Placeholder(s.driver, n)
}

// Get implements Store.
func (s *SQLStore) Get(ctx context.Context, key string) (*Entry, bool, error) {
	if key == "" {
		return nil, false, ErrEmptyKey
	}

	var (
		contentType string
		payload     []byte
		compressed  int64
		expiresAt   int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT content_type, payload, compressed, expires_at FROM cache_entries WHERE cache_key = `+s.ph(1),
		key,
	).Scan(&contentType, &payload, &compressed, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query cache entry: %w", err)
	}

	now := s.now()
	expires := time.Unix(0, expiresAt)
	if !now.Before(expires) {
		if err := s.Delete(ctx, key); err != nil {
			slog.Warn("[CACHE] failed to delete expired row", "key", key, "error", err)
		}
		metrics.CacheEvictions.WithLabelValues("ttl").Inc()
		return nil, false, nil
	}

	if compressed != 0 {
		if payload, err = decompress(payload); err != nil {
			return nil, false, err
		}
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE cache_entries SET accessed_at = `+s.ph(1)+` WHERE cache_key = `+s.ph(2),
		now.UnixNano(), key,
	); err != nil {
		slog.Warn("[CACHE] failed to update access time", "key", key, "error", err)
	}

	return &Entry{Payload: payload, ContentType: contentType, ExpiresAt: expires}, true, nil
}

// Set implements Store.
func (s *SQLStore) Set(ctx context.Context, key string, e *Entry, ttl time.Duration) error {
	if err := validateSet(key, e, ttl); err != nil {
		return err
	}

	payload := e.Payload
	var compressed int64
	if compressible(e.ContentType) {
		payload = compress(e.Payload)
		compressed = 1
	}

	now := s.now()
	query := `INSERT INTO cache_entries
		(cache_key, namespace, content_type, payload, compressed, size_bytes, expires_at, accessed_at)
		VALUES (` + s.ph(1) + `, ` + s.ph(2) + `, ` + s.ph(3) + `, ` + s.ph(4) + `, ` +
		s.ph(5) + `, ` + s.ph(6) + `, ` + s.ph(7) + `, ` + s.ph(8) + `)
		ON CONFLICT (cache_key) DO UPDATE SET
			namespace = excluded.namespace,
			content_type = excluded.content_type,
			payload = excluded.payload,
			compressed = excluded.compressed,
			size_bytes = excluded.size_bytes,
			expires_at = excluded.expires_at,
			accessed_at = excluded.accessed_at`

	if _, err := s.db.ExecContext(ctx, query,
		key, Namespace(key), e.ContentType, payload, compressed,
		int64(len(payload)+len(e.ContentType)), now.Add(ttl).UnixNano(), now.UnixNano(),
	); err != nil {
		return fmt.Errorf("upsert cache entry: %w", err)
	}

	if _, err := s.evictLRU(ctx); err != nil {
		slog.Warn("[CACHE] LRU eviction after write failed", "error", err)
	}
	return nil
}

// Delete implements Store.
func (s *SQLStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE cache_key = `+s.ph(1), key)
	return err
}

// Cleanup implements Store.
func (s *SQLStore) Cleanup(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE expires_at <= `+s.ph(1), s.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("delete expired entries: %w", err)
	}
	expired, _ := res.RowsAffected()
	if expired > 0 {
		metrics.CacheEvictions.WithLabelValues("ttl").Add(float64(expired))
	}

	evicted, err := s.evictLRU(ctx)
	if err != nil {
		return int(expired), err
	}
	return int(expired) + evicted, nil
}

// evictLRU deletes rows by ascending access time until the byte cap holds.
// Keys are collected before deleting since SQLite runs on one connection.
func (s *SQLStore) evictLRU(ctx context.Context) (int, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(size_bytes), 0) FROM cache_entries`,
	).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum cache size: %w", err)
	}
	if total <= s.maxBytes {
		return 0, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT cache_key, size_bytes FROM cache_entries ORDER BY accessed_at ASC`)
	if err != nil {
		return 0, fmt.Errorf("list cache entries: %w", err)
	}
	var victims []string
	for total > s.maxBytes && rows.Next() {
		var key string
		var size int64
		if err := rows.Scan(&key, &size); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan cache entry: %w", err)
		}
		victims = append(victims, key)
		total -= size
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	removed := 0
	for _, key := range victims {
		if err := s.Delete(ctx, key); err != nil {
			return removed, err
		}
		removed++
	}
	if removed > 0 {
		metrics.CacheEvictions.WithLabelValues("size").Add(float64(removed))
		slog.Info("[CACHE] LRU eviction completed",
			"entries_removed", removed,
			"new_size_bytes", total,
			"max_size_bytes", s.maxBytes,
		)
	}
	return removed, nil
}

// Stats implements Store.
func (s *SQLStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(size_bytes), 0) FROM cache_entries`,
	).Scan(&st.Entries, &st.Bytes)
	if err != nil {
		return Stats{}, fmt.Errorf("query cache stats: %w", err)
	}
	st.MaxBytes = s.maxBytes
	return st, nil
}

// Close implements Store. The connection belongs to the caller.
func (s *SQLStore) Close() error {
	return nil
}
