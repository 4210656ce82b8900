package cache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"apview/internal/metrics"
)

// maxMemoryEntries bounds the LRU by count; the byte cap normally binds first.
const maxMemoryEntries = 1 << 20

// MemoryStore is an in-process LRU with per-entry TTL and a byte cap.
type MemoryStore struct {
	mu       sync.Mutex
	lru      *lru.Cache[string, *Entry]
	bytes    int64
	maxBytes int64
	now      func() time.Time
}

// NewMemoryStore returns a MemoryStore capped at maxBytes.
func NewMemoryStore(maxBytes int64) (*MemoryStore, error) {
	if maxBytes <= 0 {
		return nil, ErrInvalidMaxSize
	}
	m := &MemoryStore{maxBytes: maxBytes, now: time.Now}
	l, err := lru.NewWithEvict[string, *Entry](maxMemoryEntries, m.onEvict)
	if err != nil {
		return nil, err
	}
	m.lru = l
	return m, nil
}

// onEvict runs inside lru calls, which are only made with m.mu held.
func (m *MemoryStore) onEvict(_ string, e *Entry) {
	m.bytes -= e.Size()
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, key string) (*Entry, bool, error) {
	if key == "" {
		return nil, false, ErrEmptyKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	if e.Expired(m.now()) {
		m.lru.Remove(key)
		metrics.CacheEvictions.WithLabelValues("ttl").Inc()
		return nil, false, nil
	}
	out := *e
	out.Payload = clonePayload(e.Payload)
	return &out, true, nil
}

// Set implements Store.
func (m *MemoryStore) Set(_ context.Context, key string, e *Entry, ttl time.Duration) error {
	if err := validateSet(key, e, ttl); err != nil {
		return err
	}
	stored := &Entry{
		Payload:     clonePayload(e.Payload),
		ContentType: e.ContentType,
		ExpiresAt:   m.now().Add(ttl),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Add on an existing key does not fire the eviction callback.
	if old, ok := m.lru.Peek(key); ok {
		m.bytes -= old.Size()
	}
	m.lru.Add(key, stored)
	m.bytes += stored.Size()

	for m.bytes > m.maxBytes {
		if _, _, ok := m.lru.RemoveOldest(); !ok {
			break
		}
		metrics.CacheEvictions.WithLabelValues("size").Inc()
	}
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lru.Remove(key)
	return nil
}

// Cleanup implements Store.
func (m *MemoryStore) Cleanup(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for _, key := range m.lru.Keys() {
		e, ok := m.lru.Peek(key)
		if ok && e.Expired(now) {
			m.lru.Remove(key)
			removed++
		}
	}
	if removed > 0 {
		metrics.CacheEvictions.WithLabelValues("ttl").Add(float64(removed))
	}
	return removed, nil
}

// Stats implements Store.
func (m *MemoryStore) Stats(_ context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{Entries: m.lru.Len(), Bytes: m.bytes, MaxBytes: m.maxBytes}, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lru.Purge()
	return nil
}
