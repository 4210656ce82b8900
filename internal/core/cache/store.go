// Package cache provides the TTL-bounded, size-capped store shared by the
// activity resolver and the media proxy.
//
// Keys are namespaced strings ("activity:<url>", "media:<url>"). Entries are
// evicted on TTL expiry or, once the global byte cap is reached, least
// recently used first. Entries are replaced on Set, never mutated in place.
//
// Backends:
//   - DiskStore: files under a base directory (default)
//   - MemoryStore: in-process LRU
//   - SQLStore: SQLite or PostgreSQL table
package cache

import (
	"context"
	"errors"
	"strings"
	"time"
)

const (
	// NamespaceActivity holds resolved ActivityPub documents.
	NamespaceActivity = "activity"
	// NamespaceMedia holds proxied media bytes.
	NamespaceMedia = "media"

	// MaxEntryBytes is the per-entry payload ceiling. Larger payloads are
	// served by callers but never stored.
	MaxEntryBytes = 10 << 20

	// DefaultMaxBytes is the default global cap (500 MiB).
	DefaultMaxBytes = 500 << 20
)

var (
	// ErrEmptyKey is returned when a key is empty.
	ErrEmptyKey = errors.New("cache key is empty")
	// ErrNilEntry is returned by Set when no entry is given.
	ErrNilEntry = errors.New("cache entry is nil")
	// ErrEntryTooLarge is returned by Set when the payload exceeds MaxEntryBytes.
	ErrEntryTooLarge = errors.New("cache entry exceeds per-entry size limit")
	// ErrInvalidTTL is returned by Set for a non-positive TTL.
	ErrInvalidTTL = errors.New("cache TTL must be positive")
	// ErrInvalidBasePath is returned when the disk cache base path is empty.
	ErrInvalidBasePath = errors.New("cache base path cannot be empty")
	// ErrInvalidMaxSize is returned when the byte cap is not positive.
	ErrInvalidMaxSize = errors.New("cache max size must be positive")
)

// Entry is a cached payload.
type Entry struct {
	Payload     []byte
	ContentType string
	ExpiresAt   time.Time
}

// Expired reports whether the entry is past its expiry at now.
func (e *Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Size is the number of bytes the entry counts against the cap.
func (e *Entry) Size() int64 {
	return int64(len(e.Payload) + len(e.ContentType))
}

// Store is implemented by every cache backend. Implementations are safe for
// concurrent use.
type Store interface {
	// Get returns the live entry for key. A missing or expired entry is
	// (nil, false, nil).
	Get(ctx context.Context, key string) (*Entry, bool, error)

	// Set stores payload and content type under key for ttl, replacing any
	// existing entry. e.ExpiresAt is ignored.
	Set(ctx context.Context, key string, e *Entry, ttl time.Duration) error

	// Delete removes key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error

	// Cleanup removes expired entries, then evicts least recently used
	// entries until the store is under its cap. Returns entries removed.
	Cleanup(ctx context.Context) (int, error)

	// Stats reports the current entry count and byte size.
	Stats(ctx context.Context) (Stats, error)

	// Close releases backend resources.
	Close() error
}

// Stats summarises a store.
type Stats struct {
	Entries  int
	Bytes    int64
	MaxBytes int64
}

// Key builds a namespaced key.
func Key(namespace, rawURL string) string {
	return namespace + ":" + rawURL
}

// Namespace returns the namespace prefix of key, or "" when key has none.
func Namespace(key string) string {
	ns, _, ok := strings.Cut(key, ":")
	if !ok {
		return ""
	}
	return ns
}

func validateSet(key string, e *Entry, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	if e == nil {
		return ErrNilEntry
	}
	if len(e.Payload) > MaxEntryBytes {
		return ErrEntryTooLarge
	}
	return nil
}

func clonePayload(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
