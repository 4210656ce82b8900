package cache

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"

	"apview/internal/metrics"
)

// DiskStore implements Store on the filesystem.
// Layout: {basePath}/{namespace}/{hash[:2]}/{hash}, where hash is the
// BLAKE3 digest of the full key. Each file holds a CBOR diskRecord.
type DiskStore struct {
	basePath string
	maxBytes int64
	now      func() time.Time

	// approxBytes tracks writes since the last scan so eviction only walks
	// the tree when the cap may have been crossed.
	approxBytes atomic.Int64
	evictMu     sync.Mutex
}

type diskRecord struct {
	Key         string `cbor:"1,keyasint"`
	ContentType string `cbor:"2,keyasint,omitempty"`
	ExpiresAt   int64  `cbor:"3,keyasint"`
	Compressed  bool   `cbor:"4,keyasint,omitempty"`
	Payload     []byte `cbor:"5,keyasint"`
}

// NewDiskStore returns a DiskStore rooted at basePath, capped at maxBytes.
func NewDiskStore(basePath string, maxBytes int64) (*DiskStore, error) {
	if basePath == "" {
		return nil, ErrInvalidBasePath
	}
	if maxBytes <= 0 {
		return nil, ErrInvalidMaxSize
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	d := &DiskStore{basePath: basePath, maxBytes: maxBytes, now: time.Now}

	_, total, err := d.scan()
	if err != nil {
		return nil, fmt.Errorf("scan cache dir: %w", err)
	}
	d.approxBytes.Store(total)
	return d, nil
}

// makeNamespaceSafe sanitizes a namespace for use as a directory name.
func makeNamespaceSafe(ns string) string {
	s := strings.ReplaceAll(ns, "/", "")
	s = strings.ReplaceAll(s, "\\", "")
	s = strings.ReplaceAll(s, "..", "")
	s = strings.ReplaceAll(s, "\x00", "")
	if s == "" {
		return "_"
	}
	return s
}

func (d *DiskStore) path(key string) string {
	sum := blake3.Sum256([]byte(key))
	h := hex.EncodeToString(sum[:])
	return filepath.Join(d.basePath, makeNamespaceSafe(Namespace(key)), h[:2], h)
}

// Get implements Store. Hits refresh the file mtime for LRU tracking.
func (d *DiskStore) Get(_ context.Context, key string) (*Entry, bool, error) {
	if key == "" {
		return nil, false, ErrEmptyKey
	}
	path := d.path(key)

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}

	var rec diskRecord
	if err := cbor.Unmarshal(raw, &rec); err != nil {
		slog.Warn("[CACHE] removing unreadable cache file", "path", path, "error", err)
		d.remove(path, int64(len(raw)))
		return nil, false, nil
	}
	if rec.Key != key {
		return nil, false, nil
	}

	now := d.now()
	expires := time.Unix(0, rec.ExpiresAt)
	if !now.Before(expires) {
		d.remove(path, int64(len(raw)))
		metrics.CacheEvictions.WithLabelValues("ttl").Inc()
		return nil, false, nil
	}

	payload := rec.Payload
	if rec.Compressed {
		if payload, err = decompress(payload); err != nil {
			return nil, false, err
		}
	}

	if chtimesErr := os.Chtimes(path, now, now); chtimesErr != nil {
		slog.Warn("[CACHE] failed to update mtime for LRU tracking",
			"path", path,
			"error", chtimesErr,
		)
	}

	return &Entry{Payload: payload, ContentType: rec.ContentType, ExpiresAt: expires}, true, nil
}

// Set implements Store. The file is written to a temp name and renamed so
// concurrent readers never observe a partial entry.
func (d *DiskStore) Set(_ context.Context, key string, e *Entry, ttl time.Duration) error {
	if err := validateSet(key, e, ttl); err != nil {
		return err
	}

	rec := diskRecord{
		Key:         key,
		ContentType: e.ContentType,
		ExpiresAt:   d.now().Add(ttl).UnixNano(),
		Payload:     e.Payload,
	}
	if compressible(e.ContentType) {
		rec.Payload = compress(e.Payload)
		rec.Compressed = true
	}
	raw, err := cbor.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	path := d.path(key)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	var previous int64
	if info, statErr := os.Stat(path); statErr == nil {
		previous = info.Size()
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}

	if d.approxBytes.Add(int64(len(raw))-previous) > d.maxBytes {
		if _, err := d.EvictLRU(); err != nil {
			slog.Warn("[CACHE] LRU eviction after write failed", "error", err)
		}
	}
	return nil
}

// Delete implements Store.
func (d *DiskStore) Delete(_ context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	path := d.path(key)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	d.approxBytes.Add(-info.Size())
	return nil
}

func (d *DiskStore) remove(path string, size int64) {
	if err := os.Remove(path); err == nil {
		d.approxBytes.Add(-size)
	}
}

// diskEntry is a cached file with its metadata.
type diskEntry struct {
	path    string
	size    int64
	modTime time.Time
}

// scan walks the cache directory and returns all cache files.
func (d *DiskStore) scan() ([]diskEntry, int64, error) {
	var entries []diskEntry
	var totalSize int64

	err := filepath.WalkDir(d.basePath, func(path string, de fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if de.IsDir() || strings.HasSuffix(path, ".tmp") {
			return nil
		}

		info, err := de.Info()
		if err != nil {
			slog.Warn("[CACHE] failed to stat file during cache scan, cache size may be inaccurate",
				"path", path,
				"error", err,
			)
			return nil
		}

		entries = append(entries, diskEntry{
			path:    path,
			size:    info.Size(),
			modTime: info.ModTime(),
		})
		totalSize += info.Size()
		return nil
	})

	if err != nil && !os.IsNotExist(err) {
		return nil, 0, err
	}
	return entries, totalSize, nil
}

// EvictLRU removes the least recently used entries until the cache is under
// the size limit. Returns the number of entries removed.
func (d *DiskStore) EvictLRU() (int, error) {
	d.evictMu.Lock()
	defer d.evictMu.Unlock()

	entries, totalSize, err := d.scan()
	if err != nil {
		return 0, err
	}
	defer func() { d.approxBytes.Store(totalSize) }()

	if totalSize <= d.maxBytes {
		return 0, nil
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].modTime.Before(entries[j].modTime)
	})

	removed := 0
	for _, entry := range entries {
		if totalSize <= d.maxBytes {
			break
		}
		if err := os.Remove(entry.path); err != nil {
			if !os.IsNotExist(err) {
				slog.Warn("[CACHE] failed to remove cache entry during LRU eviction",
					"path", entry.path,
					"error", err,
				)
			}
			continue
		}
		totalSize -= entry.size
		removed++
	}

	if removed > 0 {
		metrics.CacheEvictions.WithLabelValues("size").Add(float64(removed))
		slog.Info("[CACHE] LRU eviction completed",
			"entries_removed", removed,
			"new_size_bytes", totalSize,
			"max_size_bytes", d.maxBytes,
		)
	}
	return removed, nil
}

// CleanExpired removes entries whose recorded expiry has passed.
func (d *DiskStore) CleanExpired() (int, error) {
	entries, _, err := d.scan()
	if err != nil {
		return 0, err
	}

	now := d.now()
	removed := 0
	for _, entry := range entries {
		raw, err := os.ReadFile(entry.path)
		if err != nil {
			continue
		}
		var rec diskRecord
		if err := cbor.Unmarshal(raw, &rec); err == nil && now.Before(time.Unix(0, rec.ExpiresAt)) {
			continue
		}
		if err := os.Remove(entry.path); err != nil {
			if !os.IsNotExist(err) {
				slog.Warn("[CACHE] failed to remove expired cache entry",
					"path", entry.path,
					"error", err,
				)
			}
			continue
		}
		d.approxBytes.Add(-entry.size)
		removed++
	}

	if removed > 0 {
		metrics.CacheEvictions.WithLabelValues("ttl").Add(float64(removed))
		slog.Info("[CACHE] TTL cleanup completed", "entries_removed", removed)
	}
	return removed, nil
}

// Cleanup implements Store. Expired entries go first, then LRU eviction runs
// if the cache is still over its cap.
func (d *DiskStore) Cleanup(_ context.Context) (int, error) {
	ttlRemoved, err := d.CleanExpired()
	if err != nil {
		return 0, err
	}
	lruRemoved, err := d.EvictLRU()
	if err != nil {
		return ttlRemoved, err
	}
	total := ttlRemoved + lruRemoved
	if total > 0 {
		if err := d.cleanEmptyDirs(); err != nil {
			slog.Warn("[CACHE] failed to clean empty directories", "error", err)
		}
	}
	return total, nil
}

// Stats implements Store.
func (d *DiskStore) Stats(_ context.Context) (Stats, error) {
	entries, total, err := d.scan()
	if err != nil {
		return Stats{}, err
	}
	return Stats{Entries: len(entries), Bytes: total, MaxBytes: d.maxBytes}, nil
}

// Close implements Store.
func (d *DiskStore) Close() error {
	return nil
}

// cleanEmptyDirs removes empty directories under the base path, deepest first.
func (d *DiskStore) cleanEmptyDirs() error {
	var dirs []string
	err := filepath.WalkDir(d.basePath, func(path string, de fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			slog.Warn("[CACHE] error during empty dir cleanup scan", "path", path, "error", err)
			return nil
		}
		if de.IsDir() && path != d.basePath {
			dirs = append(dirs, path)
		}
		return nil
	})
	if err != nil {
		return err
	}

	sort.Slice(dirs, func(i, j int) bool {
		return len(dirs[i]) > len(dirs[j])
	})

	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			continue
		}
		if err := os.Remove(dir); err != nil {
			slog.Warn("[CACHE] failed to remove empty directory", "path", dir, "error", err)
		}
	}
	return nil
}
