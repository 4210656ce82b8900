package media

import (
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultMaxMediaBytes is the hard ceiling on media read into memory.
	// Bodies above the cache's per-entry limit are served but not cached.
	DefaultMaxMediaBytes = 100 << 20

	// DefaultTTL is how long media stays cached and the max-age sent to clients.
	DefaultTTL = time.Hour

	// DefaultFetchTimeout bounds a single media fetch.
	DefaultFetchTimeout = 15 * time.Second
)

// Config validation errors
var (
	// ErrInvalidFetchTimeout is returned when FetchTimeout is not positive
	ErrInvalidFetchTimeout = errors.New("FetchTimeout must be positive")
	// ErrInvalidMaxMediaSize is returned when MaxMediaBytes is not positive
	ErrInvalidMaxMediaSize = errors.New("MaxMediaBytes must be positive")
	// ErrInvalidTTL is returned when TTL is not positive
	ErrInvalidTTL = errors.New("TTL must be positive")
)

// Config holds the configuration for the media proxy service.
type Config struct {
	// TTL is the cache lifetime of fetched media and the Cache-Control max-age.
	TTL time.Duration

	// FetchTimeout is the maximum time allowed for one media fetch, redirects
	// included.
	FetchTimeout time.Duration

	// MaxMediaBytes is the largest response the proxy will serve.
	MaxMediaBytes int64

	// Dedup collapses concurrent cold fetches of the same URL into one
	// upstream request.
	Dedup bool
}

// Validate checks the configuration for invalid values.
func (c Config) Validate() error {
	if c.TTL <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidTTL, c.TTL)
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidFetchTimeout, c.FetchTimeout)
	}
	if c.MaxMediaBytes <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidMaxMediaSize, c.MaxMediaBytes)
	}
	return nil
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		TTL:           DefaultTTL,
		FetchTimeout:  DefaultFetchTimeout,
		MaxMediaBytes: DefaultMaxMediaBytes,
	}
}
