// Package config loads apview settings from the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Prefix is the environment prefix for every setting. MEDIA_HMAC_SECRET is
// also read without it.
const Prefix = "APVIEW"

// Cache backends
const (
	BackendDisk   = "disk"
	BackendMemory = "memory"
	BackendSQL    = "sql"
)

// Config validation errors
var (
	ErrInvalidBackend   = errors.New("unsupported cache backend")
	ErrInvalidCacheSize = errors.New("cache size must be positive")
	ErrInvalidTTL       = errors.New("TTL must be positive")
	ErrInvalidTimeout   = errors.New("timeout must be positive")
	ErrInvalidRedirects = errors.New("max redirects must be positive")
	ErrInvalidPublicURL = errors.New("public URL must be an absolute http(s) URL")
	ErrInvalidLogFormat = errors.New("log format must be json or text")
	ErrShortSecret      = errors.New("media HMAC secret must be at least 16 bytes")
)

// Config holds all server settings.
type Config struct {
	ListenAddr string `envconfig:"LISTEN_ADDR" default:":5000"`
	PublicURL  string `envconfig:"PUBLIC_URL" default:"http://localhost:5000"`

	// MediaSecret keys the media URL signatures. Empty means a random key
	// per process.
	MediaSecret string `envconfig:"MEDIA_HMAC_SECRET"`

	CacheBackend    string        `envconfig:"CACHE_BACKEND" default:"disk"`
	CacheDir        string        `envconfig:"CACHE_DIR" default:"./data/cache"`
	CacheDSN        string        `envconfig:"CACHE_DATABASE_URL" default:"sqlite://./data/cache.db"`
	CacheMaxMB      int64         `envconfig:"CACHE_MAX_MB" default:"500"`
	CleanupInterval time.Duration `envconfig:"CACHE_CLEANUP_INTERVAL" default:"30m"`

	ActivityTTL     time.Duration `envconfig:"ACTIVITY_TTL" default:"300s"`
	MediaTTL        time.Duration `envconfig:"MEDIA_TTL" default:"3600s"`
	ActivityTimeout time.Duration `envconfig:"ACTIVITY_TIMEOUT" default:"10s"`
	MediaTimeout    time.Duration `envconfig:"MEDIA_TIMEOUT" default:"15s"`
	MaxRedirects    int           `envconfig:"MAX_REDIRECTS" default:"5"`
	FetchDedup      bool          `envconfig:"FETCH_DEDUP" default:"false"`

	// BreakerThreshold is the number of consecutive transport failures that
	// open a host's circuit. Zero disables the breaker.
	BreakerThreshold int           `envconfig:"BREAKER_THRESHOLD" default:"0"`
	BreakerOpenFor   time.Duration `envconfig:"BREAKER_OPEN_FOR" default:"1m"`

	SignedFetch    bool   `envconfig:"SIGNED_FETCH" default:"false"`
	PrivateKeyPath string `envconfig:"PRIVATE_KEY_PATH" default:"./data/keys/private.pem"`
	PublicKeyPath  string `envconfig:"PUBLIC_KEY_PATH" default:"./data/keys/public.pem"`

	// RateLimit is requests per minute per client IP. Zero disables it.
	RateLimit int `envconfig:"RATE_LIMIT" default:"300"`

	// TrustProxy honours X-Forwarded-For and X-Real-IP. Enable only behind a
	// reverse proxy that sets them.
	TrustProxy bool `envconfig:"TRUST_PROXY" default:"false"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}
	cfg.CacheBackend = strings.ToLower(strings.TrimSpace(cfg.CacheBackend))
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	switch c.CacheBackend {
	case BackendDisk, BackendMemory, BackendSQL:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidBackend, c.CacheBackend)
	}
	if c.CacheMaxMB <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidCacheSize, c.CacheMaxMB)
	}
	if c.ActivityTTL <= 0 || c.MediaTTL <= 0 {
		return fmt.Errorf("%w: activity %v, media %v", ErrInvalidTTL, c.ActivityTTL, c.MediaTTL)
	}
	if c.ActivityTimeout <= 0 || c.MediaTimeout <= 0 {
		return fmt.Errorf("%w: activity %v, media %v", ErrInvalidTimeout, c.ActivityTimeout, c.MediaTimeout)
	}
	if c.MaxRedirects <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidRedirects, c.MaxRedirects)
	}
	if c.MediaSecret != "" && len(c.MediaSecret) < 16 {
		return ErrShortSecret
	}
	u, err := url.Parse(c.PublicURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidPublicURL, c.PublicURL)
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("%w: %q", ErrInvalidLogFormat, c.LogFormat)
	}
	return nil
}

// CacheMaxBytes returns the cache cap in bytes.
func (c *Config) CacheMaxBytes() int64 {
	return c.CacheMaxMB << 20
}
