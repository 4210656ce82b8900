package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("MEDIA_HMAC_SECRET", "")
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":5000", cfg.ListenAddr)
	assert.Equal(t, BackendDisk, cfg.CacheBackend)
	assert.Equal(t, int64(500<<20), cfg.CacheMaxBytes())
	assert.Equal(t, 300*time.Second, cfg.ActivityTTL)
	assert.Equal(t, time.Hour, cfg.MediaTTL)
	assert.Equal(t, 10*time.Second, cfg.ActivityTimeout)
	assert.Equal(t, 15*time.Second, cfg.MediaTimeout)
	assert.Equal(t, 5, cfg.MaxRedirects)
	assert.False(t, cfg.SignedFetch)
	assert.False(t, cfg.FetchDedup)
	assert.Zero(t, cfg.BreakerThreshold)
	assert.False(t, cfg.TrustProxy)
	assert.Equal(t, time.Minute, cfg.BreakerOpenFor)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Empty(t, cfg.MediaSecret)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("APVIEW_LISTEN_ADDR", ":9000")
	t.Setenv("APVIEW_CACHE_BACKEND", "SQL")
	t.Setenv("APVIEW_CACHE_MAX_MB", "64")
	t.Setenv("APVIEW_MEDIA_TTL", "10m")
	t.Setenv("APVIEW_FETCH_DEDUP", "true")
	t.Setenv("APVIEW_LOG_FORMAT", "Text")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, BackendSQL, cfg.CacheBackend)
	assert.Equal(t, int64(64<<20), cfg.CacheMaxBytes())
	assert.Equal(t, 10*time.Minute, cfg.MediaTTL)
	assert.True(t, cfg.FetchDedup)
	assert.Equal(t, "text", cfg.LogFormat)
}

func TestLoad_SecretWithAndWithoutPrefix(t *testing.T) {
	t.Setenv("MEDIA_HMAC_SECRET", "unprefixed-secret-value")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "unprefixed-secret-value", cfg.MediaSecret)

	t.Setenv("APVIEW_MEDIA_HMAC_SECRET", "prefixed-secret-value")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, "prefixed-secret-value", cfg.MediaSecret, "prefixed variable wins")
}

func TestLoad_BadValue(t *testing.T) {
	t.Setenv("APVIEW_MAX_REDIRECTS", "many")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			PublicURL:       "https://viewer.example",
			CacheBackend:    BackendMemory,
			CacheMaxMB:      1,
			ActivityTTL:     time.Minute,
			MediaTTL:        time.Minute,
			ActivityTimeout: time.Second,
			MediaTimeout:    time.Second,
			MaxRedirects:    1,
			LogFormat:       "json",
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"backend", func(c *Config) { c.CacheBackend = "redis" }, ErrInvalidBackend},
		{"cache size", func(c *Config) { c.CacheMaxMB = 0 }, ErrInvalidCacheSize},
		{"activity ttl", func(c *Config) { c.ActivityTTL = 0 }, ErrInvalidTTL},
		{"media ttl", func(c *Config) { c.MediaTTL = -time.Second }, ErrInvalidTTL},
		{"timeout", func(c *Config) { c.MediaTimeout = 0 }, ErrInvalidTimeout},
		{"redirects", func(c *Config) { c.MaxRedirects = 0 }, ErrInvalidRedirects},
		{"short secret", func(c *Config) { c.MediaSecret = "short" }, ErrShortSecret},
		{"public url scheme", func(c *Config) { c.PublicURL = "ftp://viewer.example" }, ErrInvalidPublicURL},
		{"public url relative", func(c *Config) { c.PublicURL = "/viewer" }, ErrInvalidPublicURL},
		{"log format", func(c *Config) { c.LogFormat = "xml" }, ErrInvalidLogFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), tt.want)
		})
	}
}
