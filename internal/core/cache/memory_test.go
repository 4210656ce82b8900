package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMemoryStore_InvalidMax(t *testing.T) {
	_, err := NewMemoryStore(0)
	assert.ErrorIs(t, err, ErrInvalidMaxSize)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s, err := NewMemoryStore(DefaultMaxBytes)
	require.NoError(t, err)
	ctx := context.Background()
	key := Key(NamespaceMedia, "https://example.com/a.png")

	payload := []byte("original")
	require.NoError(t, s.Set(ctx, key, &Entry{Payload: payload, ContentType: "image/png"}, time.Hour))
	payload[0] = 'X'

	got, ok, err := s.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "original", string(got.Payload))

	got.Payload[0] = 'Y'
	again, _, _ := s.Get(ctx, key)
	assert.Equal(t, "original", string(again.Payload))
}

func TestMemoryStore_ByteAccounting(t *testing.T) {
	s, err := NewMemoryStore(DefaultMaxBytes)
	require.NoError(t, err)
	ctx := context.Background()
	key := Key(NamespaceMedia, "https://example.com/a.png")

	require.NoError(t, s.Set(ctx, key, &Entry{Payload: make([]byte, 100), ContentType: "image/png"}, time.Hour))
	require.NoError(t, s.Set(ctx, key, &Entry{Payload: make([]byte, 40), ContentType: "image/png"}, time.Hour))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(40+len("image/png")), stats.Bytes)

	require.NoError(t, s.Delete(ctx, key))
	stats, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Bytes)
	assert.Equal(t, 0, stats.Entries)
}
