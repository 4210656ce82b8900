package activity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apview/internal/core/apperr"
	"apview/internal/core/breaker"
	"apview/internal/core/cache"
	"apview/internal/core/netguard"
	"apview/internal/core/signing"
)

// fakeFetcher serves canned responses by URL and counts calls.
type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string]*Response
	errs      map[string]error
	calls     map[string]int
	accepts   map[string]string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		responses: make(map[string]*Response),
		errs:      make(map[string]error),
		calls:     make(map[string]int),
		accepts:   make(map[string]string),
	}
}

func (f *fakeFetcher) json(rawURL, contentType, body string) {
	f.responses[rawURL] = &Response{
		FinalURL:    rawURL,
		StatusCode:  http.StatusOK,
		ContentType: contentType,
		Body:        []byte(body),
	}
}

func (f *fakeFetcher) Get(_ context.Context, rawURL, accept string) (*Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[rawURL]++
	f.accepts[rawURL] = accept
	if err, ok := f.errs[rawURL]; ok {
		return nil, err
	}
	if resp, ok := f.responses[rawURL]; ok {
		out := *resp
		return &out, nil
	}
	return &Response{FinalURL: rawURL, StatusCode: http.StatusNotFound}, nil
}

func (f *fakeFetcher) count(rawURL string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[rawURL]
}

func testSigner(t *testing.T) *signing.Signer {
	t.Helper()
	s, err := signing.NewSigner([]byte("test-secret-key-0123456789"))
	require.NoError(t, err)
	return s
}

func testStore(t *testing.T) cache.Store {
	t.Helper()
	s, err := cache.NewMemoryStore(cache.DefaultMaxBytes)
	require.NoError(t, err)
	return s
}

func TestResolver_ResolvesAndSignsMedia(t *testing.T) {
	const noteURL = "https://example.com/notes/1"
	fetcher := newFakeFetcher()
	fetcher.json(noteURL, "application/activity+json; charset=utf-8",
		`{"type":"Note","content":"hi","attachment":[{"url":"https://cdn.example.com/a.png"}]}`)
	signer := testSigner(t)

	r := NewResolver(fetcher, testStore(t), signer)
	res, err := r.Resolve(context.Background(), "  "+noteURL+" ")
	require.NoError(t, err)

	assert.Equal(t, noteURL, res.URL)
	assert.Equal(t, noteURL, res.FinalURL)
	assert.False(t, res.Redirected)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "application/activity+json; charset=utf-8", res.ContentType)
	assert.False(t, res.Cached)
	assert.JSONEq(t, `{"type":"Note","content":"hi","attachment":[{"url":"https://cdn.example.com/a.png"}]}`, string(res.Content))

	require.Len(t, res.SignedMedia, 1)
	assert.True(t, signer.Verify("https://cdn.example.com/a.png", res.SignedMedia["https://cdn.example.com/a.png"]))
}

func TestResolver_CacheHitResignsWithoutFetching(t *testing.T) {
	const actorURL = "https://example.com/users/alice"
	fetcher := newFakeFetcher()
	fetcher.json(actorURL, "application/activity+json", `{"type":"Person","icon":{"url":"https://cdn/a.png"}}`)
	store := testStore(t)

	first := NewResolver(fetcher, store, testSigner(t))
	_, err := first.Resolve(context.Background(), actorURL)
	require.NoError(t, err)

	// A resolver with a different key shares the cache but signs with its own key.
	otherSigner, err := signing.NewSigner([]byte("another-secret-key-abcdef"))
	require.NoError(t, err)
	second := NewResolver(fetcher, store, otherSigner)

	res, err := second.Resolve(context.Background(), actorURL)
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.Equal(t, 1, fetcher.count(actorURL))
	assert.True(t, otherSigner.Verify("https://cdn/a.png", res.SignedMedia["https://cdn/a.png"]))

	// The cached entry holds the document, never a signature.
	entry, found, err := store.Get(context.Background(), cache.Key(cache.NamespaceActivity, actorURL))
	require.NoError(t, err)
	require.True(t, found)
	assert.NotContains(t, string(entry.Payload), res.SignedMedia["https://cdn/a.png"])
}

func TestResolver_Redirected(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.responses["https://example.com/@alice"] = &Response{
		FinalURL:    "https://example.com/users/alice",
		StatusCode:  http.StatusOK,
		ContentType: "application/activity+json",
		Body:        []byte(`{"type":"Person"}`),
	}

	res, err := NewResolver(fetcher, nil, testSigner(t)).Resolve(context.Background(), "https://example.com/@alice")
	require.NoError(t, err)
	assert.True(t, res.Redirected)
	assert.Equal(t, "https://example.com/users/alice", res.FinalURL)
	assert.Nil(t, res.SignedMedia)
}

func TestResolver_Errors(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.json("https://example.com/html", "text/html", `<html></html>`)
	fetcher.json("https://example.com/plain", "application/json", `{"foo":"bar"}`)
	fetcher.json("https://example.com/broken", "application/json", `{"foo":`)
	fetcher.responses["https://example.com/gone"] = &Response{StatusCode: http.StatusGone}
	fetcher.responses["https://example.com/teapot"] = &Response{StatusCode: http.StatusTeapot}
	fetcher.errs["https://example.com/down"] = fmt.Errorf("%w: connection refused", ErrFetchFailed)
	fetcher.errs["https://example.com/slow"] = fmt.Errorf("%w: request timed out", ErrFetchTimeout)
	fetcher.errs["https://example.com/huge"] = fmt.Errorf("%w: exceeds 5 bytes", ErrBodyTooLarge)
	fetcher.errs["https://example.com/tripped"] = fmt.Errorf("%w: example.com", breaker.ErrOpen)
	fetcher.errs["https://example.com/rebind"] = &netguard.RejectedError{Target: "10.0.0.1:443", Reason: netguard.ErrBlockedAddress}

	tests := []struct {
		url     string
		kind    apperr.Kind
		status  int
		message string
	}{
		{"", apperr.KindValidation, http.StatusBadRequest, "URL is required"},
		{"https://example.com/html", apperr.KindValidation, http.StatusBadRequest, "Content is not ActivityPub"},
		{"https://example.com/plain", apperr.KindValidation, http.StatusBadRequest, "Content is not ActivityPub"},
		{"https://example.com/broken", apperr.KindValidation, http.StatusBadRequest, "Invalid JSON in response"},
		{"https://example.com/gone", apperr.KindUpstream, http.StatusGone, "Gone"},
		{"https://example.com/teapot", apperr.KindUpstream, http.StatusTeapot, "HTTP 418 Error"},
		{"https://example.com/missing", apperr.KindUpstream, http.StatusNotFound, "Not Found"},
		{"https://example.com/down", apperr.KindUpstream, http.StatusInternalServerError, "Failed to fetch URL"},
		{"https://example.com/slow", apperr.KindUpstream, http.StatusGatewayTimeout, "Upstream request timed out"},
		{"https://example.com/huge", apperr.KindUpstream, http.StatusBadGateway, "Upstream response too large"},
		{"https://example.com/tripped", apperr.KindUpstream, http.StatusServiceUnavailable, "Upstream host temporarily unavailable"},
		{"https://example.com/rebind", apperr.KindForbidden, http.StatusForbidden, "Local network access is not allowed"},
	}

	r := NewResolver(fetcher, testStore(t), testSigner(t))
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			_, err := r.Resolve(context.Background(), tt.url)
			require.Error(t, err)

			var appErr *apperr.Error
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, tt.kind, appErr.Kind)
			assert.Equal(t, tt.status, appErr.Status)
			assert.Equal(t, tt.message, appErr.Message)
		})
	}
}

func TestResolver_FailuresAreNotCached(t *testing.T) {
	fetcher := newFakeFetcher()
	store := testStore(t)
	r := NewResolver(fetcher, store, testSigner(t))

	_, err := r.Resolve(context.Background(), "https://example.com/missing")
	require.Error(t, err)
	_, err = r.Resolve(context.Background(), "https://example.com/missing")
	require.Error(t, err)
	assert.Equal(t, 2, fetcher.count("https://example.com/missing"))
}

func TestResolver_GuardRejectsBeforeFetch(t *testing.T) {
	fetcher := newFakeFetcher()
	r := NewResolver(fetcher, nil, testSigner(t), WithGuard(netguard.New(0)))

	_, err := r.Resolve(context.Background(), "http://169.254.169.254/latest")
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
	assert.Equal(t, 0, fetcher.count("http://169.254.169.254/latest"))

	_, err = r.Resolve(context.Background(), "gopher://example.com/")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestResolver_AcceptHeader(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.json("https://example.com/users/alice", "application/activity+json", `{"type":"Person"}`)
	fetcher.json("https://example.com/users/bob", "application/activity+json", `{"type":"Person"}`)

	_, err := NewResolver(fetcher, nil, testSigner(t)).Resolve(context.Background(), "https://example.com/users/alice")
	require.NoError(t, err)
	assert.Equal(t, AcceptActivity, fetcher.accepts["https://example.com/users/alice"])

	actors := NewResolver(fetcher, nil, testSigner(t), WithAccept(AcceptWebfinger))
	_, err = actors.Resolve(context.Background(), "https://example.com/users/bob")
	require.NoError(t, err)
	assert.Equal(t, AcceptWebfinger, fetcher.accepts["https://example.com/users/bob"])
}
