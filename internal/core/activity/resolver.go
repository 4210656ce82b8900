// Package activity fetches remote ActivityPub documents, classifies them,
// and signs the media URLs they reference.
package activity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"apview/internal/core/apperr"
	"apview/internal/core/breaker"
	"apview/internal/core/cache"
	"apview/internal/core/netguard"
	"apview/internal/core/signing"
	"apview/internal/metrics"
)

// DefaultTTL is how long resolved documents stay cached.
const DefaultTTL = 300 * time.Second

// Resolved is a fetched, classified ActivityPub document.
type Resolved struct {
	URL         string
	FinalURL    string
	Redirected  bool
	Content     json.RawMessage
	ContentType string
	StatusCode  int

	// Document is Content decoded into a generic JSON tree.
	Document any

	// SignedMedia maps each discovered media URL to its signature. Nil when
	// the document references no media.
	SignedMedia map[string]string

	// Cached is true when the document came from the cache.
	Cached bool
}

// cachedDocument is the cache payload. Signatures are never stored.
type cachedDocument struct {
	Object      json.RawMessage `json:"object"`
	FinalURL    string          `json:"final_url"`
	ContentType string          `json:"content_type"`
	Status      int             `json:"status"`
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithTTL sets the cache TTL. Non-positive values keep the default.
func WithTTL(ttl time.Duration) Option {
	return func(r *Resolver) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithGuard validates every requested URL before fetching.
func WithGuard(g *netguard.Guard) Option {
	return func(r *Resolver) { r.guard = g }
}

// WithAccept overrides the Accept header sent upstream.
func WithAccept(accept string) Option {
	return func(r *Resolver) {
		if accept != "" {
			r.accept = accept
		}
	}
}

// Resolver resolves ActivityPub URLs through the shared cache.
type Resolver struct {
	fetcher Fetcher
	store   cache.Store
	signer  *signing.Signer
	guard   *netguard.Guard
	ttl     time.Duration
	accept  string
}

// NewResolver returns a Resolver. store may be nil to disable caching.
func NewResolver(fetcher Fetcher, store cache.Store, signer *signing.Signer, opts ...Option) *Resolver {
	r := &Resolver{
		fetcher: fetcher,
		store:   store,
		signer:  signer,
		ttl:     DefaultTTL,
		accept:  AcceptActivity,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve fetches rawURL, or serves it from the cache, and returns the
// classified document with freshly signed media URLs. Errors are *apperr.Error.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) (*Resolved, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, apperr.Validation("URL is required")
	}

	if r.guard != nil {
		if err := r.guard.Validate(rawURL); err != nil {
			return nil, netguard.AppError(err)
		}
	}

	key := cache.Key(cache.NamespaceActivity, rawURL)
	if res, ok := r.lookup(ctx, key, rawURL); ok {
		return res, nil
	}

	resp, err := r.fetcher.Get(ctx, rawURL, r.accept)
	if err != nil {
		metrics.UpstreamFetches.WithLabelValues("activity", "error").Inc()
		return nil, fetchError(err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		metrics.UpstreamFetches.WithLabelValues("activity", "http_error").Inc()
		return nil, apperr.Upstream(resp.StatusCode, apperr.UpstreamMessage(resp.StatusCode), nil)
	}

	if !AcceptableContentType(resp.ContentType) {
		metrics.UpstreamFetches.WithLabelValues("activity", "rejected").Inc()
		return nil, apperr.Validation("Content is not ActivityPub")
	}

	doc, err := decodeDocument(resp.Body)
	if err != nil {
		metrics.UpstreamFetches.WithLabelValues("activity", "rejected").Inc()
		return nil, apperr.Validation("Invalid JSON in response").WithCause(err)
	}
	if !IsActivityPub(doc, resp.ContentType) {
		metrics.UpstreamFetches.WithLabelValues("activity", "rejected").Inc()
		return nil, apperr.Validation("Content is not ActivityPub")
	}
	metrics.UpstreamFetches.WithLabelValues("activity", "ok").Inc()

	contentType := strings.ToLower(resp.ContentType)
	r.save(ctx, key, &cachedDocument{
		Object:      resp.Body,
		FinalURL:    resp.FinalURL,
		ContentType: contentType,
		Status:      resp.StatusCode,
	})

	return r.build(rawURL, resp.FinalURL, contentType, resp.StatusCode, resp.Body, doc, false), nil
}

func (r *Resolver) build(rawURL, finalURL, contentType string, status int, body []byte, doc any, cached bool) *Resolved {
	res := &Resolved{
		URL:         rawURL,
		FinalURL:    finalURL,
		Redirected:  finalURL != rawURL,
		Content:     json.RawMessage(body),
		ContentType: contentType,
		StatusCode:  status,
		Document:    doc,
		Cached:      cached,
	}
	if r.signer != nil {
		res.SignedMedia = r.signer.SignAll(CollectMediaURLs(doc))
	}
	return res
}

// lookup serves rawURL from the cache. Unreadable entries count as misses.
func (r *Resolver) lookup(ctx context.Context, key, rawURL string) (*Resolved, bool) {
	if r.store == nil {
		return nil, false
	}
	entry, found, err := r.store.Get(ctx, key)
	if err != nil {
		metrics.CacheLookups.WithLabelValues(cache.NamespaceActivity, "error").Inc()
		slog.Warn("[ACTIVITY] cache read failed", "url", rawURL, "error", err)
		return nil, false
	}
	if !found {
		metrics.CacheLookups.WithLabelValues(cache.NamespaceActivity, "miss").Inc()
		return nil, false
	}

	var cd cachedDocument
	if err := json.Unmarshal(entry.Payload, &cd); err != nil {
		metrics.CacheLookups.WithLabelValues(cache.NamespaceActivity, "error").Inc()
		slog.Warn("[ACTIVITY] discarding unreadable cache entry", "url", rawURL, "error", err)
		return nil, false
	}
	doc, err := decodeDocument(cd.Object)
	if err != nil {
		metrics.CacheLookups.WithLabelValues(cache.NamespaceActivity, "error").Inc()
		return nil, false
	}

	metrics.CacheLookups.WithLabelValues(cache.NamespaceActivity, "hit").Inc()
	return r.build(rawURL, cd.FinalURL, cd.ContentType, cd.Status, cd.Object, doc, true), true
}

// save writes a resolved document to the cache. Failures are logged only.
func (r *Resolver) save(ctx context.Context, key string, cd *cachedDocument) {
	if r.store == nil {
		return
	}
	payload, err := json.Marshal(cd)
	if err != nil {
		metrics.CacheWrites.WithLabelValues(cache.NamespaceActivity, "error").Inc()
		return
	}
	if len(payload) > cache.MaxEntryBytes {
		metrics.CacheWrites.WithLabelValues(cache.NamespaceActivity, "skipped").Inc()
		return
	}

	// The write outlives the request.
	err = r.store.Set(context.WithoutCancel(ctx), key, &cache.Entry{
		Payload:     payload,
		ContentType: "application/json",
	}, r.ttl)
	if err != nil {
		metrics.CacheWrites.WithLabelValues(cache.NamespaceActivity, "error").Inc()
		slog.Warn("[ACTIVITY] cache write failed", "key", key, "error", err)
		return
	}
	metrics.CacheWrites.WithLabelValues(cache.NamespaceActivity, "ok").Inc()
}

// decodeDocument decodes a JSON document into a generic tree. Numbers are
// kept as json.Number so large ids survive unchanged.
func decodeDocument(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after JSON document")
	}
	return doc, nil
}

// fetchError maps a Fetcher error to a client-facing error.
func fetchError(err error) *apperr.Error {
	var rejected *netguard.RejectedError
	switch {
	case errors.As(err, &rejected), errors.Is(err, netguard.ErrTooManyRedirects):
		return netguard.AppError(err)
	case errors.Is(err, breaker.ErrOpen):
		return apperr.Upstream(http.StatusServiceUnavailable, "Upstream host temporarily unavailable", err)
	case errors.Is(err, ErrFetchTimeout):
		return apperr.Upstream(http.StatusGatewayTimeout, "Upstream request timed out", err)
	case errors.Is(err, ErrBodyTooLarge):
		return apperr.Upstream(http.StatusBadGateway, "Upstream response too large", err)
	default:
		return apperr.Upstream(http.StatusInternalServerError, "Failed to fetch URL", err)
	}
}
