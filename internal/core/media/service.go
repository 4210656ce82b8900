// Package media implements the signed media proxy.
//
// A request is served only when its signature verifies and its target passes
// the network guard. The service flow is:
//  1. Require a URL and a signature
//  2. Verify the signature
//  3. Validate the target with the network guard
//  4. Serve from the media cache on hit
//  5. Fetch through the guarded client on miss
//  6. Check the Content-Type allowlist
//  7. Cache the bytes if they fit the per-entry ceiling
package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/sync/singleflight"

	"apview/internal/core/apperr"
	"apview/internal/core/breaker"
	"apview/internal/core/cache"
	"apview/internal/core/netguard"
	"apview/internal/core/signing"
	"apview/internal/metrics"
)

const defaultContentType = "application/octet-stream"

// allowedTypePrefixes lists the Content-Type prefixes the proxy will serve.
var allowedTypePrefixes = []string{"image/", "video/", "audio/", "application/octet-stream"}

// Media is a servable media response.
type Media struct {
	Data         []byte
	ContentType  string
	CacheControl string
	Cached       bool
}

// Service orchestrates signature checks, guarding, caching and fetching.
type Service struct {
	signer  *signing.Signer
	guard   *netguard.Guard
	store   cache.Store
	fetcher Fetcher
	config  Config
	group   singleflight.Group
}

// NewService creates a Service. store may be nil to disable caching.
func NewService(signer *signing.Signer, guard *netguard.Guard, store cache.Store, fetcher Fetcher, config Config) (*Service, error) {
	if signer == nil {
		return nil, fmt.Errorf("%w: signer", ErrNilDependency)
	}
	if guard == nil {
		return nil, fmt.Errorf("%w: guard", ErrNilDependency)
	}
	if fetcher == nil {
		return nil, fmt.Errorf("%w: fetcher", ErrNilDependency)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Service{
		signer:  signer,
		guard:   guard,
		store:   store,
		fetcher: fetcher,
		config:  config,
	}, nil
}

// Serve returns the media at rawURL if sig authorizes it. Errors are
// *apperr.Error.
func (s *Service) Serve(ctx context.Context, rawURL, sig string) (*Media, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, apperr.Validation("URL parameter is required")
	}
	if sig == "" {
		return nil, apperr.Forbidden("Signature is required")
	}
	if !s.signer.Verify(rawURL, sig) {
		slog.Warn("[MEDIA-PROXY] rejected request with invalid signature", "url", rawURL)
		return nil, apperr.Forbidden("Invalid signature")
	}
	if err := s.guard.Validate(rawURL); err != nil {
		slog.Warn("[MEDIA-PROXY] blocked fetch target", "url", rawURL, "error", err)
		return nil, netguard.AppError(err)
	}

	key := cache.Key(cache.NamespaceMedia, rawURL)
	if m, ok := s.lookup(ctx, key, rawURL); ok {
		return m, nil
	}

	fetched, err := s.fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	contentType := strings.ToLower(strings.TrimSpace(fetched.ContentType))
	if !AllowedContentType(contentType) {
		metrics.UpstreamFetches.WithLabelValues("media", "rejected").Inc()
		return nil, apperr.Validation("Invalid content type")
	}

	s.save(ctx, key, rawURL, fetched.Data, contentType)
	return s.media(fetched.Data, contentType, false), nil
}

// AllowedContentType reports whether the proxy may serve contentType. A
// missing type is tolerated.
func AllowedContentType(contentType string) bool {
	if contentType == "" {
		return true
	}
	ct := strings.ToLower(contentType)
	for _, prefix := range allowedTypePrefixes {
		if strings.HasPrefix(ct, prefix) {
			return true
		}
	}
	return false
}

func (s *Service) media(data []byte, contentType string, cached bool) *Media {
	if contentType == "" {
		contentType = defaultContentType
	}
	return &Media{
		Data:         data,
		ContentType:  contentType,
		CacheControl: fmt.Sprintf("public, max-age=%d", int(s.config.TTL.Seconds())),
		Cached:       cached,
	}
}

func (s *Service) lookup(ctx context.Context, key, rawURL string) (*Media, bool) {
	if s.store == nil {
		return nil, false
	}
	entry, found, err := s.store.Get(ctx, key)
	if err != nil {
		// Log cache read error but continue - cache miss is acceptable
		metrics.CacheLookups.WithLabelValues(cache.NamespaceMedia, "error").Inc()
		slog.Warn("[MEDIA-PROXY] cache read error, falling back to fetch",
			"url", rawURL,
			"error", err,
		)
		return nil, false
	}
	if !found {
		metrics.CacheLookups.WithLabelValues(cache.NamespaceMedia, "miss").Inc()
		return nil, false
	}
	metrics.CacheLookups.WithLabelValues(cache.NamespaceMedia, "hit").Inc()
	slog.Debug("[MEDIA-PROXY] cache hit", "url", rawURL)
	return s.media(entry.Payload, entry.ContentType, true), true
}

// fetch retrieves rawURL, sharing one upstream request between concurrent
// callers when dedup is enabled.
func (s *Service) fetch(ctx context.Context, rawURL string) (*Fetched, error) {
	if !s.config.Dedup {
		return s.fetchOnce(ctx, rawURL)
	}

	ch := s.group.DoChan(rawURL, func() (any, error) {
		// The shared fetch must not die with whichever caller started it.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.FetchTimeout)
		defer cancel()
		return s.fetchOnce(fctx, rawURL)
	})
	select {
	case <-ctx.Done():
		return nil, apperr.Upstream(http.StatusGatewayTimeout, "Media request timed out", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Fetched), nil
	}
}

func (s *Service) fetchOnce(ctx context.Context, rawURL string) (*Fetched, error) {
	fetched, err := s.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		metrics.UpstreamFetches.WithLabelValues("media", "error").Inc()
		slog.Warn("[MEDIA-PROXY] upstream fetch failed", "url", rawURL, "error", err)
		return nil, fetchError(err)
	}
	metrics.UpstreamFetches.WithLabelValues("media", "ok").Inc()
	return fetched, nil
}

// save writes media to the cache when it fits the per-entry ceiling.
func (s *Service) save(ctx context.Context, key, rawURL string, data []byte, contentType string) {
	if s.store == nil {
		return
	}
	if len(data) > cache.MaxEntryBytes {
		metrics.CacheWrites.WithLabelValues(cache.NamespaceMedia, "skipped").Inc()
		slog.Debug("[MEDIA-PROXY] media too large to cache, serving uncached",
			"url", rawURL,
			"size_bytes", len(data),
		)
		return
	}
	err := s.store.Set(context.WithoutCancel(ctx), key, &cache.Entry{
		Payload:     data,
		ContentType: contentType,
	}, s.config.TTL)
	if err != nil {
		metrics.CacheWrites.WithLabelValues(cache.NamespaceMedia, "error").Inc()
		slog.Error("[MEDIA-PROXY] cache write failed",
			"url", rawURL,
			"error", err,
		)
		return
	}
	metrics.CacheWrites.WithLabelValues(cache.NamespaceMedia, "ok").Inc()
}

// fetchError maps a Fetcher error to a client-facing error.
func fetchError(err error) *apperr.Error {
	var statusErr *StatusError
	var rejected *netguard.RejectedError
	switch {
	case errors.As(err, &rejected), errors.Is(err, netguard.ErrTooManyRedirects):
		return netguard.AppError(err)
	case errors.Is(err, breaker.ErrOpen):
		return apperr.Upstream(http.StatusServiceUnavailable, "Upstream host temporarily unavailable", err)
	case errors.As(err, &statusErr):
		return apperr.Upstream(statusErr.StatusCode, apperr.UpstreamMessage(statusErr.StatusCode), err)
	case errors.Is(err, ErrFetchTimeout):
		return apperr.Upstream(http.StatusGatewayTimeout, "Media request timed out", err)
	case errors.Is(err, ErrMediaTooLarge):
		return apperr.Upstream(http.StatusBadGateway, "Media exceeds size limit", err)
	default:
		return apperr.Upstream(http.StatusInternalServerError, "Failed to fetch media", err)
	}
}
