package activity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"

	"apview/internal/core/breaker"
	"apview/internal/core/netguard"
)

const (
	// AcceptActivity is sent when fetching ActivityPub objects.
	AcceptActivity = "application/activity+json"
	// AcceptWebfinger is sent when fetching Webfinger documents.
	AcceptWebfinger = "application/activity+json, application/jrd+json"

	// DefaultTimeout bounds JSON resolution fetches.
	DefaultTimeout = 10 * time.Second
	// DefaultMaxBodyBytes bounds JSON documents read into memory.
	DefaultMaxBodyBytes = 5 << 20

	defaultUserAgent = "apview/1.0 (+https://github.com/apview/apview)"
)

// Response is a fetched document.
type Response struct {
	// FinalURL is the URL after following redirects.
	FinalURL    string
	StatusCode  int
	ContentType string
	Body        []byte
}

// Fetcher retrieves remote JSON documents. An HTTP error status is not an
// error: it is returned in Response.StatusCode for the caller to classify.
type Fetcher interface {
	Get(ctx context.Context, rawURL, accept string) (*Response, error)
}

// RequestSigner signs outgoing requests, e.g. with an HTTP Signature.
type RequestSigner interface {
	SignRequest(r *http.Request) error
}

// FetcherOptions configures NewHTTPFetcher. Zero values use defaults.
type FetcherOptions struct {
	Timeout      time.Duration
	MaxBodyBytes int64
	UserAgent    string

	// Guard, when set, guards every dial and redirect hop.
	Guard *netguard.Guard

	// MaxRedirects applies when Guard is nil.
	MaxRedirects int

	// Signer, when set, signs every request before it is sent.
	Signer RequestSigner

	// Breaker, when set, refuses fetches to hosts with repeated transport failures.
	Breaker *breaker.Breaker
}

// HTTPFetcher implements Fetcher with a resty client.
type HTTPFetcher struct {
	client       *resty.Client
	breaker      *breaker.Breaker
	maxBodyBytes int64
}

// NewHTTPFetcher returns an HTTPFetcher.
func NewHTTPFetcher(opts FetcherOptions) *HTTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = netguard.DefaultMaxRedirects
	}

	var client *resty.Client
	if opts.Guard != nil {
		// resty replaces http.Client.CheckRedirect with its own policy.
		client = resty.NewWithClient(opts.Guard.NewHTTPClient(opts.Timeout)).
			SetRedirectPolicy(resty.RedirectPolicyFunc(opts.Guard.CheckRedirect))
	} else {
		client = resty.New().
			SetRedirectPolicy(resty.FlexibleRedirectPolicy(opts.MaxRedirects))
	}
	client.SetTimeout(opts.Timeout).
		SetHeader("User-Agent", opts.UserAgent)

	if opts.Signer != nil {
		signer := opts.Signer
		client.SetPreRequestHook(func(_ *resty.Client, r *http.Request) error {
			return signer.SignRequest(r)
		})
	}

	return &HTTPFetcher{client: client, breaker: opts.Breaker, maxBodyBytes: opts.MaxBodyBytes}
}

// Get fetches rawURL. Returns:
//   - ErrFetchTimeout if the request times out or ctx is cancelled
//   - ErrBodyTooLarge if the body exceeds the configured limit
//   - a *netguard.RejectedError if a dial or redirect hit a blocked target
//   - an error wrapping breaker.ErrOpen if the host's circuit is open
//   - ErrFetchFailed for any other transport error
func (f *HTTPFetcher) Get(ctx context.Context, rawURL, accept string) (*Response, error) {
	host := hostOf(rawURL)
	if err := f.breaker.Allow(host); err != nil {
		return nil, err
	}

	resp, err := f.client.R().
		SetContext(ctx).
		SetHeader("Accept", accept).
		SetDoNotParseResponse(true).
		Get(rawURL)
	if err != nil {
		var rejected *netguard.RejectedError
		if errors.As(err, &rejected) {
			return nil, rejected
		}
		if errors.Is(err, netguard.ErrTooManyRedirects) {
			return nil, fmt.Errorf("%w: %w", ErrFetchFailed, netguard.ErrTooManyRedirects)
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrFetchTimeout, ctx.Err())
		}
		f.breaker.Failure(host, err)
		if isTimeoutError(err) {
			return nil, fmt.Errorf("%w: request timed out", ErrFetchTimeout)
		}
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	f.breaker.Success(host)
	body := resp.RawBody()
	defer body.Close()

	out := &Response{
		FinalURL:    rawURL,
		StatusCode:  resp.StatusCode(),
		ContentType: resp.Header().Get("Content-Type"),
	}
	if resp.RawResponse != nil && resp.RawResponse.Request != nil && resp.RawResponse.Request.URL != nil {
		out.FinalURL = resp.RawResponse.Request.URL.String()
	}

	if out.StatusCode >= http.StatusBadRequest {
		return out, nil
	}

	// Read one byte past the limit to detect oversized bodies.
	data, err := io.ReadAll(io.LimitReader(body, f.maxBodyBytes+1))
	if err != nil {
		if isTimeoutError(err) || ctx.Err() != nil {
			return nil, fmt.Errorf("%w: reading body", ErrFetchTimeout)
		}
		return nil, fmt.Errorf("%w: failed to read response body: %v", ErrFetchFailed, err)
	}
	if int64(len(data)) > f.maxBodyBytes {
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrBodyTooLarge, f.maxBodyBytes)
	}
	out.Body = data
	return out, nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// isTimeoutError checks if the error is a timeout-related error.
func isTimeoutError(err error) bool {
	var te interface{ Timeout() bool }
	if errors.As(err, &te) {
		return te.Timeout()
	}
	return false
}
