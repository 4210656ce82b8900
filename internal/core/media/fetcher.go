package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"apview/internal/core/breaker"
	"apview/internal/core/netguard"
)

// Fetched is a media response body and its declared content type.
type Fetched struct {
	Data        []byte
	ContentType string
}

// Fetcher retrieves media bytes.
type Fetcher interface {
	// Fetch retrieves rawURL. Error statuses are reported as *StatusError.
	Fetch(ctx context.Context, rawURL string) (*Fetched, error)
}

// HTTPFetcher implements Fetcher over a guarded http.Client.
type HTTPFetcher struct {
	client       *http.Client
	breaker      *breaker.Breaker
	maxSizeBytes int64
	userAgent    string
}

// NewHTTPFetcher creates an HTTPFetcher whose dials and redirect hops are
// checked by guard. maxSizeBytes bounds the body read into memory.
func NewHTTPFetcher(guard *netguard.Guard, timeout time.Duration, maxSizeBytes int64) *HTTPFetcher {
	if maxSizeBytes <= 0 {
		maxSizeBytes = DefaultMaxMediaBytes
	}
	return &HTTPFetcher{
		client:       guard.NewHTTPClient(timeout),
		maxSizeBytes: maxSizeBytes,
		userAgent:    "apview-MediaProxy/1.0",
	}
}

// WithBreaker makes f refuse fetches to hosts whose circuit is open.
func (f *HTTPFetcher) WithBreaker(b *breaker.Breaker) *HTTPFetcher {
	f.breaker = b
	return f
}

// Fetch retrieves rawURL. Returns:
//   - *StatusError for non-2xx responses
//   - ErrFetchTimeout if the request times out or ctx is cancelled
//   - ErrMediaTooLarge if the body exceeds the size ceiling
//   - a *netguard.RejectedError if a dial or redirect hit a blocked target
//   - an error wrapping breaker.ErrOpen if the host's circuit is open
//   - ErrFetchFailed for any other error
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*Fetched, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %v", ErrFetchFailed, err)
	}
	host := req.URL.Hostname()
	if err := f.breaker.Allow(host); err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
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
	defer resp.Body.Close()
	f.breaker.Success(host)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	if resp.ContentLength > 0 && resp.ContentLength > f.maxSizeBytes {
		return nil, fmt.Errorf("%w: content length %d exceeds maximum %d bytes",
			ErrMediaTooLarge, resp.ContentLength, f.maxSizeBytes)
	}

	// Read one byte past the limit to detect bodies that lie about their length.
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxSizeBytes+1))
	if err != nil {
		if ctx.Err() != nil || isTimeoutError(err) {
			return nil, fmt.Errorf("%w: reading body", ErrFetchTimeout)
		}
		return nil, fmt.Errorf("%w: failed to read response body: %v", ErrFetchFailed, err)
	}
	if int64(len(data)) > f.maxSizeBytes {
		return nil, fmt.Errorf("%w: response body exceeds maximum %d bytes",
			ErrMediaTooLarge, f.maxSizeBytes)
	}

	return &Fetched{Data: data, ContentType: resp.Header.Get("Content-Type")}, nil
}

// isTimeoutError checks if the error is a timeout-related error.
func isTimeoutError(err error) bool {
	var te interface{ Timeout() bool }
	if errors.As(err, &te) {
		return te.Timeout()
	}
	return false
}
