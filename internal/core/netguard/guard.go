// Package netguard validates outbound fetch targets against a network
// location policy to prevent server-side request forgery.
//
// Validate checks a URL before any network activity. It does not resolve
// hostnames. DialControl and CheckRedirect close that gap for clients built
// with NewHTTPClient: every dialed address and every redirect hop is checked
// against the same policy.
package netguard

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"

	"apview/internal/core/apperr"
	"apview/internal/metrics"
)

var (
	// ErrUnsupportedScheme is returned for anything other than http or https.
	ErrUnsupportedScheme = errors.New("only HTTP and HTTPS URLs are allowed")
	// ErrMissingHost is returned when the URL has no host component.
	ErrMissingHost = errors.New("invalid URL format")
	// ErrBlockedHost is returned for local hostnames such as localhost.
	ErrBlockedHost = errors.New("local network access is not allowed")
	// ErrBlockedAddress is returned for private, loopback, link-local,
	// reserved or multicast addresses.
	ErrBlockedAddress = errors.New("local network access is not allowed")
	// ErrTooManyRedirects is returned by CheckRedirect once the hop limit is hit.
	ErrTooManyRedirects = errors.New("too many redirects")
)

// RejectedError describes why a target was refused.
type RejectedError struct {
	Target string
	Reason error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("fetch target %q rejected: %v", e.Target, e.Reason)
}

func (e *RejectedError) Unwrap() error {
	return e.Reason
}

// DefaultMaxRedirects bounds redirect chains followed by guarded clients.
const DefaultMaxRedirects = 5

var blockedHostnames = map[string]struct{}{
	"localhost": {},
	"0.0.0.0":   {},
}

// Address ranges that the netip predicates do not cover.
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("192.0.2.0/24"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("198.51.100.0/24"),
	netip.MustParsePrefix("203.0.113.0/24"),
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("64:ff9b::/96"),
	netip.MustParsePrefix("64:ff9b:1::/48"),
	netip.MustParsePrefix("100::/64"),
	netip.MustParsePrefix("2001::/23"),
	netip.MustParsePrefix("2001:db8::/32"),
	netip.MustParsePrefix("fec0::/10"),
}

// Guard applies the fetch target policy.
type Guard struct {
	maxRedirects int
}

// New returns a Guard. maxRedirects <= 0 uses DefaultMaxRedirects.
func New(maxRedirects int) *Guard {
	if maxRedirects <= 0 {
		maxRedirects = DefaultMaxRedirects
	}
	return &Guard{maxRedirects: maxRedirects}
}

// Validate checks rawURL. It returns nil or a *RejectedError.
func (g *Guard) Validate(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return g.reject(rawURL, ErrMissingHost)
	}
	return g.ValidateURL(u)
}

// ValidateURL applies, in order: scheme, host presence, blocked hostnames
// and literal IP policy. Non-literal hostnames are allowed.
func (g *Guard) ValidateURL(u *url.URL) error {
	target := u.String()
	if u.Scheme != "http" && u.Scheme != "https" {
		return g.reject(target, ErrUnsupportedScheme)
	}
	if u.Host == "" || u.Hostname() == "" {
		return g.reject(target, ErrMissingHost)
	}

	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if _, blocked := blockedHostnames[host]; blocked || strings.HasSuffix(host, ".localhost") {
		return g.reject(target, ErrBlockedHost)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if IsBlockedAddr(addr) {
			return g.reject(target, ErrBlockedAddress)
		}
	}
	return nil
}

// IsBlockedAddr reports whether addr is private, loopback, link-local,
// multicast, unspecified or otherwise reserved.
func IsBlockedAddr(addr netip.Addr) bool {
	addr = addr.Unmap().WithZone("")
	if !addr.IsValid() {
		return true
	}
	if addr.IsLoopback() ||
		addr.IsPrivate() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsInterfaceLocalMulticast() ||
		addr.IsMulticast() ||
		addr.IsUnspecified() {
		return true
	}
	if addr.Is4() && addr == netip.AddrFrom4([4]byte{255, 255, 255, 255}) {
		return true
	}
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// DialControl is a net.Dialer Control hook that refuses connections to
// blocked addresses after DNS resolution.
func (g *Guard) DialControl(network, address string, _ syscall.RawConn) error {
	ap, err := netip.ParseAddrPort(address)
	if err != nil {
		return g.reject(address, ErrBlockedAddress)
	}
	if IsBlockedAddr(ap.Addr()) {
		return g.reject(address, ErrBlockedAddress)
	}
	return nil
}

// CheckRedirect is an http.Client CheckRedirect hook that enforces the hop
// limit and validates each redirect target.
func (g *Guard) CheckRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= g.maxRedirects {
		return fmt.Errorf("%w: stopped after %d", ErrTooManyRedirects, g.maxRedirects)
	}
	return g.ValidateURL(req.URL)
}

// NewHTTPClient returns an http.Client whose dialer and redirect policy are
// both guarded.
func (g *Guard) NewHTTPClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
		Control:   g.DialControl,
	}
	transport := &http.Transport{
		// Environment proxies would bypass DialControl.
		Proxy: nil,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, addr)
		},
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Timeout:       timeout,
		Transport:     transport,
		CheckRedirect: g.CheckRedirect,
	}
}

// AppError converts a guard rejection into the error shown to clients.
// Malformed URLs are validation errors; blocked network locations are
// forbidden. Errors that are not rejections are returned as internal errors.
func AppError(err error) *apperr.Error {
	switch {
	case errors.Is(err, ErrUnsupportedScheme):
		return apperr.Validation("Only HTTP and HTTPS URLs are allowed").WithCause(err)
	case errors.Is(err, ErrMissingHost):
		return apperr.Validation("Invalid URL format").WithCause(err)
	case errors.Is(err, ErrBlockedHost), errors.Is(err, ErrBlockedAddress):
		return apperr.Forbidden("Local network access is not allowed").WithCause(err)
	case errors.Is(err, ErrTooManyRedirects):
		return apperr.Upstream(http.StatusBadGateway, "Too many redirects", err)
	default:
		return apperr.Internal("An error occurred", err)
	}
}

func (g *Guard) reject(target string, reason error) error {
	metrics.GuardRejections.WithLabelValues(reasonLabel(reason)).Inc()
	return &RejectedError{Target: target, Reason: reason}
}

func reasonLabel(reason error) string {
	switch reason {
	case ErrUnsupportedScheme:
		return "scheme"
	case ErrMissingHost:
		return "host"
	case ErrBlockedHost:
		return "hostname"
	default:
		return "address"
	}
}
