// Package breaker implements a per-host circuit breaker for outbound fetches.
//
// After Threshold consecutive transport failures to a host, fetches to that
// host are refused for OpenFor. The first fetch after that window is let
// through as a probe; success closes the circuit, failure reopens it.
package breaker

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by Allow while a host's circuit is open.
var ErrOpen = errors.New("circuit open for upstream host")

// State is the circuit state of one host.
type State int

const (
	StateClosed   State = iota // normal operation
	StateOpen                  // host failing, fetches refused
	StateHalfOpen              // probing whether the host recovered
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

type hostState struct {
	failures    int
	lastFailure time.Time
	state       State
	lastLog     time.Time
}

// Breaker tracks failures per host. A nil *Breaker allows everything.
type Breaker struct {
	hosts     map[string]*hostState
	threshold int
	openFor   time.Duration
	now       func() time.Time
	mu        sync.Mutex
}

// New creates a Breaker. It returns nil, which disables breaking, when
// threshold is not positive.
func New(threshold int, openFor time.Duration) *Breaker {
	if threshold <= 0 {
		return nil
	}
	if openFor <= 0 {
		openFor = time.Minute
	}
	return &Breaker{
		hosts:     make(map[string]*hostState),
		threshold: threshold,
		openFor:   openFor,
		now:       time.Now,
	}
}

// Allow reports whether a fetch to host may proceed. It returns an error
// wrapping ErrOpen while the circuit is open.
func (b *Breaker) Allow(host string) error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	hs, ok := b.hosts[host]
	if !ok || hs.state != StateOpen {
		return nil
	}

	nextRetry := hs.lastFailure.Add(b.openFor)
	if b.now().After(nextRetry) {
		hs.state = StateHalfOpen
		b.logStateChange(host, hs)
		return nil
	}
	return fmt.Errorf("%w: %s (failures: %d, next retry: %s)",
		ErrOpen, host, hs.failures, nextRetry.Format("15:04:05"))
}

// Success records a completed fetch to host and closes its circuit.
func (b *Breaker) Success(host string) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	hs, ok := b.hosts[host]
	if !ok {
		return
	}
	if hs.state != StateClosed {
		hs.state = StateClosed
		hs.lastLog = time.Time{}
		b.logStateChange(host, hs)
	}
	delete(b.hosts, host)
}

// Failure records a transport failure to host.
func (b *Breaker) Failure(host string, err error) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	hs, ok := b.hosts[host]
	if !ok {
		hs = &hostState{}
		b.hosts[host] = hs
	}
	hs.failures++
	hs.lastFailure = b.now()

	if hs.failures >= b.threshold || hs.state == StateHalfOpen {
		if hs.state != StateOpen {
			hs.state = StateOpen
			slog.Warn("[BREAKER] opening circuit",
				"host", host,
				"failures", hs.failures,
				"error", err,
			)
			hs.lastLog = b.now()
		}
		return
	}
	slog.Debug("[BREAKER] upstream failure",
		"host", host,
		"failures", hs.failures,
		"threshold", b.threshold,
		"error", err,
	)
}

// logStateChange logs at most once a minute per host. Caller holds b.mu.
func (b *Breaker) logStateChange(host string, hs *hostState) {
	if !hs.lastLog.IsZero() && b.now().Sub(hs.lastLog) < time.Minute {
		return
	}
	slog.Info("[BREAKER] circuit state changed", "host", host, "state", hs.state.String())
	hs.lastLog = b.now()
}
