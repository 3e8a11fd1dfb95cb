package sink

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by a webhook whose endpoint kept failing.
var ErrCircuitOpen = errors.New("webhook: circuit open")

type breakerState int

const (
	breakerClosed   breakerState = iota // deliveries pass
	breakerOpen                         // deliveries skipped
	breakerHalfOpen                     // one probe delivery allowed
)

// breaker stops a webhook from stalling the harvest once its endpoint is
// down. After threshold consecutive failed deliveries it opens for reset,
// then lets a single probe through. Safe for concurrent use.
type breaker struct {
	mu          sync.Mutex
	state       breakerState
	failures    int
	threshold   int
	reset       time.Duration
	lastFailure time.Time
	probing     bool
	now         func() time.Time
}

func newBreaker(threshold int, reset time.Duration) *breaker {
	return &breaker{threshold: threshold, reset: reset, now: time.Now}
}

// allow reports whether a delivery may be attempted.
func (b *breaker) allow() bool {
	if b == nil {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == breakerOpen && b.now().Sub(b.lastFailure) >= b.reset {
		b.state = breakerHalfOpen
		b.probing = false
	}
	switch b.state {
	case breakerOpen:
		return false
	case breakerHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
	}
	return true
}

func (b *breaker) success() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = breakerClosed
	b.failures = 0
	b.probing = false
}

func (b *breaker) failure() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastFailure = b.now()
	b.probing = false
	switch b.state {
	case breakerClosed:
		b.failures++
		if b.failures >= b.threshold {
			b.state = breakerOpen
		}
	case breakerHalfOpen:
		b.state = breakerOpen
	}
}
