package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrBreakerOpen is returned while the breaker is rejecting calls.
var ErrBreakerOpen = errors.New("circuit breaker is open")

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

// Breaker trips after a run of consecutive failures and rejects calls until
// the cooldown elapses, then lets a single probe through. It guards the
// outbound REST clients (payment gateway, shipment carrier).
type Breaker struct {
	maxFailures int
	cooldown    time.Duration

	mu       sync.Mutex
	state    breakerState
	failures int
	openedAt time.Time
}

func NewBreaker(maxFailures int, cooldown time.Duration) *Breaker {
	return &Breaker{
		maxFailures: maxFailures,
		cooldown:    cooldown,
		state:       stateClosed,
	}
}

func (b *Breaker) allow() error {
	if b.state == stateOpen {
		if time.Since(b.openedAt) < b.cooldown {
			return ErrBreakerOpen
		}
		b.state = stateHalfOpen
	}
	return nil
}

func (b *Breaker) record(err error) {
	if err != nil {
		b.failures++
		b.openedAt = time.Now()
		if b.state == stateHalfOpen || b.failures >= b.maxFailures {
			b.state = stateOpen
		}
		return
	}
	b.state = stateClosed
	b.failures = 0
}

// Do executes fn under the breaker. The mutex is held across fn; callers are
// remote clients whose own timeouts bound the critical section.
func (b *Breaker) Do(ctx context.Context, fn func() error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.allow(); err != nil {
		return err
	}

	err := fn()
	b.record(err)
	return err
}

// Open reports whether the breaker is currently rejecting calls.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == stateOpen && time.Since(b.openedAt) < b.cooldown
}
