// Package circuit implements a per-dependency circuit breaker. Callers classify
// outcomes (transport error or 5xx counts as a failure) and report them via
// RecordFailure/RecordSuccess; the breaker has no knowledge of HTTP semantics.
package circuit

import (
	"sync"
	"time"
)

// State is the breaker phase for a dependency.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
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

// StateChange reports transitions caused by a recorded outcome so callers can
// log or count them.
type StateChange struct {
	Opened bool
	Closed bool
}

// Breaker tracks consecutive failures for one named dependency.
//
// Closed: calls pass through; failures increment the counter, successes
// decrement it toward zero. Open: calls are rejected until the open duration
// elapses; the Open -> HalfOpen transition happens as a side effect of IsOpen,
// not on a timer. HalfOpen: exactly one trial call; success closes the
// breaker, failure re-opens it with the counter unchanged.
type Breaker struct {
	mu               sync.Mutex
	name             string
	failureThreshold int
	openDuration     time.Duration
	callTimeout      time.Duration
	clock            func() time.Time

	state       State
	failures    int
	nextAttempt time.Time
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithFailureThreshold sets the consecutive-failure count that opens the circuit.
func WithFailureThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.failureThreshold = n
		}
	}
}

// WithOpenDuration sets how long the circuit stays open before a trial call.
func WithOpenDuration(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.openDuration = d
		}
	}
}

// WithCallTimeout records a per-call timeout hint for callers. The breaker
// does not enforce it; owning the outbound http.Client timeout is the
// caller's responsibility.
func WithCallTimeout(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.callTimeout = d
		}
	}
}

// WithClock sets the clock function for testability.
func WithClock(clock func() time.Time) Option {
	return func(b *Breaker) {
		if clock != nil {
			b.clock = clock
		}
	}
}

// New constructs a breaker for the named dependency.
func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:             name,
		failureThreshold: 5,
		openDuration:     30 * time.Second,
		callTimeout:      10 * time.Second,
		clock:            time.Now,
		state:            StateClosed,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Name returns the dependency name this breaker guards.
func (b *Breaker) Name() string { return b.name }

// CallTimeout returns the advisory per-call timeout.
func (b *Breaker) CallTimeout() time.Duration { return b.callTimeout }

// IsOpen reports whether calls must be rejected. When the open duration has
// elapsed it transitions the breaker to half-open and allows the next call
// through as a trial.
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && !b.clock().Before(b.nextAttempt) {
		b.state = StateHalfOpen
	}
	return b.state == StateOpen
}

// State returns the current phase without triggering transitions.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// RecordFailure registers a failed call outcome.
func (b *Breaker) RecordFailure() StateChange {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.failureThreshold {
			b.trip()
			return StateChange{Opened: true}
		}
	case StateHalfOpen:
		// Trial call failed; counter stays as-is.
		b.trip()
		return StateChange{Opened: true}
	case StateOpen:
		// Already rejecting; nothing to record.
	}
	return StateChange{}
}

// RecordSuccess registers a successful call outcome.
func (b *Breaker) RecordSuccess() StateChange {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		if b.failures > 0 {
			b.failures--
		}
	case StateHalfOpen:
		b.state = StateClosed
		b.failures = 0
		return StateChange{Closed: true}
	case StateOpen:
		// Success reported while open means the caller raced a transition;
		// leave state alone, IsOpen will drive the half-open trial.
	}
	return StateChange{}
}

// Reset closes the circuit and clears the counter. Exposed for the admin
// reset operation.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
}

// RetryAfter returns how long callers should wait before retrying while the
// circuit is open, and zero otherwise.
func (b *Breaker) RetryAfter() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateOpen {
		return 0
	}
	if wait := b.nextAttempt.Sub(b.clock()); wait > 0 {
		return wait
	}
	return 0
}

// trip moves the breaker to open. Caller holds the lock.
func (b *Breaker) trip() {
	b.state = StateOpen
	b.nextAttempt = b.clock().Add(b.openDuration)
}
