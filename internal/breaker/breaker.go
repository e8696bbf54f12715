// Package breaker implements a per-operation circuit breaker wrapping every
// outbound platform call the delivery worker makes. BridgeStore's webhook
// creation calls the adapters directly and does not go through a breaker.
// It is a small stdlib implementation using the
// same sliding-window counting approach as a mutex-guarded map of counters
// with wall-clock windows.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the circuit breaker's current disposition.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

// ErrOpen is returned by Call when the breaker is open and fails fast.
var ErrOpen = errors.New("breaker: circuit open")

// Config parameterizes a Breaker.
type Config struct {
	// CallTimeout bounds each wrapped call (default 15s).
	CallTimeout time.Duration
	// RollingWindow is the window over which the error rate is computed (default 60s).
	RollingWindow time.Duration
	// MinCalls is the minimum sample size before the error rate can open the breaker (F, default 10).
	MinCalls int
	// FailureRatio is the error rate threshold that opens the breaker (default 0.5).
	FailureRatio float64
	// ResetTimeout is how long the breaker stays open before probing again (R, default 60s).
	ResetTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.CallTimeout <= 0 {
		c.CallTimeout = 15 * time.Second
	}
	if c.RollingWindow <= 0 {
		c.RollingWindow = 60 * time.Second
	}
	if c.MinCalls <= 0 {
		c.MinCalls = 10
	}
	if c.FailureRatio <= 0 {
		c.FailureRatio = 0.5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 60 * time.Second
	}
	return c
}

type sample struct {
	at      time.Time
	success bool
}

// Breaker is a single named circuit breaker instance. Callers wrap each
// outbound platform operation (send, edit, delete, webhook-*) in its own
// named Breaker via a Registry.
type Breaker struct {
	name string
	cfg  Config
	now  func() time.Time

	mu        sync.Mutex
	state     State
	samples   []sample
	openedAt  time.Time
	halfOpen1 bool // whether a single probe call is currently in flight
}

func newBreaker(name string, cfg Config, now func() time.Time) *Breaker {
	if now == nil {
		now = time.Now
	}
	return &Breaker{name: name, cfg: cfg.withDefaults(), now: now}
}

// State returns the breaker's current state, transitioning Open->HalfOpen
// if ResetTimeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *Breaker) stateLocked() State {
	if b.state == Open && b.now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		b.state = HalfOpen
		b.halfOpen1 = false
	}
	return b.state
}

// Call runs fn under the breaker: fails fast with ErrOpen while open,
// allows exactly one probe call while half-open, and enforces CallTimeout
// on every attempt. The result of fn is recorded as a success/failure
// sample used for the rolling error rate.
func (b *Breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	b.mu.Lock()
	st := b.stateLocked()
	if st == Open {
		b.mu.Unlock()
		return ErrOpen
	}
	if st == HalfOpen {
		if b.halfOpen1 {
			b.mu.Unlock()
			return ErrOpen
		}
		b.halfOpen1 = true
	}
	b.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, b.cfg.CallTimeout)
	defer cancel()
	err := fn(callCtx)

	b.record(err == nil)
	return err
}

func (b *Breaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.samples = append(b.samples, sample{at: now, success: success})
	b.pruneLocked(now)

	if b.state == HalfOpen {
		if success {
			b.state = Closed
			b.samples = nil
		} else {
			b.state = Open
			b.openedAt = now
			b.halfOpen1 = false
		}
		return
	}

	total := len(b.samples)
	if total < b.cfg.MinCalls {
		return
	}
	failures := 0
	for _, s := range b.samples {
		if !s.success {
			failures++
		}
	}
	if float64(failures)/float64(total) >= b.cfg.FailureRatio {
		b.state = Open
		b.openedAt = now
	}
}

func (b *Breaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-b.cfg.RollingWindow)
	i := 0
	for ; i < len(b.samples); i++ {
		if b.samples[i].at.After(cutoff) {
			break
		}
	}
	b.samples = b.samples[i:]
}

// Registry hands out named Breaker instances, one per outbound operation
// name (e.g. "A:sendWebhook", "B:deleteMessage"), lazily created on first use.
type Registry struct {
	cfg Config
	now func() time.Time

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry builds a Registry sharing one Config across every breaker it creates.
func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg, breakers: make(map[string]*Breaker)}
}

// NewRegistryWithClock is NewRegistry with an injectable clock, for tests.
func NewRegistryWithClock(cfg Config, now func() time.Time) *Registry {
	r := NewRegistry(cfg)
	r.now = now
	return r
}

// Get returns the named breaker, creating it on first access.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[name]
	if !ok {
		b = newBreaker(name, r.cfg, r.now)
		r.breakers[name] = b
	}
	return b
}
