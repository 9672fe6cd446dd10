// Package resilience provides a circuit breaker for calls to downstream
// services such as the event broker and the summary model.
//
// The breaker follows the classic three states: closed while the downstream
// is healthy, open after a run of consecutive failures, and half-open after
// a cooldown during which a single probe call decides whether to close
// again. All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Execute] while the breaker is open and the
// cooldown has not yet elapsed.
var ErrOpen = errors.New("resilience: breaker is open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards all calls.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrOpen] until the cooldown elapses.
	StateOpen

	// StateHalfOpen allows one probe call through.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. Zero values select defaults.
type BreakerConfig struct {
	// Name labels the breaker in log messages.
	Name string

	// Threshold is the run of consecutive failures that opens the breaker.
	// Default 5.
	Threshold int

	// Cooldown is how long the breaker stays open before admitting a probe.
	// Default 30s.
	Cooldown time.Duration

	// Logger defaults to [slog.Default] when nil.
	Logger *slog.Logger
}

// Breaker guards a downstream call site.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	logger    *slog.Logger

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker creates a [Breaker] from cfg.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Breaker{
		name:      cfg.Name,
		threshold: cfg.Threshold,
		cooldown:  cfg.Cooldown,
		logger:    logger,
	}
}

// Execute runs fn when the breaker admits the call and returns fn's error.
// While open it returns [ErrOpen] without calling fn. After the cooldown a
// single probe is admitted: success closes the breaker, failure re-opens it.
func (b *Breaker) Execute(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case StateOpen:
		if time.Since(b.openedAt) < b.cooldown {
			b.mu.Unlock()
			return ErrOpen
		}
		b.state = StateHalfOpen
		b.probing = false
		b.logger.Info("breaker half-open", "name", b.name)
		fallthrough

	case StateHalfOpen:
		if b.probing {
			b.mu.Unlock()
			return ErrOpen
		}
		b.probing = true
	}
	probe := b.state == StateHalfOpen
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.onFailure(probe)
	} else {
		b.onSuccess(probe)
	}
	return err
}

// onFailure must be called with b.mu held.
func (b *Breaker) onFailure(probe bool) {
	b.openedAt = time.Now()
	if probe {
		b.state = StateOpen
		b.failures = b.threshold
		b.probing = false
		b.logger.Warn("breaker re-opened after failed probe", "name", b.name)
		return
	}
	b.failures++
	if b.failures >= b.threshold {
		b.state = StateOpen
		b.logger.Warn("breaker opened",
			"name", b.name,
			"consecutive_failures", b.failures,
		)
	}
}

// onSuccess must be called with b.mu held.
func (b *Breaker) onSuccess(probe bool) {
	if probe {
		b.logger.Info("breaker closed after successful probe", "name", b.name)
	}
	b.state = StateClosed
	b.failures = 0
	b.probing = false
}

// State reports the breaker's mode. An open breaker whose cooldown has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// [Breaker.Execute].
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && time.Since(b.openedAt) >= b.cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker back to closed, clearing failure counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.probing = false
}
