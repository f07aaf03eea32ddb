package settlement

import (
	"errors"
	"sync"
	"time"
)

// CircuitState is the breaker position
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
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

var (
	// ErrCircuitOpen rejects calls while the backend is considered down
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests rejects calls beyond the half-open probe allowance
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// Outcome is what a finished call tells the breaker about backend health
type Outcome int

const (
	Success Outcome = iota
	Failure
	// Ignored frees the slot without counting either way, e.g. the caller gave up
	Ignored
)

// BreakerConfig configures the settlement breaker
type BreakerConfig struct {
	// Threshold is the run of consecutive failures that opens the circuit
	Threshold uint32
	// Cooldown is how long the circuit stays open before probing
	Cooldown time.Duration
	// HalfOpenProbes bounds concurrent calls while probing
	HalfOpenProbes uint32
}

// DefaultBreakerConfig opens after five failures and probes after 30s
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{Threshold: 5, Cooldown: 30 * time.Second, HalfOpenProbes: 1}
}

// Breaker guards the settlement backend. Callers take a slot with Allow
// and report how the call went; the breaker never sees the error itself.
type Breaker struct {
	cfg      BreakerConfig
	now      func() time.Time
	onChange func(from, to CircuitState)

	mu          sync.Mutex
	state       CircuitState
	since       time.Time
	consecutive uint32
	probes      uint32
	// generation changes on every transition so late reports from an
	// earlier state are dropped
	generation uint64
}

// NewBreaker returns a closed breaker. onChange, if set, runs under the
// breaker lock on every transition and must not call back into it.
func NewBreaker(cfg BreakerConfig, onChange func(from, to CircuitState)) *Breaker {
	if cfg.Threshold == 0 {
		cfg.Threshold = 1
	}
	if cfg.HalfOpenProbes == 0 {
		cfg.HalfOpenProbes = 1
	}
	return &Breaker{cfg: cfg, now: time.Now, onChange: onChange, since: time.Now()}
}

// Allow admits one call. The returned func must be called with the call's
// outcome; calls after the first are ignored.
func (b *Breaker) Allow() (func(Outcome), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.advance()
	switch b.state {
	case StateOpen:
		return nil, ErrCircuitOpen
	case StateHalfOpen:
		if b.probes >= b.cfg.HalfOpenProbes {
			return nil, ErrTooManyRequests
		}
		b.probes++
	}

	gen := b.generation
	var once sync.Once
	return func(o Outcome) {
		once.Do(func() { b.report(gen, o) })
	}, nil
}

func (b *Breaker) report(gen uint64, o Outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if gen != b.generation {
		return
	}
	if b.state == StateHalfOpen && b.probes > 0 {
		b.probes--
	}

	switch o {
	case Success:
		b.consecutive = 0
		if b.state == StateHalfOpen {
			b.transition(StateClosed)
		}
	case Failure:
		b.consecutive++
		if b.state == StateHalfOpen || b.consecutive >= b.cfg.Threshold {
			b.transition(StateOpen)
		}
	}
}

// advance moves an open circuit to half-open once the cooldown has passed
func (b *Breaker) advance() {
	if b.state == StateOpen && b.now().Sub(b.since) >= b.cfg.Cooldown {
		b.transition(StateHalfOpen)
	}
}

func (b *Breaker) transition(to CircuitState) {
	from := b.state
	b.state = to
	b.since = b.now()
	b.consecutive = 0
	b.probes = 0
	b.generation++
	if b.onChange != nil {
		b.onChange(from, to)
	}
}

// State reports the current position, applying any elapsed cooldown
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()
	return b.state
}

// ConsecutiveFailures is the current failure run while closed
func (b *Breaker) ConsecutiveFailures() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutive
}
