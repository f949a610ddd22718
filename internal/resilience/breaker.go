package resilience

import (
	"sync"
	"time"
)

// State is one of the three circuit breaker states.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// BreakerConfig parameterizes one named breaker.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures before CLOSED -> OPEN
	RecoveryTimeout  time.Duration // time in OPEN before a trial call is admitted
	SuccessThreshold int           // consecutive HALF_OPEN successes before -> CLOSED
	// Classify reports whether err counts as a failure for this breaker. A
	// nil Classify treats every non-nil error as a failure.
	Classify func(err error) bool
}

// DefaultBreakerConfig is the component-level default (spec §4.2).
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, RecoveryTimeout: 60 * time.Second, SuccessThreshold: 2}
}

// EndpointBreakerConfig is the default for a dedicated per-endpoint breaker
// on the Exchange Client (spec §4.2: failure_threshold=10, recovery_timeout=120s).
func EndpointBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 10, RecoveryTimeout: 120 * time.Second, SuccessThreshold: 2}
}

// Stats is the point-in-time view returned by Breaker.Stats.
type Stats struct {
	State       State
	Failures    int
	Successes   int
	Calls       int64
	Rejections  int64
	LastOpened  time.Time
}

// Breaker guards a single named dependency. Unlike a lock-free
// atomics-based breaker, the state transition and the admission decision
// for a given call are made inside one mutex-guarded critical section, so
// there is no window where two goroutines can both observe CLOSED and both
// decide to proceed past a threshold-crossing failure.
type Breaker struct {
	name string
	cfg  BreakerConfig

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	lastOpened  time.Time
	calls       int64
	rejections  int64
}

// NewBreaker constructs a Breaker named name with cfg. Zero-valued fields in
// cfg fall back to DefaultBreakerConfig.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	d := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = d.FailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = d.RecoveryTimeout
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = d.SuccessThreshold
	}
	return &Breaker{name: name, cfg: cfg}
}

// Call runs fn under breaker protection. A rejected call returns
// *ErrCircuitOpen and does not invoke fn.
func (b *Breaker) Call(fn func() error) error {
	b.mu.Lock()
	if !b.admitLocked() {
		b.rejections++
		b.mu.Unlock()
		return &ErrCircuitOpen{Breaker: b.name}
	}
	b.calls++
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	if err != nil && b.isFailureLocked(err) {
		b.recordFailureLocked()
	} else {
		b.recordSuccessLocked()
	}
	b.mu.Unlock()

	return err
}

// admitLocked decides, as part of the same critical section as any state
// transition it triggers, whether a call may proceed. Must be called with
// mu held.
func (b *Breaker) admitLocked() bool {
	switch b.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		return true
	case StateOpen:
		if time.Since(b.lastOpened) >= b.cfg.RecoveryTimeout {
			b.state = StateHalfOpen
			b.successes = 0
			return true
		}
		return false
	default:
		return false
	}
}

func (b *Breaker) isFailureLocked(err error) bool {
	if b.cfg.Classify != nil {
		return b.cfg.Classify(err)
	}
	return err != nil
}

func (b *Breaker) recordFailureLocked() {
	switch b.state {
	case StateHalfOpen:
		b.openLocked()
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.openLocked()
		}
	case StateOpen:
		// already open; refresh the timer so recovery waits a full window again
		b.lastOpened = time.Now()
	}
}

func (b *Breaker) openLocked() {
	b.state = StateOpen
	b.failures = 0
	b.successes = 0
	b.lastOpened = time.Now()
}

func (b *Breaker) recordSuccessLocked() {
	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.state = StateClosed
			b.failures = 0
			b.successes = 0
		}
	}
}

// Stats returns a snapshot of the breaker's counters.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		State:      b.state,
		Failures:   b.failures,
		Successes:  b.successes,
		Calls:      b.calls,
		Rejections: b.rejections,
		LastOpened: b.lastOpened,
	}
}

// Reset administratively forces the breaker back to CLOSED with zeroed
// failure and success counts; the Calls and Rejections totals are kept.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.successes = 0
}

// Registry is a named-breaker registry: one dedicated breaker per external
// endpoint used by the Exchange Client (OHLCV, OI, funding, liquidations,
// trader-ratio, depth).
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	cfg      BreakerConfig
}

// NewRegistry constructs a Registry; every breaker it creates on demand uses
// cfg (typically EndpointBreakerConfig()).
func NewRegistry(cfg BreakerConfig) *Registry {
	return &Registry{breakers: make(map[string]*Breaker), cfg: cfg}
}

// Get returns the named breaker, creating it with the registry's default
// config on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[name]
	if !ok {
		b = NewBreaker(name, r.cfg)
		r.breakers[name] = b
	}
	return b
}

// AllStats returns a snapshot of every breaker currently registered.
func (r *Registry) AllStats() map[string]Stats {
	r.mu.Lock()
	names := make([]string, 0, len(r.breakers))
	breakers := make([]*Breaker, 0, len(r.breakers))
	for name, b := range r.breakers {
		names = append(names, name)
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	out := make(map[string]Stats, len(names))
	for i, name := range names {
		out[name] = breakers[i].Stats()
	}
	return out
}
