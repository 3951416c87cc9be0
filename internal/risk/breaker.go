package risk

import (
	"sync"
	"time"
)

// RuleType identifies the risk rule a circuit-breaker key tracks.
type RuleType string

const (
	RuleOrderValue    RuleType = "ORDER_VALUE"
	RulePositionValue RuleType = "POSITION_VALUE"
	RuleDrawdown      RuleType = "DRAWDOWN"
	RuleDailyLoss     RuleType = "DAILY_LOSS"
)

// PortfolioScope is the pseudo-symbol for portfolio-level rule keys. A breaker
// open on a portfolio key blocks intents for every symbol.
const PortfolioScope = "PORTFOLIO"

// Key scopes a circuit breaker to one symbol and rule.
type Key struct {
	Symbol string
	Rule   RuleType
}

// BreakerConfig tunes the failure window and recovery cooldown.
type BreakerConfig struct {
	FailureThreshold int           // Failures within the window that open the breaker
	FailureWindow    time.Duration // Rolling window for counting failures
	Cooldown         time.Duration // Open duration before automatic close
}

type breakerState struct {
	failures      []time.Time
	failureCount  int
	lastFailureAt time.Time
	isOpen        bool
	openedAt      time.Time
}

// Breaker maintains per-rule-key failure counters. After the configured number
// of failures within the rolling window the key opens; it closes automatically
// once the cooldown elapses, or earlier via a manual operator Reset.
type Breaker struct {
	mu     sync.Mutex
	cfg    BreakerConfig
	states map[Key]*breakerState
	now    func() time.Time
}

// NewBreaker creates a circuit breaker with the given tuning.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.FailureWindow <= 0 {
		cfg.FailureWindow = time.Minute
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	return &Breaker{
		cfg:    cfg,
		states: make(map[Key]*breakerState),
		now:    time.Now,
	}
}

// RecordFailure counts one rule violation and opens the key once the threshold
// is reached within the rolling window. Returns true if the key is now open.
func (b *Breaker) RecordFailure(key Key) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	st, ok := b.states[key]
	if !ok {
		st = &breakerState{}
		b.states[key] = st
	}

	cutoff := now.Add(-b.cfg.FailureWindow)
	kept := st.failures[:0]
	for _, t := range st.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	st.failures = append(kept, now)
	st.failureCount = len(st.failures)
	st.lastFailureAt = now

	if !st.isOpen && st.failureCount >= b.cfg.FailureThreshold {
		st.isOpen = true
		st.openedAt = now
	}
	return st.isOpen
}

// Allow reports whether intents touching the key may proceed. An open key
// whose cooldown has elapsed is closed as a side effect (lazy reset).
func (b *Breaker) Allow(key Key) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.allowLocked(key)
}

// Blocked returns the first open key that applies to the symbol, checking both
// symbol-scoped and portfolio-scoped rules.
func (b *Breaker) Blocked(symbol string) (Key, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key := range b.states {
		if key.Symbol != symbol && key.Symbol != PortfolioScope {
			continue
		}
		if !b.allowLocked(key) {
			return key, true
		}
	}
	return Key{}, false
}

// Reset closes the key immediately and clears its failure history. This is the
// manual operator override; the automatic path is the cooldown in Allow.
func (b *Breaker) Reset(key Key) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.states, key)
}

func (b *Breaker) allowLocked(key Key) bool {
	st, ok := b.states[key]
	if !ok || !st.isOpen {
		return true
	}
	if b.now().Sub(st.openedAt) >= b.cfg.Cooldown {
		st.isOpen = false
		st.failures = st.failures[:0]
		st.failureCount = 0
		return true
	}
	return false
}
