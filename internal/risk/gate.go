package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"tradecore/internal/domain"
	"tradecore/internal/ports"
)

// Config holds the portfolio-level risk limits. A zero limit disables the
// corresponding check. Changes take effect on the next validation, never
// retroactively.
type Config struct {
	MaxDrawdownPercent   float64 // e.g., 10.0 for 10% decline from peak equity
	MaxPositionValue     float64 // Max absolute notional per symbol
	MaxDailyLoss         float64 // Max loss since the daily reset, in quote currency
	MaxOrderValue        float64 // Max notional of a single order
	StopLossPercent      float64 // Default protective stop distance for strategies
	EmergencyStopEnabled bool    // Breaches trigger the emergency halt protocol
	InitialEquity        float64 // Equity baseline for drawdown/daily PnL
	OrderRatePerSecond   float64 // Per-symbol intent rate limit (0 disables)
	OrderRateBurst       int     // Burst size for the rate limit
}

// PortfolioView is the read-only position data the gate consumes. It is
// implemented by the order lifecycle manager's ledger.
type PortfolioView interface {
	// Position returns the current position for a symbol (zero value if flat).
	Position(symbol string) domain.Position
	// Equity returns realized plus unrealized PnL over the initial baseline.
	Equity(initial float64) float64
}

// HaltTrigger invokes the emergency halt protocol with a reason.
type HaltTrigger func(ctx context.Context, reason string)

// Halted reports whether the emergency stop flag is set.
type Halted func() bool

// Gate is the stateful pre-trade validator. Validate has no side effect beyond
// reading portfolio data and circuit-breaker counters: it never places or
// records orders.
type Gate struct {
	logger    ports.Logger
	breaker   *Breaker
	portfolio PortfolioView
	halted    Halted
	haltTrig  HaltTrigger

	mu       sync.Mutex
	cfg      Config
	limiters map[string]*rate.Limiter

	// Drawdown watermark and daily baseline. The peak only ratchets upward:
	// a decreasing peak would understate true drawdown.
	peakEquity     float64
	dayStartEquity float64
	breachActive   bool

	now func() time.Time
}

// NewGate creates a risk gate. haltTrig may be nil when no emergency halt
// protocol is wired (tests); halted must not be nil.
func NewGate(cfg Config, breaker *Breaker, portfolio PortfolioView, halted Halted, haltTrig HaltTrigger, logger ports.Logger) (*Gate, error) {
	if breaker == nil || portfolio == nil || halted == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for risk gate")
	}
	if cfg.InitialEquity <= 0 {
		return nil, fmt.Errorf("configuration InitialEquity must be positive")
	}
	return &Gate{
		logger:         logger,
		breaker:        breaker,
		portfolio:      portfolio,
		halted:         halted,
		haltTrig:       haltTrig,
		cfg:            cfg,
		limiters:       make(map[string]*rate.Limiter),
		peakEquity:     cfg.InitialEquity,
		dayStartEquity: cfg.InitialEquity,
		now:            time.Now,
	}, nil
}

// SetConfig swaps the limits at runtime; the next validation sees them.
func (g *Gate) SetConfig(cfg Config) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if cfg.InitialEquity <= 0 {
		cfg.InitialEquity = g.cfg.InitialEquity
	}
	g.cfg = cfg
	// Rebuild limiters so a changed rate applies to every symbol.
	g.limiters = make(map[string]*rate.Limiter)
}

// Breaker exposes the circuit breaker for operator resets.
func (g *Gate) Breaker() *Breaker {
	return g.breaker
}

// Validate checks one order intent against the limits. The first failing check
// short-circuits. A rejection is an expected negative result, not an error.
func (g *Gate) Validate(ctx context.Context, sig *domain.Signal) domain.RiskDecision {
	g.mu.Lock()
	defer g.mu.Unlock()

	decision := domain.RiskDecision{
		SignalID:   sig.ID,
		StrategyID: sig.StrategyID,
		Symbol:     sig.Symbol,
		At:         g.now(),
	}

	// 1. Emergency stop.
	if g.halted() {
		decision.Reason = "emergency stop active"
		return decision
	}

	// 2. Circuit breaker open for a key touching this symbol.
	if key, blocked := g.breaker.Blocked(sig.Symbol); blocked {
		decision.Reason = fmt.Sprintf("circuit breaker open for %s/%s", key.Symbol, key.Rule)
		return decision
	}

	pos := g.portfolio.Position(sig.Symbol)
	refPrice := sig.Price
	if refPrice <= 0 {
		refPrice = pos.CurrentPrice
	}
	if refPrice <= 0 {
		decision.Reason = "no reference price available"
		return decision
	}

	// 3. Single-order notional.
	orderValue := sig.Quantity * refPrice
	if g.cfg.MaxOrderValue > 0 && orderValue > g.cfg.MaxOrderValue {
		g.breaker.RecordFailure(Key{Symbol: sig.Symbol, Rule: RuleOrderValue})
		decision.Reason = fmt.Sprintf("order value %.2f exceeds maximum allowed %.2f", orderValue, g.cfg.MaxOrderValue)
		return decision
	}

	// 4. Projected position notional after the order.
	signedQty := sig.Quantity
	if sig.Action.Side() == domain.Sell {
		signedQty = -signedQty
	}
	projected := (pos.Quantity + signedQty) * refPrice
	if projected < 0 {
		projected = -projected
	}
	if g.cfg.MaxPositionValue > 0 && projected > g.cfg.MaxPositionValue {
		g.breaker.RecordFailure(Key{Symbol: sig.Symbol, Rule: RulePositionValue})
		decision.Reason = fmt.Sprintf("projected position value %.2f exceeds maximum allowed %.2f", projected, g.cfg.MaxPositionValue)
		return decision
	}

	// 5. Per-symbol intent rate limit.
	if g.cfg.OrderRatePerSecond > 0 {
		limiter, ok := g.limiters[sig.Symbol]
		if !ok {
			burst := g.cfg.OrderRateBurst
			if burst <= 0 {
				burst = 1
			}
			limiter = rate.NewLimiter(rate.Limit(g.cfg.OrderRatePerSecond), burst)
			g.limiters[sig.Symbol] = limiter
		}
		if !limiter.Allow() {
			decision.Reason = "order rate limit exceeded"
			return decision
		}
	}

	decision.Allowed = true
	return decision
}

// CheckPortfolioLimits runs the periodic drawdown and daily-loss checks. On a
// breach it records a circuit-breaker failure and, when the emergency stop is
// enabled, invokes the halt protocol exactly once per breach episode.
func (g *Gate) CheckPortfolioLimits(ctx context.Context) {
	g.mu.Lock()
	cfg := g.cfg
	equity := g.portfolio.Equity(cfg.InitialEquity)
	if equity > g.peakEquity {
		g.peakEquity = equity
	}
	peak := g.peakEquity
	dayStart := g.dayStartEquity
	g.mu.Unlock()

	var breachReason string

	if cfg.MaxDrawdownPercent > 0 && peak > 0 {
		drawdown := (peak - equity) / peak * 100
		if drawdown > cfg.MaxDrawdownPercent {
			g.breaker.RecordFailure(Key{Symbol: PortfolioScope, Rule: RuleDrawdown})
			breachReason = fmt.Sprintf("drawdown %.2f%% exceeds maximum %.2f%%", drawdown, cfg.MaxDrawdownPercent)
		}
	}

	if breachReason == "" && cfg.MaxDailyLoss > 0 {
		dailyPnL := equity - dayStart
		if dailyPnL < -cfg.MaxDailyLoss {
			g.breaker.RecordFailure(Key{Symbol: PortfolioScope, Rule: RuleDailyLoss})
			breachReason = fmt.Sprintf("daily loss %.2f exceeds maximum %.2f", -dailyPnL, cfg.MaxDailyLoss)
		}
	}

	g.mu.Lock()
	wasActive := g.breachActive
	g.breachActive = breachReason != ""
	g.mu.Unlock()

	if breachReason == "" {
		return
	}
	g.logger.Warn(ctx, "Portfolio risk limit breached", map[string]interface{}{
		"reason": breachReason,
		"equity": equity,
		"peak":   peak,
	})
	if cfg.EmergencyStopEnabled && g.haltTrig != nil && !wasActive && !g.halted() {
		g.haltTrig(ctx, breachReason)
	}
}

// PeakEquity returns the current drawdown watermark.
func (g *Gate) PeakEquity() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.peakEquity
}

// ResetDaily re-bases the daily PnL window on current equity.
func (g *Gate) ResetDaily(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dayStartEquity = g.portfolio.Equity(g.cfg.InitialEquity)
	g.logger.Info(ctx, "Daily risk window reset", map[string]interface{}{"baseline": g.dayStartEquity})
}
