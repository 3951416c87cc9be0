package risk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/domain"
)

// Mock implementations

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type mockPortfolio struct {
	positions map[string]domain.Position
	equity    float64
}

func (m *mockPortfolio) Position(symbol string) domain.Position {
	if p, ok := m.positions[symbol]; ok {
		return p
	}
	return domain.Position{Symbol: symbol}
}

func (m *mockPortfolio) Equity(initial float64) float64 { return m.equity }

func newTestGate(t *testing.T, cfg Config, portfolio *mockPortfolio, halted bool, haltTrig HaltTrigger) (*Gate, *Breaker) {
	t.Helper()
	if cfg.InitialEquity == 0 {
		cfg.InitialEquity = 10000
	}
	breaker := NewBreaker(BreakerConfig{FailureThreshold: 100, FailureWindow: time.Minute, Cooldown: time.Minute})
	gate, err := NewGate(cfg, breaker, portfolio, func() bool { return halted }, haltTrig, &mockLogger{})
	require.NoError(t, err)
	return gate, breaker
}

func buySignal(symbol string, qty, price float64) *domain.Signal {
	return &domain.Signal{
		ID:         "sig-1",
		StrategyID: "strat-1",
		Symbol:     symbol,
		Action:     domain.ActionBuy,
		Quantity:   qty,
		Price:      price,
	}
}

func TestGateAllowsWithinLimits(t *testing.T) {
	portfolio := &mockPortfolio{positions: map[string]domain.Position{}}
	gate, _ := newTestGate(t, Config{MaxOrderValue: 10000, MaxPositionValue: 50000}, portfolio, false, nil)

	decision := gate.Validate(context.Background(), buySignal("ETHUSDT", 1, 3000))
	assert.True(t, decision.Allowed)
	assert.Empty(t, decision.Reason)
}

func TestGateRejectsWhenHalted(t *testing.T) {
	portfolio := &mockPortfolio{}
	gate, _ := newTestGate(t, Config{}, portfolio, true, nil)

	decision := gate.Validate(context.Background(), buySignal("ETHUSDT", 1, 3000))
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "emergency stop")
}

func TestGateRejectsOrderValueAboveMax(t *testing.T) {
	portfolio := &mockPortfolio{}
	gate, breaker := newTestGate(t, Config{MaxOrderValue: 10000}, portfolio, false, nil)

	// 50 units at 300 = 15000 notional against a 10000 cap.
	decision := gate.Validate(context.Background(), buySignal("XYZUSDT", 50, 300))
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "order value")

	// The violation feeds the breaker's failure counter for this key.
	st := breaker.states[Key{Symbol: "XYZUSDT", Rule: RuleOrderValue}]
	require.NotNil(t, st)
	assert.Equal(t, 1, st.failureCount)
}

func TestGateRejectsProjectedPositionAboveMax(t *testing.T) {
	portfolio := &mockPortfolio{positions: map[string]domain.Position{
		"ETHUSDT": {Symbol: "ETHUSDT", Quantity: 3, AvgPrice: 3000, CurrentPrice: 3000},
	}}
	gate, _ := newTestGate(t, Config{MaxOrderValue: 50000, MaxPositionValue: 10000}, portfolio, false, nil)

	// Position grows to 4 * 3000 = 12000 projected notional.
	decision := gate.Validate(context.Background(), buySignal("ETHUSDT", 1, 3000))
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "projected position")

	// A sell that reduces the position projects below the cap and passes.
	sell := buySignal("ETHUSDT", 1, 3000)
	sell.Action = domain.ActionSell
	decision = gate.Validate(context.Background(), sell)
	assert.True(t, decision.Allowed)
}

func TestGateRejectsWithoutReferencePrice(t *testing.T) {
	portfolio := &mockPortfolio{}
	gate, _ := newTestGate(t, Config{}, portfolio, false, nil)

	// No signal price and no mark price for the symbol.
	decision := gate.Validate(context.Background(), buySignal("ETHUSDT", 1, 0))
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "no reference price")
}

func TestGateUsesMarkPriceWhenSignalHasNone(t *testing.T) {
	portfolio := &mockPortfolio{positions: map[string]domain.Position{
		"ETHUSDT": {Symbol: "ETHUSDT", CurrentPrice: 3000},
	}}
	gate, _ := newTestGate(t, Config{MaxOrderValue: 1000}, portfolio, false, nil)

	// Market order: notional derives from the mark price, 1 * 3000 > 1000.
	decision := gate.Validate(context.Background(), buySignal("ETHUSDT", 1, 0))
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "order value")
}

func TestGateBreakerShortCircuitsBeforeLimits(t *testing.T) {
	portfolio := &mockPortfolio{}
	breaker := NewBreaker(BreakerConfig{FailureThreshold: 1, FailureWindow: time.Minute, Cooldown: time.Hour})
	gate, err := NewGate(Config{InitialEquity: 10000, MaxOrderValue: 1000000}, breaker, portfolio, func() bool { return false }, nil, &mockLogger{})
	require.NoError(t, err)

	breaker.RecordFailure(Key{Symbol: "ETHUSDT", Rule: RuleOrderValue})
	decision := gate.Validate(context.Background(), buySignal("ETHUSDT", 1, 3000))
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "circuit breaker open")
}

func TestGateRateLimitChecksLast(t *testing.T) {
	portfolio := &mockPortfolio{}
	gate, _ := newTestGate(t, Config{OrderRatePerSecond: 0.001, OrderRateBurst: 2}, portfolio, false, nil)

	sig := buySignal("ETHUSDT", 1, 3000)
	assert.True(t, gate.Validate(context.Background(), sig).Allowed)
	assert.True(t, gate.Validate(context.Background(), sig).Allowed)

	decision := gate.Validate(context.Background(), sig)
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "rate limit")
}

func TestGateDrawdownBreachTriggersHaltOnce(t *testing.T) {
	portfolio := &mockPortfolio{equity: 12000}
	var haltReasons []string
	gate, breaker := newTestGate(t, Config{
		MaxDrawdownPercent:   10,
		EmergencyStopEnabled: true,
	}, portfolio, false, func(ctx context.Context, reason string) {
		haltReasons = append(haltReasons, reason)
	})

	// Equity rises: the peak ratchets up, no breach.
	gate.CheckPortfolioLimits(context.Background())
	assert.Equal(t, 12000.0, gate.PeakEquity())
	assert.Empty(t, haltReasons)

	// 20% off the peak breaches the 10% limit.
	portfolio.equity = 9600
	gate.CheckPortfolioLimits(context.Background())
	require.Len(t, haltReasons, 1)
	assert.Contains(t, haltReasons[0], "drawdown")

	// The peak never decreases on the way down.
	assert.Equal(t, 12000.0, gate.PeakEquity())

	// Same breach episode: the halt fires only once.
	gate.CheckPortfolioLimits(context.Background())
	assert.Len(t, haltReasons, 1)

	// The breach also feeds the portfolio-scope breaker.
	_, blocked := breaker.Blocked("ANYUSDT")
	assert.False(t, blocked, "threshold 100 in this fixture should not open the breaker")
	st := breaker.states[Key{Symbol: PortfolioScope, Rule: RuleDrawdown}]
	require.NotNil(t, st)
	assert.GreaterOrEqual(t, st.failureCount, 2)
}

func TestGateDailyLossBreach(t *testing.T) {
	portfolio := &mockPortfolio{equity: 10000}
	var haltReasons []string
	gate, _ := newTestGate(t, Config{
		MaxDailyLoss:         500,
		EmergencyStopEnabled: true,
	}, portfolio, false, func(ctx context.Context, reason string) {
		haltReasons = append(haltReasons, reason)
	})

	portfolio.equity = 9400 // 600 below the daily baseline
	gate.CheckPortfolioLimits(context.Background())
	require.Len(t, haltReasons, 1)
	assert.Contains(t, haltReasons[0], "daily loss")

	// Resetting the daily window re-bases the baseline at current equity.
	gate.ResetDaily(context.Background())
	gate.CheckPortfolioLimits(context.Background())
	assert.Len(t, haltReasons, 1)
}

func TestGateValidateHasNoSideEffectsOnAllow(t *testing.T) {
	portfolio := &mockPortfolio{positions: map[string]domain.Position{}}
	gate, breaker := newTestGate(t, Config{MaxOrderValue: 10000}, portfolio, false, nil)

	for i := 0; i < 5; i++ {
		decision := gate.Validate(context.Background(), buySignal("ETHUSDT", 1, 3000))
		assert.True(t, decision.Allowed)
	}
	assert.Empty(t, breaker.states, "approved intents must not touch breaker state")
}
