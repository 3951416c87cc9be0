package strategies

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/domain"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func tick(price float64) domain.Tick {
	return domain.Tick{Symbol: "ETHUSDT", Price: price, Timestamp: time.Now()}
}

func newMomentum(t *testing.T) *Momentum {
	t.Helper()
	m, err := NewMomentum(MomentumConfig{
		StrategyID:        "mom-1",
		Symbol:            "ETHUSDT",
		FastPeriod:        2,
		SlowPeriod:        4,
		Quantity:          1,
		StopLossPercent:   0.01,
		TakeProfitPercent: 0.02,
	}, &mockLogger{})
	require.NoError(t, err)
	return m
}

// feed drives ticks through the strategy and returns the first emitted signal.
func feed(m *Momentum, prices []float64) *domain.Signal {
	for _, p := range prices {
		if sigs := m.OnTick(context.Background(), tick(p)); len(sigs) > 0 {
			return &sigs[0]
		}
	}
	return nil
}

func TestMomentumGoldenCrossEmitsBracketBuy(t *testing.T) {
	m := newMomentum(t)

	// Downtrend establishes fast below slow, then a sharp reversal crosses up.
	sig := feed(m, []float64{110, 108, 106, 104, 102, 100, 120, 140})
	require.NotNil(t, sig, "golden cross must emit a signal")

	assert.Equal(t, domain.ActionBuy, sig.Action)
	assert.Equal(t, domain.KindBracket, sig.Kind)
	assert.Equal(t, "mom-1", sig.StrategyID)
	assert.Positive(t, sig.Price)
	assert.InDelta(t, sig.Price*0.99, sig.StopLoss, 1e-9)
	assert.InDelta(t, sig.Price*1.02, sig.TakeProfit, 1e-9)
	assert.Greater(t, sig.Strength, 0.0)
	assert.LessOrEqual(t, sig.Strength, 100.0)
}

func TestMomentumDeathCrossExitsOnlyWhenLong(t *testing.T) {
	m := newMomentum(t)

	entry := feed(m, []float64{110, 108, 106, 104, 102, 100, 120, 140})
	require.NotNil(t, entry)

	// Not long yet: the entry has not filled, a death cross emits nothing.
	exit := feed(m, []float64{100, 80, 60, 50})
	assert.Nil(t, exit)

	// After the entry fill, the next death cross emits a market sell.
	m.OnFill(context.Background(), &domain.Order{
		ID: "ord-1", Side: domain.Buy, Status: domain.StatusFilled,
	})
	entry2 := feed(m, []float64{60, 80, 100, 120})
	_ = entry2 // re-cross upward; already long so nothing emitted
	exit = feed(m, []float64{100, 80, 60, 50})
	require.NotNil(t, exit)
	assert.Equal(t, domain.ActionSell, exit.Action)
	assert.Equal(t, domain.KindMarket, exit.Kind)
}

func TestMomentumProtectiveLegFillFlattens(t *testing.T) {
	m := newMomentum(t)
	m.OnFill(context.Background(), &domain.Order{ID: "ord-1", Side: domain.Buy, Status: domain.StatusFilled})
	assert.True(t, m.long)

	// The stop-loss leg filling closes the position.
	m.OnFill(context.Background(), &domain.Order{
		ID: "ord-2", Side: domain.Sell, Role: domain.RoleStopLoss, Status: domain.StatusFilled,
	})
	assert.False(t, m.long)
}

func TestMomentumEntryRejectionResetsState(t *testing.T) {
	m := newMomentum(t)
	m.long = true
	m.OnFill(context.Background(), &domain.Order{
		ID: "ord-1", Side: domain.Buy, Status: domain.StatusRejected, Reason: "margin",
	})
	assert.False(t, m.long)
}

func TestMomentumConfigValidation(t *testing.T) {
	_, err := NewMomentum(MomentumConfig{StrategyID: "x", Symbol: "ETHUSDT", FastPeriod: 10, SlowPeriod: 5, Quantity: 1}, &mockLogger{})
	assert.Error(t, err, "fast period must be below slow period")

	_, err = NewMomentum(MomentumConfig{StrategyID: "x", Symbol: "ETHUSDT", FastPeriod: 2, SlowPeriod: 4}, &mockLogger{})
	assert.Error(t, err, "quantity is required")
}

func newMeanReversion(t *testing.T) *MeanReversion {
	t.Helper()
	m, err := NewMeanReversion(MeanReversionConfig{
		StrategyID:      "rev-1",
		Symbol:          "ETHUSDT",
		RSIPeriod:       3,
		Overbought:      70,
		Oversold:        30,
		Quantity:        1,
		StopLossPercent: 0.01,
		MinInterval:     time.Minute,
	}, &mockLogger{})
	require.NoError(t, err)
	return m
}

func TestMeanReversionOnTickOnlyRecords(t *testing.T) {
	m := newMeanReversion(t)
	sigs := m.OnTick(context.Background(), tick(100))
	assert.Nil(t, sigs, "pull-model strategy never signals from OnTick")
}

func TestMeanReversionOversoldEmitsCoverBuy(t *testing.T) {
	m := newMeanReversion(t)
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return current }

	// Steady decline drives the RSI to the floor.
	for _, p := range []float64{100, 98, 96, 94, 92, 90} {
		m.OnTick(context.Background(), tick(p))
	}

	sigs := m.GenerateSignals(context.Background())
	require.Len(t, sigs, 1)
	assert.Equal(t, domain.ActionBuy, sigs[0].Action)
	assert.Equal(t, domain.KindCover, sigs[0].Kind)
	assert.InDelta(t, 90*0.99, sigs[0].StopLoss, 1e-9, "cover entries carry a mandatory stop")
}

func TestMeanReversionThrottlesByMinInterval(t *testing.T) {
	m := newMeanReversion(t)
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return current }

	for _, p := range []float64{100, 98, 96, 94, 92, 90} {
		m.OnTick(context.Background(), tick(p))
	}
	require.Len(t, m.GenerateSignals(context.Background()), 1)

	// Still oversold, but inside the throttle window.
	m.OnTick(context.Background(), tick(89))
	assert.Nil(t, m.GenerateSignals(context.Background()))

	// Past the window the signal may repeat.
	current = current.Add(2 * time.Minute)
	m.OnTick(context.Background(), tick(88))
	assert.Len(t, m.GenerateSignals(context.Background()), 1)
}

func TestMeanReversionOverboughtExitsWhenLong(t *testing.T) {
	m := newMeanReversion(t)
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return current }

	m.OnFill(context.Background(), &domain.Order{ID: "ord-1", Side: domain.Buy, Status: domain.StatusFilled})
	require.True(t, m.long)

	for _, p := range []float64{100, 102, 104, 106, 108, 110} {
		m.OnTick(context.Background(), tick(p))
	}
	sigs := m.GenerateSignals(context.Background())
	require.Len(t, sigs, 1)
	assert.Equal(t, domain.ActionSell, sigs[0].Action)
	assert.Equal(t, domain.KindMarket, sigs[0].Kind)
}
