package strategies

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"tradecore/internal/domain"
	"tradecore/internal/ports"
	"tradecore/internal/strategy/indicators"
)

// MomentumConfig holds configuration for the MA crossover momentum strategy.
type MomentumConfig struct {
	StrategyID        string
	Symbol            string
	FastPeriod        int     // e.g., 8
	SlowPeriod        int     // e.g., 21
	Quantity          float64 // Quantity per entry
	StopLossPercent   float64 // e.g., 0.005 for 0.5%
	TakeProfitPercent float64 // e.g., 0.01 for 1%
}

// Momentum enters long on a golden cross (fast MA crossing above slow MA)
// with a BRACKET order carrying its protective legs, and exits on a death
// cross. Push model: signals are emitted synchronously from OnTick.
type Momentum struct {
	cfg    MomentumConfig
	logger ports.Logger
	window *indicators.PriceWindow
	fastMA *indicators.MovingAverage
	slowMA *indicators.MovingAverage

	prevFastAbove bool
	havePrev      bool
	long          bool
}

// NewMomentum creates a momentum strategy instance.
func NewMomentum(cfg MomentumConfig, logger ports.Logger) (*Momentum, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for strategy")
	}
	if cfg.StrategyID == "" || cfg.Symbol == "" {
		return nil, fmt.Errorf("strategy ID and symbol are required")
	}
	if cfg.FastPeriod <= 0 || cfg.SlowPeriod <= 0 {
		return nil, fmt.Errorf("strategy periods must be positive")
	}
	if cfg.FastPeriod >= cfg.SlowPeriod {
		return nil, fmt.Errorf("fast MA period must be less than slow MA period")
	}
	if cfg.Quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive")
	}
	return &Momentum{
		cfg:    cfg,
		logger: logger,
		window: indicators.NewPriceWindow(cfg.SlowPeriod * 2),
		fastMA: indicators.NewMovingAverage(indicators.MovingAverageConfig{Period: cfg.FastPeriod, Type: indicators.SimpleMovingAverage}),
		slowMA: indicators.NewMovingAverage(indicators.MovingAverageConfig{Period: cfg.SlowPeriod, Type: indicators.SimpleMovingAverage}),
	}, nil
}

// ID implements ports.Strategy.
func (m *Momentum) ID() string { return m.cfg.StrategyID }

// Symbol implements ports.Strategy.
func (m *Momentum) Symbol() string { return m.cfg.Symbol }

// OnTick updates the moving averages and emits a signal on a crossover.
func (m *Momentum) OnTick(ctx context.Context, tick domain.Tick) []domain.Signal {
	m.window.Push(tick.Price)
	if m.window.Len() < m.cfg.SlowPeriod {
		return nil
	}

	fast, err := m.fastMA.Calculate(m.window.Values())
	if err != nil {
		return nil
	}
	slow, err := m.slowMA.Calculate(m.window.Values())
	if err != nil {
		return nil
	}

	fastAbove := fast > slow
	defer func() {
		m.prevFastAbove = fastAbove
		m.havePrev = true
	}()
	if !m.havePrev || fastAbove == m.prevFastAbove {
		return nil
	}

	// Conviction scales with the separation of the averages.
	strength := math.Min(100, math.Abs(fast-slow)/slow*10000)

	if fastAbove && !m.long {
		m.logger.Debug(ctx, "Golden cross detected", map[string]interface{}{
			"strategyID": m.cfg.StrategyID, "fast": fast, "slow": slow,
		})
		return []domain.Signal{{
			ID:         uuid.NewString(),
			StrategyID: m.cfg.StrategyID,
			Symbol:     m.cfg.Symbol,
			Action:     domain.ActionBuy,
			Kind:       domain.KindBracket,
			Strength:   strength,
			Price:      tick.Price,
			Quantity:   m.cfg.Quantity,
			StopLoss:   tick.Price * (1 - m.cfg.StopLossPercent),
			TakeProfit: tick.Price * (1 + m.cfg.TakeProfitPercent),
			Timestamp:  time.Now().UTC(),
		}}
	}
	if !fastAbove && m.long {
		m.logger.Debug(ctx, "Death cross detected, exiting", map[string]interface{}{
			"strategyID": m.cfg.StrategyID, "fast": fast, "slow": slow,
		})
		return []domain.Signal{{
			ID:         uuid.NewString(),
			StrategyID: m.cfg.StrategyID,
			Symbol:     m.cfg.Symbol,
			Action:     domain.ActionSell,
			Kind:       domain.KindMarket,
			Strength:   strength,
			Quantity:   m.cfg.Quantity,
			Timestamp:  time.Now().UTC(),
		}}
	}
	return nil
}

// GenerateSignals is a no-op: momentum is a pure push strategy.
func (m *Momentum) GenerateSignals(ctx context.Context) []domain.Signal {
	return nil
}

// OnFill tracks whether the strategy is currently long.
func (m *Momentum) OnFill(ctx context.Context, order *domain.Order) {
	switch {
	case order.Status == domain.StatusRejected:
		m.logger.Warn(ctx, "Order rejected", map[string]interface{}{
			"strategyID": m.cfg.StrategyID, "orderID": order.ID, "reason": order.Reason,
		})
		if order.Side == domain.Buy && order.Role == "" {
			m.long = false
		}
	case order.Role != "":
		// A protective leg filled: the bracket has closed the position.
		m.long = false
	case order.Side == domain.Buy:
		m.long = true
	case order.Side == domain.Sell:
		m.long = false
	}
}
