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

// MeanReversionConfig holds configuration for the RSI mean-reversion strategy.
type MeanReversionConfig struct {
	StrategyID      string
	Symbol          string
	RSIPeriod       int           // e.g., 14
	Overbought      float64       // e.g., 70.0
	Oversold        float64       // e.g., 30.0
	Quantity        float64       // Quantity per entry
	StopLossPercent float64       // Mandatory stop distance for COVER entries
	MinInterval     time.Duration // Throttle between emitted signals
}

// MeanReversion buys oversold conditions with a COVER order (entry plus
// mandatory stop) and exits when the RSI recovers into overbought territory.
// Pull model: OnTick only records prices; signals come from GenerateSignals,
// polled on an interval, which lets the strategy throttle its own rate.
type MeanReversion struct {
	cfg    MeanReversionConfig
	logger ports.Logger
	window *indicators.PriceWindow
	rsi    *indicators.RSI

	long       bool
	lastSignal time.Time
	now        func() time.Time
}

// NewMeanReversion creates a mean-reversion strategy instance.
func NewMeanReversion(cfg MeanReversionConfig, logger ports.Logger) (*MeanReversion, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for strategy")
	}
	if cfg.StrategyID == "" || cfg.Symbol == "" {
		return nil, fmt.Errorf("strategy ID and symbol are required")
	}
	if cfg.RSIPeriod <= 0 {
		return nil, fmt.Errorf("RSI period must be positive")
	}
	if cfg.Overbought <= cfg.Oversold || cfg.Overbought > 100 || cfg.Oversold < 0 {
		return nil, fmt.Errorf("invalid RSI thresholds (Overbought must be > Oversold, between 0-100)")
	}
	if cfg.Quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive")
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = 30 * time.Second
	}
	return &MeanReversion{
		cfg:    cfg,
		logger: logger,
		window: indicators.NewPriceWindow(cfg.RSIPeriod * 4),
		rsi: indicators.NewRSI(indicators.RSIConfig{
			Period:     cfg.RSIPeriod,
			Overbought: cfg.Overbought,
			Oversold:   cfg.Oversold,
		}),
		now: time.Now,
	}, nil
}

// ID implements ports.Strategy.
func (m *MeanReversion) ID() string { return m.cfg.StrategyID }

// Symbol implements ports.Strategy.
func (m *MeanReversion) Symbol() string { return m.cfg.Symbol }

// OnTick records the price; no synchronous signals.
func (m *MeanReversion) OnTick(ctx context.Context, tick domain.Tick) []domain.Signal {
	m.window.Push(tick.Price)
	return nil
}

// GenerateSignals evaluates the RSI, throttled to at most one signal per
// MinInterval.
func (m *MeanReversion) GenerateSignals(ctx context.Context) []domain.Signal {
	if m.window.Len() <= m.cfg.RSIPeriod {
		return nil
	}
	if m.now().Sub(m.lastSignal) < m.cfg.MinInterval {
		return nil
	}

	value, err := m.rsi.Calculate(m.window.Values())
	if err != nil {
		return nil
	}
	price := m.window.Last()

	if m.rsi.IsOversold(value) && !m.long {
		m.lastSignal = m.now()
		m.logger.Debug(ctx, "RSI oversold, entering", map[string]interface{}{
			"strategyID": m.cfg.StrategyID, "rsi": value,
		})
		return []domain.Signal{{
			ID:         uuid.NewString(),
			StrategyID: m.cfg.StrategyID,
			Symbol:     m.cfg.Symbol,
			Action:     domain.ActionBuy,
			Kind:       domain.KindCover,
			Strength:   math.Min(100, (m.cfg.Oversold-value)*5+50),
			Quantity:   m.cfg.Quantity,
			StopLoss:   price * (1 - m.cfg.StopLossPercent),
			Timestamp:  m.now().UTC(),
		}}
	}
	if m.rsi.IsOverbought(value) && m.long {
		m.lastSignal = m.now()
		m.logger.Debug(ctx, "RSI overbought, exiting", map[string]interface{}{
			"strategyID": m.cfg.StrategyID, "rsi": value,
		})
		return []domain.Signal{{
			ID:         uuid.NewString(),
			StrategyID: m.cfg.StrategyID,
			Symbol:     m.cfg.Symbol,
			Action:     domain.ActionSell,
			Kind:       domain.KindMarket,
			Strength:   math.Min(100, (value-m.cfg.Overbought)*5+50),
			Quantity:   m.cfg.Quantity,
			Timestamp:  m.now().UTC(),
		}}
	}
	return nil
}

// OnFill tracks whether the strategy is currently long.
func (m *MeanReversion) OnFill(ctx context.Context, order *domain.Order) {
	switch {
	case order.Status == domain.StatusRejected:
		m.logger.Warn(ctx, "Order rejected", map[string]interface{}{
			"strategyID": m.cfg.StrategyID, "orderID": order.ID, "reason": order.Reason,
		})
		if order.Side == domain.Buy && order.Role == "" {
			m.long = false
		}
	case order.Role != "":
		// The mandatory stop filled.
		m.long = false
	case order.Side == domain.Buy:
		m.long = true
	case order.Side == domain.Sell:
		m.long = false
	}
}
