package indicators

import "fmt"

// MovingAverageType defines the type of moving average
type MovingAverageType string

const (
	// SimpleMovingAverage represents a simple moving average
	SimpleMovingAverage MovingAverageType = "SMA"
	// ExponentialMovingAverage represents an exponential moving average
	ExponentialMovingAverage MovingAverageType = "EMA"
)

// MovingAverageConfig holds configuration for moving average indicators
type MovingAverageConfig struct {
	Period int
	Type   MovingAverageType
}

// MovingAverage implements both SMA and EMA indicators over a price series
type MovingAverage struct {
	config MovingAverageConfig
}

// NewMovingAverage creates a new moving average indicator instance
func NewMovingAverage(config MovingAverageConfig) *MovingAverage {
	return &MovingAverage{config: config}
}

// Name returns the name of the indicator
func (m *MovingAverage) Name() string {
	return string(m.config.Type)
}

// Calculate computes the moving average value based on the configured type
func (m *MovingAverage) Calculate(prices []float64) (float64, error) {
	switch m.config.Type {
	case SimpleMovingAverage:
		return m.calculateSMA(prices)
	case ExponentialMovingAverage:
		return m.calculateEMA(prices)
	default:
		return 0, fmt.Errorf("unsupported moving average type: %s", m.config.Type)
	}
}

// calculateSMA computes the Simple Moving Average
func (m *MovingAverage) calculateSMA(prices []float64) (float64, error) {
	if len(prices) < m.config.Period {
		return 0, fmt.Errorf("not enough data (%d) to calculate SMA for period %d", len(prices), m.config.Period)
	}

	total := 0.0
	for i := len(prices) - m.config.Period; i < len(prices); i++ {
		total += prices[i]
	}
	return total / float64(m.config.Period), nil
}

// calculateEMA computes the Exponential Moving Average
func (m *MovingAverage) calculateEMA(prices []float64) (float64, error) {
	if len(prices) < m.config.Period {
		return 0, fmt.Errorf("not enough data (%d) to calculate EMA for period %d", len(prices), m.config.Period)
	}

	multiplier := 2.0 / float64(m.config.Period+1)

	// Seed with the SMA of the first 'period' prices
	initialSMA, err := m.calculateSMA(prices[:m.config.Period])
	if err != nil {
		return 0, fmt.Errorf("failed to calculate initial SMA for EMA: %w", err)
	}
	ema := initialSMA

	for i := m.config.Period; i < len(prices); i++ {
		ema = (prices[i]-ema)*multiplier + ema
	}

	return ema, nil
}
