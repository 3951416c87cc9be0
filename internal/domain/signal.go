package domain

import "time"

// Signal is an order intent produced by a strategy. It is transient: a signal
// lives only across one risk-gate validation and is consumed exactly once.
// HOLD signals are dropped before they ever reach the risk gate.
type Signal struct {
	ID         string       // Unique signal identifier
	StrategyID string       // Strategy that produced the signal
	Symbol     string       // Trading symbol
	Action     SignalAction // BUY, SELL or HOLD
	Kind       OrderKind    // Requested order kind
	Strength   float64      // Conviction in [0, 100]
	Price      float64      // Reference/limit price (0 for market)
	Quantity   float64      // Requested quantity
	StopLoss   float64      // Protective stop level (BRACKET/COVER)
	TakeProfit float64      // Profit target level (BRACKET)
	Timestamp  time.Time
}

// ClampStrength bounds the conviction value into [0, 100].
func (s *Signal) ClampStrength() {
	if s.Strength < 0 {
		s.Strength = 0
	} else if s.Strength > 100 {
		s.Strength = 100
	}
}
