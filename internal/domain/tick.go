package domain

import "time"

// Tick is a single normalized market price update. Ticks are immutable and
// ephemeral; the core never persists them.
type Tick struct {
	Symbol    string    // Trading symbol (e.g., "ETHUSDT")
	Price     float64   // Last traded price
	Timestamp time.Time // Exchange-side event time
}
