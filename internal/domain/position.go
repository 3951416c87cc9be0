package domain

// Position is the net exposure for one symbol, derived from fills. Quantity is
// signed: positive for long, negative for short. Positions are never deleted;
// a flat position simply has Quantity == 0.
type Position struct {
	Symbol       string
	Quantity     float64
	AvgPrice     float64
	CurrentPrice float64
}

// Value returns the absolute notional value at the current price.
func (p *Position) Value() float64 {
	v := p.Quantity * p.CurrentPrice
	if v < 0 {
		return -v
	}
	return v
}

// UnrealizedPnL returns the open profit/loss at the current price.
func (p *Position) UnrealizedPnL() float64 {
	if p.Quantity == 0 {
		return 0
	}
	return (p.CurrentPrice - p.AvgPrice) * p.Quantity
}

// ApplyFill folds a fill into the position and returns the realized PnL of any
// quantity the fill closed. Increasing exposure reprices the average entry;
// reducing exposure realizes PnL against it; crossing through zero does both.
func (p *Position) ApplyFill(side OrderSide, qty, price float64) float64 {
	delta := qty
	if side == Sell {
		delta = -qty
	}
	if p.Quantity == 0 || (p.Quantity > 0) == (delta > 0) {
		// Same direction: weighted average entry price.
		total := p.Quantity + delta
		p.AvgPrice = (p.AvgPrice*abs(p.Quantity) + price*abs(delta)) / abs(total)
		p.Quantity = total
		p.CurrentPrice = price
		return 0
	}

	closed := abs(delta)
	if closed > abs(p.Quantity) {
		closed = abs(p.Quantity)
	}
	direction := 1.0
	if p.Quantity < 0 {
		direction = -1.0
	}
	realized := (price - p.AvgPrice) * closed * direction

	p.Quantity += delta
	p.CurrentPrice = price
	if p.Quantity == 0 {
		p.AvgPrice = 0
	} else if (p.Quantity > 0) == (delta > 0) {
		// Crossed through zero; the leftover is a fresh position at fill price.
		p.AvgPrice = price
	}
	return realized
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
