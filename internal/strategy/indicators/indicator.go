package indicators

// PriceWindow is a fixed-capacity rolling window of tick prices. Strategies
// push the latest price on every tick; the oldest price falls off once the
// capacity is reached. Not safe for concurrent use; the dispatcher already
// serializes each strategy's handlers.
type PriceWindow struct {
	prices   []float64
	capacity int
}

// NewPriceWindow creates a window holding at most capacity prices.
func NewPriceWindow(capacity int) *PriceWindow {
	if capacity <= 0 {
		capacity = 1
	}
	return &PriceWindow{
		prices:   make([]float64, 0, capacity),
		capacity: capacity,
	}
}

// Push appends the latest price, evicting the oldest when full.
func (w *PriceWindow) Push(price float64) {
	if len(w.prices) == w.capacity {
		copy(w.prices, w.prices[1:])
		w.prices = w.prices[:len(w.prices)-1]
	}
	w.prices = append(w.prices, price)
}

// Len returns the number of prices currently held.
func (w *PriceWindow) Len() int {
	return len(w.prices)
}

// Values returns the window contents, oldest first. The slice is shared; do
// not retain it across pushes.
func (w *PriceWindow) Values() []float64 {
	return w.prices
}

// Last returns the most recent price, or 0 when empty.
func (w *PriceWindow) Last() float64 {
	if len(w.prices) == 0 {
		return 0
	}
	return w.prices[len(w.prices)-1]
}
