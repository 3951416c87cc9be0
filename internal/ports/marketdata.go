package ports

import (
	"context"

	"tradecore/internal/domain"
)

// TickHandler consumes one normalized tick.
type TickHandler func(tick domain.Tick)

// TickStream defines the market data collaborator. The core makes no
// assumption about transport; an adapter may push from a websocket or poll.
type TickStream interface {
	// Stream delivers ticks for the given symbols to the handler until the
	// context is cancelled or the stream fails terminally.
	Stream(ctx context.Context, symbols []string, handler TickHandler, errHandler func(err error)) error
}
