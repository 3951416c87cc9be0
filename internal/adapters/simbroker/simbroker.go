package simbroker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tradecore/internal/domain"
	"tradecore/internal/ports"
)

// SimBroker is an in-process broker used for paper trading and tests. Orders
// are accepted immediately; fills are produced either from market data pushed
// through OnTick (paper mode) or explicitly via the Fill/Reject helpers
// (tests).
type SimBroker struct {
	mu      sync.Mutex
	seq     int
	orders  map[string]*simOrder
	handler ports.BrokerEventHandler
	logger  ports.Logger

	liquidateCalls int
	failPlace      error
	failCancel     error
}

type simOrder struct {
	id     string
	symbol string
	spec   ports.OrderSpec
	open   bool
}

// New creates a simulated broker.
func New(logger ports.Logger) *SimBroker {
	return &SimBroker{
		orders: make(map[string]*simOrder),
		logger: logger,
	}
}

// SetEventHandler implements ports.Broker.
func (b *SimBroker) SetEventHandler(handler ports.BrokerEventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = handler
}

// PlaceOrder implements ports.Broker. Fills are never emitted from inside this
// call; paper-mode matching happens on the next tick so the caller has the
// broker order ID registered before any event referencing it arrives.
func (b *SimBroker) PlaceOrder(ctx context.Context, spec ports.OrderSpec) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failPlace != nil {
		return "", b.failPlace
	}
	b.seq++
	id := fmt.Sprintf("SIM-%d", b.seq)
	b.orders[id] = &simOrder{id: id, symbol: spec.Symbol, spec: spec, open: true}
	return id, nil
}

// CancelOrder implements ports.Broker.
func (b *SimBroker) CancelOrder(ctx context.Context, brokerOrderID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failCancel != nil {
		return false, b.failCancel
	}
	o, ok := b.orders[brokerOrderID]
	if !ok || !o.open {
		return false, nil
	}
	o.open = false
	return true, nil
}

// QueryOpenOrders implements ports.Broker.
func (b *SimBroker) QueryOpenOrders(ctx context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var ids []string
	for _, o := range b.orders {
		if o.open {
			ids = append(ids, o.id)
		}
	}
	return ids, nil
}

// LiquidateAll implements ports.Broker. The simulation just closes everything.
func (b *SimBroker) LiquidateAll(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.liquidateCalls++
	for _, o := range b.orders {
		o.open = false
	}
	return nil
}

// LiquidateCalls reports how many times LiquidateAll ran.
func (b *SimBroker) LiquidateCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.liquidateCalls
}

// OnTick matches open orders against the latest price. Market orders fill at
// the tick price; limit and stop orders fill when the price crosses their
// trigger.
func (b *SimBroker) OnTick(tick domain.Tick) {
	b.mu.Lock()
	var fills []*simOrder
	for _, o := range b.orders {
		if !o.open || o.symbol != tick.Symbol {
			continue
		}
		if b.matches(o.spec, tick.Price) {
			o.open = false
			fills = append(fills, o)
		}
	}
	handler := b.handler
	b.mu.Unlock()

	if handler == nil {
		return
	}
	for _, o := range fills {
		price := tick.Price
		if o.spec.LimitPrice > 0 && o.spec.StopPrice == 0 {
			price = o.spec.LimitPrice
		}
		handler(ports.BrokerEvent{
			Type:          ports.BrokerEventFill,
			BrokerOrderID: o.id,
			FillQuantity:  o.spec.Quantity,
			FillPrice:     price,
			At:            tick.Timestamp,
		})
	}
}

func (b *SimBroker) matches(spec ports.OrderSpec, price float64) bool {
	switch {
	case spec.StopPrice > 0:
		if spec.Side == domain.Sell {
			return price <= spec.StopPrice
		}
		return price >= spec.StopPrice
	case spec.LimitPrice > 0:
		if spec.Side == domain.Buy {
			return price <= spec.LimitPrice
		}
		return price >= spec.LimitPrice
	default:
		return true // market
	}
}

// Fill emits a fill event for a specific broker order. Test control.
func (b *SimBroker) Fill(brokerOrderID string, quantity, price float64) {
	b.mu.Lock()
	o, ok := b.orders[brokerOrderID]
	if ok && quantity >= o.spec.Quantity {
		o.open = false
	}
	handler := b.handler
	b.mu.Unlock()
	if !ok || handler == nil {
		return
	}
	handler(ports.BrokerEvent{
		Type:          ports.BrokerEventFill,
		BrokerOrderID: brokerOrderID,
		FillQuantity:  quantity,
		FillPrice:     price,
		At:            time.Now().UTC(),
	})
}

// Reject emits a reject event for a specific broker order. Test control.
func (b *SimBroker) Reject(brokerOrderID, reason string) {
	b.mu.Lock()
	if o, ok := b.orders[brokerOrderID]; ok {
		o.open = false
	}
	handler := b.handler
	b.mu.Unlock()
	if handler == nil {
		return
	}
	handler(ports.BrokerEvent{
		Type:          ports.BrokerEventReject,
		BrokerOrderID: brokerOrderID,
		Reason:        reason,
		At:            time.Now().UTC(),
	})
}

// Cancel emits a venue-initiated cancel event. Test control.
func (b *SimBroker) Cancel(brokerOrderID string) {
	b.mu.Lock()
	if o, ok := b.orders[brokerOrderID]; ok {
		o.open = false
	}
	handler := b.handler
	b.mu.Unlock()
	if handler == nil {
		return
	}
	handler(ports.BrokerEvent{
		Type:          ports.BrokerEventCancel,
		BrokerOrderID: brokerOrderID,
		At:            time.Now().UTC(),
	})
}

// FailPlacements makes every subsequent PlaceOrder return err. Pass nil to
// restore normal behavior. Test control.
func (b *SimBroker) FailPlacements(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failPlace = err
}

// FailCancels makes every subsequent CancelOrder return err. Test control.
func (b *SimBroker) FailCancels(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failCancel = err
}
