package binance

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"tradecore/internal/domain"
	"tradecore/internal/ports"
)

const (
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"
)

// Broker implements ports.Broker against Binance USD-M futures. Fills and
// cancels are detected by polling order status; the venue's order ID is
// the broker order ID exposed to the lifecycle manager.
type Broker struct {
	client       *futures.Client
	logger       ports.Logger
	pollInterval time.Duration

	mu      sync.Mutex
	tracked map[string]*trackedOrder
	handler ports.BrokerEventHandler
}

type trackedOrder struct {
	orderID  int64
	symbol   string
	executed float64 // Quantity already reported as filled
}

// BrokerConfig holds configuration for the Binance broker adapter.
type BrokerConfig struct {
	APIKey       string
	SecretKey    string
	UseTestnet   bool
	PollInterval time.Duration // Order status polling cadence (e.g., 2 * time.Second)
	Logger       ports.Logger
}

// NewBroker creates a Binance futures broker adapter.
func NewBroker(cfg BrokerConfig) (*Broker, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance broker")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("%w: API key and secret are required for trading", ports.ErrConfigurationError)
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance broker configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	} else {
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance broker configured for Production", map[string]interface{}{"baseURL": client.BaseURL})
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}

	return &Broker{
		client:       client,
		logger:       cfg.Logger,
		pollInterval: pollInterval,
		tracked:      make(map[string]*trackedOrder),
	}, nil
}

// SetEventHandler implements ports.Broker.
func (b *Broker) SetEventHandler(handler ports.BrokerEventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = handler
}

// PlaceOrder implements ports.Broker.
func (b *Broker) PlaceOrder(ctx context.Context, spec ports.OrderSpec) (string, error) {
	op := "PlaceOrder"

	svc := b.client.NewCreateOrderService().
		Symbol(spec.Symbol).
		Side(sideOf(spec.Side)).
		Quantity(formatQty(spec.Quantity)).
		NewClientOrderID(spec.ClientOrderID)

	switch {
	case spec.StopPrice > 0:
		svc = svc.Type(futures.OrderTypeStopMarket).StopPrice(formatQty(spec.StopPrice))
	case spec.LimitPrice > 0:
		svc = svc.Type(futures.OrderTypeLimit).
			Price(formatQty(spec.LimitPrice)).
			TimeInForce(futures.TimeInForceTypeGTC)
	default:
		svc = svc.Type(futures.OrderTypeMarket)
	}
	if spec.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}

	order, err := svc.Do(ctx)
	if err != nil {
		return "", handleError(ctx, b.logger, err, op)
	}

	id := strconv.FormatInt(order.OrderID, 10)
	b.mu.Lock()
	b.tracked[id] = &trackedOrder{orderID: order.OrderID, symbol: spec.Symbol}
	b.mu.Unlock()

	b.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol": spec.Symbol, "side": spec.Side, "quantity": spec.Quantity, "brokerOrderID": id,
	})
	return id, nil
}

// CancelOrder implements ports.Broker. Returns false without error when the
// venue no longer knows the order.
func (b *Broker) CancelOrder(ctx context.Context, brokerOrderID string) (bool, error) {
	op := "CancelOrder"

	b.mu.Lock()
	t, ok := b.tracked[brokerOrderID]
	b.mu.Unlock()
	if !ok {
		return false, nil
	}

	_, err := b.client.NewCancelOrderService().
		Symbol(t.symbol).
		OrderID(t.orderID).
		Do(ctx)
	if err != nil {
		mapped := handleError(ctx, b.logger, err, op)
		if errors.Is(mapped, ports.ErrOrderNotFound) {
			return false, nil
		}
		return false, mapped
	}
	b.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": t.symbol, "brokerOrderID": brokerOrderID})
	return true, nil
}

// QueryOpenOrders implements ports.Broker.
func (b *Broker) QueryOpenOrders(ctx context.Context) ([]string, error) {
	op := "QueryOpenOrders"
	orders, err := b.client.NewListOpenOrdersService().Do(ctx)
	if err != nil {
		return nil, handleError(ctx, b.logger, err, op)
	}
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, strconv.FormatInt(o.OrderID, 10))
	}
	return ids, nil
}

// LiquidateAll implements ports.Broker: every non-zero position is closed with
// a reduce-only market order. Failures are collected so one bad symbol does
// not leave the rest open.
func (b *Broker) LiquidateAll(ctx context.Context) error {
	op := "LiquidateAll"
	positions, err := b.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return handleError(ctx, b.logger, err, op)
	}

	var firstErr error
	for _, pos := range positions {
		qty, _ := strconv.ParseFloat(pos.PositionAmt, 64)
		if qty == 0 {
			continue
		}
		side := futures.SideTypeSell
		if qty < 0 {
			side = futures.SideTypeBuy
			qty = -qty
		}
		_, err := b.client.NewCreateOrderService().
			Symbol(pos.Symbol).
			Side(side).
			Type(futures.OrderTypeMarket).
			Quantity(formatQty(qty)).
			ReduceOnly(true).
			Do(ctx)
		if err != nil {
			mapped := handleError(ctx, b.logger, err, op)
			if firstErr == nil {
				firstErr = mapped
			}
			continue
		}
		b.logger.Info(ctx, op+": position closed", map[string]interface{}{"symbol": pos.Symbol, "quantity": qty})
	}
	return firstErr
}

// StartPolling watches tracked orders for status changes and translates them
// into broker events. Blocks until the context is cancelled.
func (b *Broker) StartPolling(ctx context.Context) {
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.pollOnce(ctx)
		}
	}
}

func (b *Broker) pollOnce(ctx context.Context) {
	op := "pollOrderStatus"

	b.mu.Lock()
	snapshot := make(map[string]*trackedOrder, len(b.tracked))
	for id, t := range b.tracked {
		snapshot[id] = t
	}
	handler := b.handler
	b.mu.Unlock()
	if handler == nil {
		return
	}

	for id, t := range snapshot {
		order, err := b.client.NewGetOrderService().
			Symbol(t.symbol).
			OrderID(t.orderID).
			Do(ctx)
		if err != nil {
			handleError(ctx, b.logger, err, op)
			continue
		}

		executed, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)
		avgPrice, _ := strconv.ParseFloat(order.AvgPrice, 64)

		if delta := executed - t.executed; delta > 0 {
			handler(ports.BrokerEvent{
				Type:          ports.BrokerEventFill,
				BrokerOrderID: id,
				FillQuantity:  delta,
				FillPrice:     avgPrice,
				At:            time.UnixMilli(order.UpdateTime),
			})
			b.mu.Lock()
			t.executed = executed
			b.mu.Unlock()
		}

		switch order.Status {
		case futures.OrderStatusTypeFilled:
			b.untrack(id)
		case futures.OrderStatusTypeCanceled, futures.OrderStatusTypeExpired:
			handler(ports.BrokerEvent{
				Type:          ports.BrokerEventCancel,
				BrokerOrderID: id,
				Reason:        string(order.Status),
				At:            time.UnixMilli(order.UpdateTime),
			})
			b.untrack(id)
		case futures.OrderStatusTypeRejected:
			handler(ports.BrokerEvent{
				Type:          ports.BrokerEventReject,
				BrokerOrderID: id,
				Reason:        string(order.Status),
				At:            time.UnixMilli(order.UpdateTime),
			})
			b.untrack(id)
		}
	}
}

func (b *Broker) untrack(id string) {
	b.mu.Lock()
	delete(b.tracked, id)
	b.mu.Unlock()
}

func sideOf(side domain.OrderSide) futures.SideType {
	if side == domain.Sell {
		return futures.SideTypeSell
	}
	return futures.SideTypeBuy
}

func formatQty(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
