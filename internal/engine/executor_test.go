package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/domain"
	"tradecore/internal/orders"
	"tradecore/internal/ports"
	"tradecore/internal/risk"
)

// Mock implementations

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type mockBroker struct {
	mu     sync.Mutex
	seq    int
	placed []ports.OrderSpec
}

func (m *mockBroker) PlaceOrder(ctx context.Context, spec ports.OrderSpec) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.placed = append(m.placed, spec)
	m.seq++
	return fmt.Sprintf("B-%d", m.seq), nil
}

func (m *mockBroker) CancelOrder(ctx context.Context, brokerOrderID string) (bool, error) {
	return true, nil
}

func (m *mockBroker) QueryOpenOrders(ctx context.Context) ([]string, error) { return nil, nil }
func (m *mockBroker) LiquidateAll(ctx context.Context) error                { return nil }
func (m *mockBroker) SetEventHandler(handler ports.BrokerEventHandler)      {}

func (m *mockBroker) placeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.placed)
}

type mockStore struct {
	mu        sync.Mutex
	decisions []domain.RiskDecision
}

func (m *mockStore) AppendOrderEvent(ctx context.Context, e domain.OrderEvent) error { return nil }

func (m *mockStore) AppendRiskDecision(ctx context.Context, d domain.RiskDecision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions = append(m.decisions, d)
	return nil
}

func (m *mockStore) ReplayOrders(ctx context.Context) ([]*domain.Order, error) { return nil, nil }

func (m *mockStore) decisionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.decisions)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func setup(t *testing.T, riskCfg risk.Config) (*Executor, *mockBroker, *mockStore, *orders.Manager) {
	t.Helper()
	broker := &mockBroker{}
	store := &mockStore{}
	log := &mockLogger{}
	manager, err := orders.NewManager(orders.Config{}, broker, store, log)
	require.NoError(t, err)
	if riskCfg.InitialEquity == 0 {
		riskCfg.InitialEquity = 10000
	}
	breaker := risk.NewBreaker(risk.BreakerConfig{})
	gate, err := risk.NewGate(riskCfg, breaker, manager, func() bool { return false }, nil, log)
	require.NoError(t, err)
	e, err := New(Config{}, gate, manager, store, log)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e, broker, store, manager
}

func sig(id, symbol string, action domain.SignalAction, qty, price float64) domain.Signal {
	return domain.Signal{
		ID:         id,
		StrategyID: "strat-1",
		Symbol:     symbol,
		Action:     action,
		Quantity:   qty,
		Price:      price,
	}
}

func TestApprovedSignalIsPlaced(t *testing.T) {
	e, broker, store, _ := setup(t, risk.Config{MaxOrderValue: 10000})

	e.Submit(context.Background(), sig("sig-1", "ETHUSDT", domain.ActionBuy, 1, 3000))

	waitFor(t, func() bool { return broker.placeCount() == 1 })
	assert.Equal(t, 1, store.decisionCount())
}

func TestHoldSignalsNeverReachTheGate(t *testing.T) {
	e, broker, store, _ := setup(t, risk.Config{})

	e.Submit(context.Background(), sig("sig-1", "ETHUSDT", domain.ActionHold, 0, 0))
	time.Sleep(20 * time.Millisecond)

	assert.Zero(t, broker.placeCount())
	assert.Zero(t, store.decisionCount(), "HOLD is filtered before validation and never journaled")
}

func TestRejectedSignalIsJournaledNotPlaced(t *testing.T) {
	e, broker, store, _ := setup(t, risk.Config{MaxOrderValue: 1000})

	// 1 * 3000 notional against a 1000 cap.
	e.Submit(context.Background(), sig("sig-1", "ETHUSDT", domain.ActionBuy, 1, 3000))

	waitFor(t, func() bool { return store.decisionCount() == 1 })
	store.mu.Lock()
	decision := store.decisions[0]
	store.mu.Unlock()
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "order value")
	assert.Zero(t, broker.placeCount())
}

func TestSecondIntentSeesFirstIntentsPosition(t *testing.T) {
	// Position cap 10000, each order projects 6000: either order passes alone,
	// but once the first fill lands the second must be rejected.
	e, broker, store, manager := setup(t, risk.Config{MaxPositionValue: 10000, MaxOrderValue: 100000})

	e.Submit(context.Background(), sig("sig-1", "ETHUSDT", domain.ActionBuy, 2, 3000))
	waitFor(t, func() bool { return broker.placeCount() == 1 })

	open := manager.OpenOrders()
	require.Len(t, open, 1)
	manager.OnBrokerEvent(context.Background(), ports.BrokerEvent{
		Type: ports.BrokerEventFill, BrokerOrderID: open[0].BrokerOrderID, FillQuantity: 2, FillPrice: 3000,
	})

	e.Submit(context.Background(), sig("sig-2", "ETHUSDT", domain.ActionBuy, 2, 3000))
	waitFor(t, func() bool { return store.decisionCount() == 2 })

	store.mu.Lock()
	second := store.decisions[1]
	store.mu.Unlock()
	assert.False(t, second.Allowed)
	assert.Contains(t, second.Reason, "projected position")
	assert.Equal(t, 1, broker.placeCount())
}

func TestTerminalFillsRoutedBackToStrategy(t *testing.T) {
	e, broker, _, manager := setup(t, risk.Config{MaxOrderValue: 10000})

	var mu sync.Mutex
	var delivered []*domain.Order
	e.SetFillRouter(fillRouterFunc(func(strategyID string, order *domain.Order) {
		mu.Lock()
		defer mu.Unlock()
		delivered = append(delivered, order)
	}))

	e.Submit(context.Background(), sig("sig-1", "ETHUSDT", domain.ActionBuy, 1, 3000))
	waitFor(t, func() bool { return broker.placeCount() == 1 })

	open := manager.OpenOrders()
	require.Len(t, open, 1)
	manager.OnBrokerEvent(context.Background(), ports.BrokerEvent{
		Type: ports.BrokerEventFill, BrokerOrderID: open[0].BrokerOrderID, FillQuantity: 1, FillPrice: 3000,
	})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(delivered) == 1
	})
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, domain.StatusFilled, delivered[0].Status)
}

type fillRouterFunc func(strategyID string, order *domain.Order)

func (f fillRouterFunc) DeliverFill(strategyID string, order *domain.Order) { f(strategyID, order) }

func TestSubmitRacingCloseIsSafe(t *testing.T) {
	e, _, _, _ := setup(t, risk.Config{MaxOrderValue: 100000})

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; ; j++ {
				select {
				case <-stop:
					return
				default:
					e.Submit(context.Background(), sig(fmt.Sprintf("sig-%d-%d", n, j), "ETHUSDT", domain.ActionBuy, 1, 3000))
				}
			}
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	e.Close()
	close(stop)
	wg.Wait()

	// A submission landing after shutdown must not resurrect a lane or its
	// worker goroutine.
	e.Submit(context.Background(), sig("sig-late", "ETHUSDT", domain.ActionBuy, 1, 3000))
	e.mu.Lock()
	defer e.mu.Unlock()
	assert.Empty(t, e.lanes, "no lane is re-created after close")
}

func TestDifferentSymbolsUseSeparateLanes(t *testing.T) {
	e, broker, _, _ := setup(t, risk.Config{MaxOrderValue: 100000})

	e.Submit(context.Background(), sig("sig-1", "ETHUSDT", domain.ActionBuy, 1, 3000))
	e.Submit(context.Background(), sig("sig-2", "BTCUSDT", domain.ActionBuy, 0.1, 60000))

	waitFor(t, func() bool { return broker.placeCount() == 2 })
}
