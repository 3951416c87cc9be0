package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/domain"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func newTestStore(t *testing.T) *EventStore {
	t.Helper()
	store, err := NewEventStore(Config{
		DBPath: filepath.Join(t.TempDir(), "journal.db"),
		Logger: &mockLogger{},
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func at(sec int) time.Time {
	return time.Date(2025, 6, 1, 12, 0, sec, 0, time.UTC)
}

func TestReplayEmptyJournal(t *testing.T) {
	store := newTestStore(t)
	replayed, err := store.ReplayOrders(context.Background())
	require.NoError(t, err)
	assert.Empty(t, replayed)
}

func TestReplayFoldsLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	events := []domain.OrderEvent{
		{Type: domain.EventOrderCreated, OrderID: "ord-1", Symbol: "ETHUSDT", Side: domain.Buy,
			Kind: domain.KindBracket, StrategyID: "strat-1", Quantity: 2, Price: 3000,
			StopLoss: 2950, TakeProfit: 3100, At: at(0)},
		{Type: domain.EventOrderAccepted, OrderID: "ord-1", Symbol: "ETHUSDT", BrokerOrderID: "B-1", At: at(1)},
		{Type: domain.EventOrderFilled, OrderID: "ord-1", Symbol: "ETHUSDT", Side: domain.Buy,
			FillQuantity: 2, FillPrice: 3000, At: at(2)},
		{Type: domain.EventOrderCreated, OrderID: "ord-2", ParentID: "ord-1", Symbol: "ETHUSDT",
			Side: domain.Sell, Kind: domain.KindLimit, Role: domain.RoleTakeProfit,
			StrategyID: "strat-1", Quantity: 2, Price: 3100, At: at(3)},
		{Type: domain.EventOrderCreated, OrderID: "ord-3", ParentID: "ord-1", Symbol: "ETHUSDT",
			Side: domain.Sell, Kind: domain.KindMarket, Role: domain.RoleStopLoss,
			StrategyID: "strat-1", Quantity: 2, StopPrice: 2950, At: at(4)},
		{Type: domain.EventOrderFilled, OrderID: "ord-2", Symbol: "ETHUSDT", Side: domain.Sell,
			FillQuantity: 2, FillPrice: 3100, At: at(5)},
		{Type: domain.EventOrderCancelled, OrderID: "ord-3", Symbol: "ETHUSDT", At: at(6)},
	}
	for _, e := range events {
		require.NoError(t, store.AppendOrderEvent(ctx, e))
	}

	replayed, err := store.ReplayOrders(ctx)
	require.NoError(t, err)
	require.Len(t, replayed, 3)

	// Creation order is preserved.
	parent, tp, sl := replayed[0], replayed[1], replayed[2]
	assert.Equal(t, "ord-1", parent.ID)
	assert.Equal(t, domain.StatusFilled, parent.Status)
	assert.Equal(t, 2.0, parent.FilledQuantity)
	assert.Equal(t, 3000.0, parent.AvgFillPrice)
	assert.Equal(t, "B-1", parent.BrokerOrderID)
	assert.Equal(t, []string{"ord-2", "ord-3"}, parent.ChildIDs, "composite linkage is rebuilt from parent IDs")

	assert.Equal(t, domain.StatusFilled, tp.Status)
	assert.Equal(t, domain.RoleTakeProfit, tp.Role)
	assert.Equal(t, "ord-1", tp.ParentID)

	assert.Equal(t, domain.StatusCancelled, sl.Status)
	assert.Equal(t, 2950.0, sl.StopPrice)
}

func TestReplaySurvivesRejectedOrders(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AppendOrderEvent(ctx, domain.OrderEvent{
		Type: domain.EventOrderCreated, OrderID: "ord-1", Symbol: "ETHUSDT",
		Side: domain.Buy, Kind: domain.KindMarket, Quantity: 1, At: at(0),
	}))
	require.NoError(t, store.AppendOrderEvent(ctx, domain.OrderEvent{
		Type: domain.EventOrderRejected, OrderID: "ord-1", Symbol: "ETHUSDT",
		Reason: "insufficient margin", At: at(1),
	}))

	replayed, err := store.ReplayOrders(ctx)
	require.NoError(t, err)
	require.Len(t, replayed, 1)
	assert.Equal(t, domain.StatusRejected, replayed[0].Status)
	assert.Equal(t, "insufficient margin", replayed[0].Reason)
}

func TestAppendRiskDecision(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AppendRiskDecision(ctx, domain.RiskDecision{
		SignalID: "sig-1", StrategyID: "strat-1", Symbol: "ETHUSDT",
		Allowed: false, Reason: "order value 15000.00 exceeds maximum allowed 10000.00", At: at(0),
	}))
	require.NoError(t, store.AppendRiskDecision(ctx, domain.RiskDecision{
		SignalID: "sig-2", StrategyID: "strat-1", Symbol: "ETHUSDT", Allowed: true, At: at(1),
	}))

	var count int
	require.NoError(t, store.db.QueryRow("SELECT COUNT(*) FROM risk_decisions").Scan(&count))
	assert.Equal(t, 2, count)
}

func TestStoreIsReopenable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "journal.db")

	store, err := NewEventStore(Config{DBPath: path, Logger: &mockLogger{}})
	require.NoError(t, err)
	require.NoError(t, store.AppendOrderEvent(context.Background(), domain.OrderEvent{
		Type: domain.EventOrderCreated, OrderID: "ord-1", Symbol: "ETHUSDT",
		Side: domain.Buy, Kind: domain.KindMarket, Quantity: 1, At: at(0),
	}))
	require.NoError(t, store.Close())

	// A restart reads the same journal.
	reopened, err := NewEventStore(Config{DBPath: path, Logger: &mockLogger{}})
	require.NoError(t, err)
	defer reopened.Close()

	replayed, err := reopened.ReplayOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, replayed, 1)
	assert.Equal(t, "ord-1", replayed[0].ID)
}
