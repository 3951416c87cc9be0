package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"tradecore/internal/domain"
	"tradecore/internal/ports"
)

// EventStore implements ports.EventStore on SQLite: an append-only journal of
// order state transitions and risk-gate decisions. The journal is the
// recovery source for composite parent/child linkage after a restart.
type EventStore struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite event store.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewEventStore opens (and if needed initializes) the journal database.
func NewEventStore(cfg Config) (*EventStore, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite event store")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/tradecore.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite event store initialization failed")
		return nil, err
	}

	// WAL mode for better concurrency between the append path and replay.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite event store initialization failed")
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w: %v", dbPath, ports.ErrDBConnection, err)
		cfg.Logger.Error(context.Background(), err, "SQLite event store initialization failed")
		return nil, err
	}

	// SQLite handles concurrency internally; the Go driver benefits from a
	// single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	store := &EventStore{db: db, logger: cfg.Logger}
	if err := store.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize journal schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite event store initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "SQLite event journal ready", map[string]interface{}{"path": dbPath})
	return store, nil
}

func (s *EventStore) initializeSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS order_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		order_id TEXT NOT NULL,
		parent_id TEXT NOT NULL DEFAULT '',
		symbol TEXT NOT NULL DEFAULT '',
		side TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT '',
		strategy_id TEXT NOT NULL DEFAULT '',
		broker_order_id TEXT NOT NULL DEFAULT '',
		quantity REAL NOT NULL DEFAULT 0,
		price REAL NOT NULL DEFAULT 0,
		stop_price REAL NOT NULL DEFAULT 0,
		take_profit REAL NOT NULL DEFAULT 0,
		stop_loss REAL NOT NULL DEFAULT 0,
		fill_quantity REAL NOT NULL DEFAULT 0,
		fill_price REAL NOT NULL DEFAULT 0,
		reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_order_events_order_id ON order_events(order_id);

	CREATE TABLE IF NOT EXISTS risk_decisions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		signal_id TEXT NOT NULL DEFAULT '',
		strategy_id TEXT NOT NULL DEFAULT '',
		symbol TEXT NOT NULL DEFAULT '',
		allowed INTEGER NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("schema creation failed: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *EventStore) Close() error {
	return s.db.Close()
}

// AppendOrderEvent implements ports.EventStore.
func (s *EventStore) AppendOrderEvent(ctx context.Context, e domain.OrderEvent) error {
	query := `INSERT INTO order_events (
		event_type, order_id, parent_id, symbol, side, kind, role, strategy_id,
		broker_order_id, quantity, price, stop_price, take_profit, stop_loss,
		fill_quantity, fill_price, reason, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		e.Type, e.OrderID, e.ParentID, e.Symbol, e.Side, e.Kind, e.Role, e.StrategyID,
		e.BrokerOrderID, e.Quantity, e.Price, e.StopPrice, e.TakeProfit, e.StopLoss,
		e.FillQuantity, e.FillPrice, e.Reason, e.At.UTC(),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ports.ErrAppendFailed, err)
	}
	return nil
}

// AppendRiskDecision implements ports.EventStore.
func (s *EventStore) AppendRiskDecision(ctx context.Context, d domain.RiskDecision) error {
	query := `INSERT INTO risk_decisions (signal_id, strategy_id, symbol, allowed, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	allowed := 0
	if d.Allowed {
		allowed = 1
	}
	_, err := s.db.ExecContext(ctx, query, d.SignalID, d.StrategyID, d.Symbol, allowed, d.Reason, d.At.UTC())
	if err != nil {
		return fmt.Errorf("%w: %v", ports.ErrAppendFailed, err)
	}
	return nil
}

// ReplayOrders implements ports.EventStore: folds the journal back into the
// last known state of every order, preserving creation order and composite
// parent/child linkage.
func (s *EventStore) ReplayOrders(ctx context.Context) ([]*domain.Order, error) {
	query := `SELECT event_type, order_id, parent_id, symbol, side, kind, role, strategy_id,
		broker_order_id, quantity, price, stop_price, take_profit, stop_loss,
		fill_quantity, fill_price, reason, created_at
		FROM order_events ORDER BY id ASC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ports.ErrReplayFailed, err)
	}
	defer rows.Close()

	byID := make(map[string]*domain.Order)
	var order []string

	for rows.Next() {
		var e domain.OrderEvent
		var at time.Time
		if err := rows.Scan(
			&e.Type, &e.OrderID, &e.ParentID, &e.Symbol, &e.Side, &e.Kind, &e.Role, &e.StrategyID,
			&e.BrokerOrderID, &e.Quantity, &e.Price, &e.StopPrice, &e.TakeProfit, &e.StopLoss,
			&e.FillQuantity, &e.FillPrice, &e.Reason, &at,
		); err != nil {
			return nil, fmt.Errorf("%w: %v", ports.ErrReplayFailed, err)
		}
		e.At = at
		s.fold(byID, &order, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ports.ErrReplayFailed, err)
	}

	result := make([]*domain.Order, 0, len(order))
	for _, id := range order {
		result = append(result, byID[id])
	}
	return result, nil
}

func (s *EventStore) fold(byID map[string]*domain.Order, order *[]string, e domain.OrderEvent) {
	switch e.Type {
	case domain.EventOrderCreated:
		o := &domain.Order{
			ID:                e.OrderID,
			ParentID:          e.ParentID,
			Symbol:            e.Symbol,
			Side:              e.Side,
			Kind:              e.Kind,
			Role:              e.Role,
			StrategyID:        e.StrategyID,
			Quantity:          e.Quantity,
			Price:             e.Price,
			StopPrice:         e.StopPrice,
			TakeProfit:        e.TakeProfit,
			StopLoss:          e.StopLoss,
			Status:            domain.StatusPending,
			RemainingQuantity: e.Quantity,
			CreatedAt:         e.At,
			UpdatedAt:         e.At,
		}
		byID[o.ID] = o
		*order = append(*order, o.ID)
		if e.ParentID != "" {
			if parent, ok := byID[e.ParentID]; ok {
				parent.ChildIDs = append(parent.ChildIDs, o.ID)
			}
		}
	case domain.EventOrderAccepted:
		if o, ok := byID[e.OrderID]; ok {
			o.BrokerOrderID = e.BrokerOrderID
			o.UpdatedAt = e.At
		}
	case domain.EventOrderFilled:
		if o, ok := byID[e.OrderID]; ok {
			if err := o.ApplyFill(e.FillQuantity, e.FillPrice, e.At); err != nil {
				s.logger.Warn(context.Background(), "Journal replay: fill skipped", map[string]interface{}{
					"orderID": e.OrderID, "err": err.Error(),
				})
			}
		}
	case domain.EventOrderCancelled:
		if o, ok := byID[e.OrderID]; ok {
			_ = o.MarkCancelled(e.At)
		}
	case domain.EventOrderRejected:
		if o, ok := byID[e.OrderID]; ok {
			_ = o.MarkRejected(e.Reason, e.At)
		}
	}
}
