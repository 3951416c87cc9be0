package binance

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"tradecore/internal/domain"
	"tradecore/internal/ports"
)

// TickStream implements ports.TickStream on the Binance futures aggregated
// trade websocket, normalizing each trade into a domain.Tick and reconnecting
// with exponential backoff when the connection drops.
type TickStream struct {
	logger               ports.Logger
	reconnectDelay       time.Duration
	maxReconnectAttempts int

	// serve opens the combined agg-trade stream; swappable in tests.
	serve func(symbols []string, handler futures.WsAggTradeHandler, errHandler futures.ErrHandler) (doneCh, stopCh chan struct{}, err error)
}

// StreamConfig holds configuration for the market data stream.
type StreamConfig struct {
	Logger               ports.Logger
	ReconnectDelay       time.Duration // Initial backoff (e.g., 1 * time.Second)
	MaxReconnectAttempts int           // Attempts before giving up
}

// NewTickStream creates a websocket tick stream adapter.
func NewTickStream(cfg StreamConfig) (*TickStream, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for tick stream")
	}
	reconnectDelay := cfg.ReconnectDelay
	if reconnectDelay <= 0 {
		reconnectDelay = 1 * time.Second
	}
	maxAttempts := cfg.MaxReconnectAttempts
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	return &TickStream{
		logger:               cfg.Logger,
		reconnectDelay:       reconnectDelay,
		maxReconnectAttempts: maxAttempts,
		serve:                futures.WsCombinedAggTradeServe,
	}, nil
}

// Stream implements ports.TickStream. Blocks until the context is cancelled or
// reconnection attempts are exhausted.
func (s *TickStream) Stream(ctx context.Context, symbols []string, handler ports.TickHandler, errHandler func(err error)) error {
	op := "StreamTicks"
	if len(symbols) == 0 {
		return fmt.Errorf("%w: at least one symbol is required", ports.ErrInvalidRequest)
	}

	wsHandler := func(event *futures.WsAggTradeEvent) {
		if event == nil {
			return
		}
		price, err := strconv.ParseFloat(event.Price, 64)
		if err != nil {
			s.logger.Error(ctx, err, op+": failed to parse trade price", map[string]interface{}{
				"symbol": event.Symbol, "price": event.Price,
			})
			return
		}
		handler(domain.Tick{
			Symbol:    event.Symbol,
			Price:     price,
			Timestamp: time.UnixMilli(event.TradeTime),
		})
	}

	wsErrHandler := func(err error) {
		translated := handleError(ctx, s.logger, err, op+" WebSocket")
		if errHandler != nil {
			errHandler(translated)
		}
	}

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, op+": context cancelled, stopping", map[string]interface{}{"symbols": symbols})
			return ctx.Err()
		default:
		}

		s.logger.Info(ctx, op+": connecting", map[string]interface{}{"symbols": symbols, "attempt": attempt + 1})
		doneCh, stopCh, connectErr := s.serve(symbols, wsHandler, wsErrHandler)
		if connectErr != nil {
			handleError(ctx, s.logger, connectErr, op+" connection attempt")
			attempt++
			if attempt >= s.maxReconnectAttempts {
				return fmt.Errorf("%s: %w: max reconnection attempts (%d) exceeded", op, ports.ErrConnectionFailed, s.maxReconnectAttempts)
			}
			delay := s.reconnectDelay * time.Duration(1<<uint(attempt-1))
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		s.logger.Info(ctx, op+": connected", map[string]interface{}{"symbols": symbols})
		attempt = 0

		select {
		case <-doneCh:
			s.logger.Warn(ctx, op+": connection closed unexpectedly, reconnecting", map[string]interface{}{"symbols": symbols})
		case <-ctx.Done():
			// The stop signal must actually reach the connection goroutine;
			// a dropped send would leave the socket open. The only way the
			// send cannot complete is the connection dying on its own, which
			// closes doneCh.
			select {
			case stopCh <- struct{}{}:
			case <-doneCh:
			}
			<-doneCh
			return ctx.Err()
		}
	}
}
