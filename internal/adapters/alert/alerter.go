package alert

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"

	"tradecore/internal/domain"
	"tradecore/internal/ports"
)

// Config holds configuration for the alerter.
type Config struct {
	WebhookURL string        // Optional HTTP endpoint; empty disables delivery
	Timeout    time.Duration // Per-request timeout
}

// Alerter implements ports.Alerter. Every notification is logged; when a
// webhook is configured it is also posted there, fire-and-forget; a delivery
// failure is logged and never surfaces to the caller.
type Alerter struct {
	cfg    Config
	logger ports.Logger
	client *resty.Client
}

// New creates an alerter.
func New(cfg Config, logger ports.Logger) *Alerter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)
	return &Alerter{cfg: cfg, logger: logger, client: client}
}

// Notify implements ports.Alerter.
func (a *Alerter) Notify(ctx context.Context, message string, severity domain.AlertSeverity) {
	fields := map[string]interface{}{"severity": severity}
	switch severity {
	case domain.SeverityCritical:
		a.logger.Error(ctx, nil, "ALERT: "+message, fields)
	case domain.SeverityWarning:
		a.logger.Warn(ctx, "ALERT: "+message, fields)
	default:
		a.logger.Info(ctx, "ALERT: "+message, fields)
	}

	if a.cfg.WebhookURL == "" {
		return
	}
	go func() {
		_, err := a.client.R().
			SetHeader("Content-Type", "application/json").
			SetBody(map[string]interface{}{
				"message":  message,
				"severity": severity,
				"sentAt":   time.Now().UTC().Format(time.RFC3339),
			}).
			Post(a.cfg.WebhookURL)
		if err != nil {
			a.logger.Warn(context.Background(), "Alert webhook delivery failed", map[string]interface{}{
				"err": err.Error(),
			})
		}
	}()
}
