package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Broker modes.
const (
	BrokerModeSim     = "sim"
	BrokerModeBinance = "binance"
)

// Config holds all application configuration.
type Config struct {
	// Broker
	BrokerMode         string // "sim" or "binance"
	APIKey             string
	SecretKey          string
	IsTestnet          bool
	BrokerPollInterval time.Duration // Order status polling cadence (binance mode)

	// Market data
	Symbols              []string
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int

	// Risk limits
	MaxDrawdownPercent   float64 // e.g., 10.0 for 10% from peak equity
	MaxPositionValue     float64 // Notional cap per symbol
	MaxDailyLoss         float64 // Absolute loss from the daily baseline
	MaxOrderValue        float64 // Notional cap per order
	StopLossPercent      float64 // Default protective stop distance
	EmergencyStopEnabled bool
	InitialEquity        float64
	OrderRatePerSecond   float64 // Per-symbol order submission rate
	OrderRateBurst       int

	// Circuit breaker
	BreakerFailureThreshold int
	BreakerFailureWindow    time.Duration
	BreakerCooldown         time.Duration

	// Dispatch and execution
	DispatchQueueSize      int
	PollInterval           time.Duration // Pull-model strategy polling cadence
	PlaceTimeout           time.Duration
	PortfolioCheckInterval time.Duration
	ReconcileInterval      time.Duration

	// Momentum strategy
	MomentumEnabled           bool
	MomentumFastPeriod        int
	MomentumSlowPeriod        int
	MomentumQuantity          float64
	MomentumTakeProfitPercent float64

	// Mean-reversion strategy
	MeanRevEnabled     bool
	MeanRevRSIPeriod   int
	MeanRevOverbought  float64
	MeanRevOversold    float64
	MeanRevQuantity    float64
	MeanRevMinInterval time.Duration

	// Database
	DBPath string

	// Alerting
	AlertWebhookURL string

	// Logging
	LogLevel   string
	LogFile    string
	LogMaxSize int // MB before rotation
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Broker
	cfg.BrokerMode = strings.ToLower(getEnv("BROKER_MODE", BrokerModeSim))
	if cfg.BrokerMode != BrokerModeSim && cfg.BrokerMode != BrokerModeBinance {
		errs = append(errs, fmt.Sprintf("BROKER_MODE must be '%s' or '%s'", BrokerModeSim, BrokerModeBinance))
	}
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety
	if cfg.BrokerMode == BrokerModeBinance {
		if cfg.APIKey == "" {
			errs = append(errs, "BINANCE_API_KEY must be set in binance mode")
		}
		if cfg.SecretKey == "" {
			errs = append(errs, "BINANCE_API_SECRET must be set in binance mode")
		}
	}
	cfg.BrokerPollInterval = time.Duration(getEnvAsInt("BROKER_POLL_INTERVAL_MS", 2000)) * time.Millisecond

	// Market data
	symbolsStr := getEnv("SYMBOLS", "ETHUSDT")
	for _, s := range strings.Split(symbolsStr, ",") {
		if s = strings.TrimSpace(s); s != "" {
			cfg.Symbols = append(cfg.Symbols, s)
		}
	}
	if len(cfg.Symbols) == 0 {
		errs = append(errs, "SYMBOLS must name at least one trading symbol")
	}

	reconnectDelaySeconds := getEnvAsInt("RECONNECT_DELAY_SECONDS", 1)
	if reconnectDelaySeconds <= 0 {
		errs = append(errs, "RECONNECT_DELAY_SECONDS must be positive")
	}
	cfg.ReconnectDelay = time.Duration(reconnectDelaySeconds) * time.Second
	cfg.MaxReconnectAttempts = getEnvAsInt("MAX_RECONNECT_ATTEMPTS", 10)
	if cfg.MaxReconnectAttempts < 0 {
		errs = append(errs, "MAX_RECONNECT_ATTEMPTS cannot be negative")
	}

	// Risk limits
	cfg.MaxDrawdownPercent, err = getEnvAsFloatRequired("MAX_DRAWDOWN_PERCENT", 10.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_DRAWDOWN_PERCENT: %v", err))
	} else if cfg.MaxDrawdownPercent <= 0 || cfg.MaxDrawdownPercent >= 100.0 {
		errs = append(errs, "MAX_DRAWDOWN_PERCENT must be between 0 and 100 (exclusive)")
	}

	cfg.MaxPositionValue, err = getEnvAsFloatRequired("MAX_POSITION_VALUE", 10000.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_POSITION_VALUE: %v", err))
	} else if cfg.MaxPositionValue <= 0 {
		errs = append(errs, "MAX_POSITION_VALUE must be positive")
	}

	cfg.MaxDailyLoss, err = getEnvAsFloatRequired("MAX_DAILY_LOSS", 500.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_DAILY_LOSS: %v", err))
	} else if cfg.MaxDailyLoss <= 0 {
		errs = append(errs, "MAX_DAILY_LOSS must be positive")
	}

	cfg.MaxOrderValue, err = getEnvAsFloatRequired("MAX_ORDER_VALUE", 2000.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_ORDER_VALUE: %v", err))
	} else if cfg.MaxOrderValue <= 0 {
		errs = append(errs, "MAX_ORDER_VALUE must be positive")
	}

	cfg.StopLossPercent, err = getEnvAsFloatRequired("STOP_LOSS_PERCENT", 0.005)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid STOP_LOSS_PERCENT: %v", err))
	} else if cfg.StopLossPercent <= 0 || cfg.StopLossPercent >= 1.0 {
		errs = append(errs, "STOP_LOSS_PERCENT must be between 0.0 and 1.0 (exclusive)")
	}

	cfg.EmergencyStopEnabled = getEnvAsBool("EMERGENCY_STOP", false)

	cfg.InitialEquity, err = getEnvAsFloatRequired("INITIAL_EQUITY", 10000.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid INITIAL_EQUITY: %v", err))
	} else if cfg.InitialEquity <= 0 {
		errs = append(errs, "INITIAL_EQUITY must be positive")
	}

	cfg.OrderRatePerSecond = getEnvAsFloat("ORDER_RATE_PER_SECOND", 2.0)
	if cfg.OrderRatePerSecond <= 0 {
		errs = append(errs, "ORDER_RATE_PER_SECOND must be positive")
	}
	cfg.OrderRateBurst = getEnvAsInt("ORDER_RATE_BURST", 4)
	if cfg.OrderRateBurst <= 0 {
		errs = append(errs, "ORDER_RATE_BURST must be positive")
	}

	// Circuit breaker
	cfg.BreakerFailureThreshold = getEnvAsInt("BREAKER_FAILURE_THRESHOLD", 5)
	if cfg.BreakerFailureThreshold <= 0 {
		errs = append(errs, "BREAKER_FAILURE_THRESHOLD must be positive")
	}
	cfg.BreakerFailureWindow = time.Duration(getEnvAsInt("BREAKER_FAILURE_WINDOW_SECONDS", 60)) * time.Second
	cfg.BreakerCooldown = time.Duration(getEnvAsInt("BREAKER_COOLDOWN_SECONDS", 300)) * time.Second

	// Dispatch and execution
	cfg.DispatchQueueSize = getEnvAsInt("DISPATCH_QUEUE_SIZE", 256)
	if cfg.DispatchQueueSize <= 0 {
		errs = append(errs, "DISPATCH_QUEUE_SIZE must be positive")
	}
	cfg.PollInterval = time.Duration(getEnvAsInt("POLL_INTERVAL_SECONDS", 5)) * time.Second
	cfg.PlaceTimeout = time.Duration(getEnvAsInt("PLACE_TIMEOUT_MS", 5000)) * time.Millisecond
	cfg.PortfolioCheckInterval = time.Duration(getEnvAsInt("PORTFOLIO_CHECK_INTERVAL_SECONDS", 10)) * time.Second
	cfg.ReconcileInterval = time.Duration(getEnvAsInt("RECONCILE_INTERVAL_SECONDS", 60)) * time.Second

	// Momentum strategy
	cfg.MomentumEnabled = getEnvAsBool("MOMENTUM_ENABLED", true)
	cfg.MomentumFastPeriod = getEnvAsInt("MOMENTUM_FAST_PERIOD", 8)
	cfg.MomentumSlowPeriod = getEnvAsInt("MOMENTUM_SLOW_PERIOD", 21)
	cfg.MomentumQuantity = getEnvAsFloat("MOMENTUM_QUANTITY", 0.1)
	cfg.MomentumTakeProfitPercent = getEnvAsFloat("MOMENTUM_TAKE_PROFIT_PERCENT", 0.01)
	if cfg.MomentumEnabled {
		if cfg.MomentumFastPeriod <= 0 || cfg.MomentumSlowPeriod <= 0 {
			errs = append(errs, "momentum periods must be positive")
		}
		if cfg.MomentumFastPeriod >= cfg.MomentumSlowPeriod {
			errs = append(errs, "MOMENTUM_FAST_PERIOD must be less than MOMENTUM_SLOW_PERIOD")
		}
		if cfg.MomentumQuantity <= 0 {
			errs = append(errs, "MOMENTUM_QUANTITY must be positive")
		}
	}

	// Mean-reversion strategy
	cfg.MeanRevEnabled = getEnvAsBool("MEANREV_ENABLED", false)
	cfg.MeanRevRSIPeriod = getEnvAsInt("MEANREV_RSI_PERIOD", 14)
	cfg.MeanRevOverbought = getEnvAsFloat("MEANREV_RSI_OVERBOUGHT", 70.0)
	cfg.MeanRevOversold = getEnvAsFloat("MEANREV_RSI_OVERSOLD", 30.0)
	cfg.MeanRevQuantity = getEnvAsFloat("MEANREV_QUANTITY", 0.1)
	cfg.MeanRevMinInterval = time.Duration(getEnvAsInt("MEANREV_MIN_INTERVAL_SECONDS", 30)) * time.Second
	if cfg.MeanRevEnabled {
		if cfg.MeanRevRSIPeriod <= 0 {
			errs = append(errs, "MEANREV_RSI_PERIOD must be positive")
		}
		if cfg.MeanRevOverbought <= cfg.MeanRevOversold || cfg.MeanRevOverbought > 100 || cfg.MeanRevOversold < 0 {
			errs = append(errs, "invalid RSI thresholds (Overbought must be > Oversold, between 0-100)")
		}
		if cfg.MeanRevQuantity <= 0 {
			errs = append(errs, "MEANREV_QUANTITY must be positive")
		}
	}

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/tradecore.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Alerting
	cfg.AlertWebhookURL = getEnv("ALERT_WEBHOOK_URL", "")

	// Logging
	cfg.LogLevel = getEnv("LOG_LEVEL", "INFO")
	cfg.LogFile = getEnv("LOG_FILE", "")
	cfg.LogMaxSize = getEnvAsInt("LOG_MAX_SIZE_MB", 50)

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
