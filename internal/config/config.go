// Package config provides configuration management functionality.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// ErrInvalid marks configuration validation failures. The process must
// refuse to start (exit code 2) when Load returns an error wrapping it.
var ErrInvalid = errors.New("invalid configuration")

// Strategy modes.
const (
	ModeStandard = "standard"
	ModeAdvanced = "advanced"
	ModeQuantum  = "quantum"
)

// System modes.
const (
	SystemSignalOnly  = "signal_only"
	SystemFullTrading = "full_trading"
)

// Broker environments.
const (
	EnvLive    = "live"
	EnvSandbox = "sandbox"
)

// Config holds application configuration
type Config struct {
	StrategyMode string // standard, advanced, quantum
	SystemMode   string // signal_only, full_trading
	BrokerEnv    string // live, sandbox

	DataDir  string
	Port     int
	LogLevel string
	DevMode  bool

	ForceAfterHours bool // allow entries outside the regular session
	CloseOnShutdown bool
	SnapshotRestore bool

	Sizing   SizingConfig
	Limits   LimitsConfig
	Trailing TrailingConfig
	Data     DataConfig
	Broker   BrokerConfig
	Alerts   AlertsConfig
	Backup   BackupConfig
}

// SizingConfig drives the position sizing formula.
type SizingConfig struct {
	BasePositionPct     float64
	MaxPositionPct      float64
	MinPositionValueUSD float64
	TradingCashPct      float64
	CashReservePct      float64

	UltraHighConfThreshold float64
	UltraHighConfMult      float64
	HighConfThreshold      float64
	HighConfMult           float64
	MediumConfThreshold    float64
	MediumConfMult         float64

	AgreementMediumBonus float64
	AgreementHighBonus   float64
	AgreementMaxBonus    float64

	WinStreakMult    float64
	FractionalShares bool
}

// LimitsConfig holds the hard risk limits.
type LimitsConfig struct {
	MaxPositions        int
	MaxDailyLossPct     float64
	MaxDrawdownPct      float64
	MinSignalConfidence float64
	PositionCooldownMin int
	MaxHoldMinutes      int
}

// TrailingConfig holds the stealth trailing stop parameters.
type TrailingConfig struct {
	BreakevenActivationPct float64
	BreakevenOffsetPct     float64
	TrailingActivationPct  float64
	TrailingDistancePct    float64
	StopLossPct            float64
	TakeProfitPct          float64
}

// DataConfig holds quote access and cadence settings.
type DataConfig struct {
	QuoteBatchSize      int
	DailyAPIBudget      int
	QuoteTTLSec         int
	IdleTTLSec          int
	WorkingSetSize      int
	WatchlistMaxSymbols int
	MinDollarVolumeUSD  float64
	ScanIntervalSec     int
	MonitorIntervalSec  int
	RefreshIntervalSec  int
}

// BrokerConfig holds broker endpoints and credentials.
// Consumer secrets come from the environment only, never from disk.
type BrokerConfig struct {
	ConsumerKey           string
	ConsumerSecret        string
	SandboxConsumerKey    string
	SandboxConsumerSecret string
	AccountIDKey          string // optional, first listed account when empty
	TokenFeedURL          string // websocket feed pushing refreshed tokens
	WatchlistBuilderURL   string // external watchlist builder service
}

// AlertsConfig holds operator notification settings.
type AlertsConfig struct {
	TelegramBotToken string
	TelegramChatID   string
	PerMinute        int
}

// BackupConfig holds the optional S3 data directory backup settings.
// Credentials fall back to the standard AWS environment chain when the
// BACKUP_S3_* overrides are empty; they are never written to disk.
type BackupConfig struct {
	Enabled           bool
	S3Bucket          string
	S3Prefix          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
	RetentionDays     int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	strategyMode := getEnv("STRATEGY_MODE", ModeStandard)

	cfg := &Config{
		StrategyMode: strategyMode,
		SystemMode:   getEnv("SYSTEM_MODE", SystemSignalOnly),
		BrokerEnv:    getEnv("ETRADE_MODE", EnvSandbox),

		DataDir:  absDataDir,
		Port:     getEnvAsInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DevMode:  getEnvAsBool("DEV_MODE", false),

		ForceAfterHours: getEnvAsBool("FORCE_AFTER_HOURS", false),
		CloseOnShutdown: getEnvAsBool("CLOSE_ON_SHUTDOWN", false),
		SnapshotRestore: getEnvAsBool("SNAPSHOT_RESTORE", true),

		Sizing: SizingConfig{
			BasePositionPct:     getEnvAsFloat("BASE_POSITION_PCT", 10.0),
			MaxPositionPct:      getEnvAsFloat("MAX_POSITION_PCT", 35.0),
			MinPositionValueUSD: getEnvAsFloat("MIN_POSITION_VALUE_USD", 50.0),
			TradingCashPct:      getEnvAsFloat("TRADING_CASH_PCT", 80.0),
			CashReservePct:      getEnvAsFloat("CASH_RESERVE_PCT", 20.0),

			UltraHighConfThreshold: getEnvAsFloat("ULTRA_HIGH_CONF_THRESHOLD", 0.95),
			UltraHighConfMult:      getEnvAsFloat("ULTRA_HIGH_CONF_MULT", 2.5),
			HighConfThreshold:      getEnvAsFloat("HIGH_CONF_THRESHOLD", 0.90),
			HighConfMult:           getEnvAsFloat("HIGH_CONF_MULT", 2.0),
			MediumConfThreshold:    getEnvAsFloat("MEDIUM_CONF_THRESHOLD", 0.85),
			MediumConfMult:         getEnvAsFloat("MEDIUM_CONF_MULT", 1.0),

			AgreementMediumBonus: getEnvAsFloat("AGREEMENT_MEDIUM_BONUS", 0.25),
			AgreementHighBonus:   getEnvAsFloat("AGREEMENT_HIGH_BONUS", 0.50),
			AgreementMaxBonus:    getEnvAsFloat("AGREEMENT_MAX_BONUS", 1.00),

			WinStreakMult:    getEnvAsFloat("WIN_STREAK_MULT", 1.0),
			FractionalShares: getEnvAsBool("FRACTIONAL_SHARES", false),
		},

		Limits: LimitsConfig{
			MaxPositions:        getEnvAsInt("MAX_POSITIONS", defaultMaxPositions(strategyMode)),
			MaxDailyLossPct:     getEnvAsFloat("MAX_DAILY_LOSS_PCT", 5.0),
			MaxDrawdownPct:      getEnvAsFloat("MAX_DRAWDOWN_PCT", 10.0),
			MinSignalConfidence: getEnvAsFloat("MIN_SIGNAL_CONFIDENCE", defaultMinConfidence(strategyMode)),
			PositionCooldownMin: getEnvAsInt("POSITION_COOLDOWN_MINUTES", 15),
			MaxHoldMinutes:      getEnvAsInt("MAX_HOLD_MINUTES", 240),
		},

		Trailing: TrailingConfig{
			BreakevenActivationPct: getEnvAsFloat("BREAKEVEN_ACTIVATION_PCT", 0.5),
			BreakevenOffsetPct:     getEnvAsFloat("BREAKEVEN_OFFSET_PCT", 0.2),
			TrailingActivationPct:  getEnvAsFloat("TRAILING_ACTIVATION_PCT", 0.8),
			TrailingDistancePct:    getEnvAsFloat("TRAILING_DISTANCE_PCT", 0.8),
			StopLossPct:            getEnvAsFloat("STOP_LOSS_PCT", 3.0),
			TakeProfitPct:          getEnvAsFloat("TAKE_PROFIT_PCT", 5.0),
		},

		Data: DataConfig{
			QuoteBatchSize:      getEnvAsInt("QUOTE_BATCH_SIZE", 25),
			DailyAPIBudget:      getEnvAsInt("DAILY_API_CALL_BUDGET", 10000),
			QuoteTTLSec:         getEnvAsInt("QUOTE_CACHE_TTL_SEC", 30),
			IdleTTLSec:          getEnvAsInt("QUOTE_CACHE_IDLE_TTL_SEC", 300),
			WorkingSetSize:      getEnvAsInt("WORKING_SET_SIZE", 50),
			WatchlistMaxSymbols: getEnvAsInt("WATCHLIST_MAX_SYMBOLS", 118),
			MinDollarVolumeUSD:  getEnvAsFloat("MIN_DOLLAR_VOLUME_USD", 2000000),
			ScanIntervalSec:     getEnvAsInt("WATCHLIST_SCAN_INTERVAL_SEC", 120),
			MonitorIntervalSec:  getEnvAsInt("POSITION_MONITOR_INTERVAL_SEC", 60),
			RefreshIntervalSec:  getEnvAsInt("SYMBOL_REFRESH_INTERVAL_SEC", 3600),
		},

		Broker: BrokerConfig{
			ConsumerKey:           getEnv("ETRADE_CONSUMER_KEY", ""),
			ConsumerSecret:        getEnv("ETRADE_CONSUMER_SECRET", ""),
			SandboxConsumerKey:    getEnv("ETRADE_SANDBOX_CONSUMER_KEY", ""),
			SandboxConsumerSecret: getEnv("ETRADE_SANDBOX_CONSUMER_SECRET", ""),
			AccountIDKey:          getEnv("ETRADE_ACCOUNT_ID_KEY", ""),
			TokenFeedURL:          getEnv("TOKEN_FEED_URL", ""),
			WatchlistBuilderURL:   getEnv("WATCHLIST_BUILDER_URL", ""),
		},

		Alerts: AlertsConfig{
			TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
			TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
			PerMinute:        getEnvAsInt("ALERTS_PER_MINUTE", 30),
		},

		Backup: BackupConfig{
			Enabled:           getEnvAsBool("BACKUP_ENABLED", false),
			S3Bucket:          getEnv("BACKUP_S3_BUCKET", ""),
			S3Prefix:          getEnv("BACKUP_S3_PREFIX", "stealthtrader"),
			S3Endpoint:        getEnv("BACKUP_S3_ENDPOINT", ""),
			S3AccessKeyID:     getEnv("BACKUP_S3_ACCESS_KEY_ID", ""),
			S3SecretAccessKey: getEnv("BACKUP_S3_SECRET_ACCESS_KEY", ""),
			RetentionDays:     getEnvAsInt("BACKUP_RETENTION_DAYS", 14),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// WatchlistPath returns the location of the dynamic watchlist CSV.
func (c *Config) WatchlistPath() string {
	return filepath.Join(c.DataDir, "watchlist", "dynamic_watchlist.csv")
}

// LedgerPath returns the location of the sqlite ledger database.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.DataDir, "ledger.db")
}

// JournalPath returns the location of the append-only trade journal.
func (c *Config) JournalPath() string {
	return filepath.Join(c.DataDir, "trade_journal.ndjson")
}

// SnapshotPath returns the location of the open-position snapshot file.
func (c *Config) SnapshotPath() string {
	return filepath.Join(c.DataDir, "positions.snapshot")
}

// ActiveConsumerKeys returns the consumer keypair for the configured broker env.
func (c *Config) ActiveConsumerKeys() (key, secret string) {
	if c.BrokerEnv == EnvSandbox {
		return c.Broker.SandboxConsumerKey, c.Broker.SandboxConsumerSecret
	}
	return c.Broker.ConsumerKey, c.Broker.ConsumerSecret
}

// Validate checks that the configuration can safely drive real money.
func (c *Config) Validate() error {
	switch c.StrategyMode {
	case ModeStandard, ModeAdvanced, ModeQuantum:
	default:
		return invalidf("STRATEGY_MODE must be standard, advanced or quantum, got %q", c.StrategyMode)
	}

	switch c.SystemMode {
	case SystemSignalOnly, SystemFullTrading:
	default:
		return invalidf("SYSTEM_MODE must be signal_only or full_trading, got %q", c.SystemMode)
	}

	switch c.BrokerEnv {
	case EnvLive, EnvSandbox:
	default:
		return invalidf("ETRADE_MODE must be live or sandbox, got %q", c.BrokerEnv)
	}

	if math.Abs(c.Sizing.TradingCashPct+c.Sizing.CashReservePct-100) > 1e-9 {
		return invalidf("TRADING_CASH_PCT (%.1f) and CASH_RESERVE_PCT (%.1f) must sum to 100",
			c.Sizing.TradingCashPct, c.Sizing.CashReservePct)
	}
	if c.Sizing.BasePositionPct <= 0 || c.Sizing.BasePositionPct > 100 {
		return invalidf("BASE_POSITION_PCT must be in (0,100], got %.1f", c.Sizing.BasePositionPct)
	}
	if c.Sizing.MaxPositionPct < c.Sizing.BasePositionPct || c.Sizing.MaxPositionPct > 100 {
		return invalidf("MAX_POSITION_PCT must be in [BASE_POSITION_PCT,100], got %.1f", c.Sizing.MaxPositionPct)
	}
	if c.Sizing.MinPositionValueUSD < 0 {
		return invalidf("MIN_POSITION_VALUE_USD must be >= 0, got %.2f", c.Sizing.MinPositionValueUSD)
	}
	if c.Sizing.UltraHighConfThreshold < c.Sizing.HighConfThreshold ||
		c.Sizing.HighConfThreshold < c.Sizing.MediumConfThreshold {
		return invalidf("confidence thresholds must be ordered ultra >= high >= medium")
	}

	if c.Limits.MaxPositions < 1 {
		return invalidf("MAX_POSITIONS must be >= 1, got %d", c.Limits.MaxPositions)
	}
	if c.Limits.MaxDailyLossPct <= 0 || c.Limits.MaxDrawdownPct <= 0 {
		return invalidf("loss limits must be positive")
	}
	if c.Limits.MinSignalConfidence < 0 || c.Limits.MinSignalConfidence >= 1 {
		return invalidf("MIN_SIGNAL_CONFIDENCE must be in [0,1), got %.2f", c.Limits.MinSignalConfidence)
	}
	if c.Limits.MaxHoldMinutes < 1 {
		return invalidf("MAX_HOLD_MINUTES must be >= 1, got %d", c.Limits.MaxHoldMinutes)
	}

	if c.Trailing.StopLossPct <= 0 || c.Trailing.TakeProfitPct <= 0 || c.Trailing.TrailingDistancePct <= 0 {
		return invalidf("trailing stop percentages must be positive")
	}
	if c.Trailing.BreakevenActivationPct >= c.Trailing.TrailingActivationPct {
		return invalidf("BREAKEVEN_ACTIVATION_PCT (%.2f) must be below TRAILING_ACTIVATION_PCT (%.2f)",
			c.Trailing.BreakevenActivationPct, c.Trailing.TrailingActivationPct)
	}

	if c.Data.QuoteBatchSize < 1 || c.Data.QuoteBatchSize > 25 {
		return invalidf("QUOTE_BATCH_SIZE must be in [1,25], got %d", c.Data.QuoteBatchSize)
	}
	if c.Data.DailyAPIBudget < 100 {
		return invalidf("DAILY_API_CALL_BUDGET must be >= 100, got %d", c.Data.DailyAPIBudget)
	}
	if c.Data.WorkingSetSize < 1 || c.Data.WorkingSetSize > c.Data.WatchlistMaxSymbols {
		return invalidf("WORKING_SET_SIZE must be in [1,WATCHLIST_MAX_SYMBOLS], got %d", c.Data.WorkingSetSize)
	}
	if c.Data.ScanIntervalSec < 30 {
		return invalidf("WATCHLIST_SCAN_INTERVAL_SEC must be >= 30, got %d", c.Data.ScanIntervalSec)
	}
	if c.Data.MonitorIntervalSec < 10 {
		return invalidf("POSITION_MONITOR_INTERVAL_SEC must be >= 10, got %d", c.Data.MonitorIntervalSec)
	}

	if c.Backup.Enabled && c.Backup.S3Bucket == "" {
		return invalidf("BACKUP_ENABLED requires BACKUP_S3_BUCKET")
	}

	return nil
}

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrInvalid)...)
}

// defaultMaxPositions returns the per-mode position cap.
func defaultMaxPositions(mode string) int {
	switch mode {
	case ModeAdvanced:
		return 15
	case ModeQuantum:
		return 10
	default:
		return 20
	}
}

// defaultMinConfidence returns the per-mode signal confidence floor.
func defaultMinConfidence(mode string) float64 {
	switch mode {
	case ModeAdvanced:
		return 0.92
	case ModeQuantum:
		return 0.95
	default:
		return 0.90
	}
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}
