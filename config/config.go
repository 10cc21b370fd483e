// Package config loads the process configuration from environment variables
// into an immutable snapshot. The environment is read exactly once at
// startup; the pipeline never re-reads it.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all application configuration.
// Price-like values (stop, target, slippage, loss cap) are stored in paise.
type Config struct {
	// Broker credentials (required in live mode only)
	ClientID    string
	AccessToken string
	PIN         string
	TOTPSecret  string

	// Trading mode
	PaperTrading bool

	// Instrument
	IndexToken    string
	IndexExchange string
	IndexSymbol   string

	// Position sizing
	LotSize  int64
	NumLots  int64
	Quantity int64 // LotSize * NumLots

	// Candle aggregation
	CandleTimeframeSec int

	// Indicator parameters
	EMAPeriod     int
	RSIPeriod     int
	RSIOverbought float64
	RSIOversold   float64
	MACDFast      int
	MACDSlow      int
	MACDSignal    int
	ATRPeriod     int

	// Risk management (paise)
	StopLossPaise    int64
	TargetPaise      int64
	SlippagePaise    int64
	MaxDailyLoss     int64
	TrailActivation  int64 // favorable move before the trailing stop arms
	TrailDistance    int64 // distance kept behind the favorable extreme
	TrailBeatsStop   bool  // tie-break when stop and trail are equidistant
	FlattenOnExit    bool  // close the open position on shutdown
	SkipMinutesAfter int   // minutes after market open with entries suppressed

	// Order execution
	MaxOrdersPerSecond int
	OrderRetryLimit    int

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	MetricsAddr   string
	FeedWSURL     string

	// Alerting
	TelegramBotToken string
	TelegramChatID   string
	AlertWebhookURL  string
}

// Load reads configuration from environment variables with the defaults the
// strategy was tuned for. Returns an error for invalid numeric values; live
// credential presence is checked separately via ValidateLive.
func Load() (*Config, error) {
	cfg := &Config{
		ClientID:    getEnv("DHAN_CLIENT_ID", ""),
		AccessToken: getEnv("DHAN_ACCESS_TOKEN", ""),
		PIN:         getEnv("DHAN_PIN", ""),
		TOTPSecret:  getEnv("DHAN_TOTP_SECRET", ""),

		IndexToken:    getEnv("INDEX_TOKEN", "25"),
		IndexExchange: getEnv("INDEX_EXCHANGE", "IDX"),
		IndexSymbol:   getEnv("INDEX_SYMBOL", "NIFTY BANK"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		FeedWSURL:     getEnv("FEED_WS_URL", "ws://localhost:9001/ws"),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		AlertWebhookURL:  getEnv("ALERT_WEBHOOK_URL", ""),
	}

	var err error
	load := func(dst *int64, key string, def int64) {
		if err == nil {
			*dst, err = getEnvInt64(key, def)
		}
	}
	loadInt := func(dst *int, key string, def int) {
		var v int64
		load(&v, key, int64(def))
		*dst = int(v)
	}
	loadPaise := func(dst *int64, key string, defPoints float64) {
		if err == nil {
			var pts float64
			pts, err = getEnvFloat(key, defPoints)
			*dst = int64(pts * 100)
		}
	}

	cfg.PaperTrading, err = getEnvBool("PAPER_TRADING", true)

	load(&cfg.LotSize, "LOT_SIZE", 15)
	load(&cfg.NumLots, "NUM_LOTS", 2)
	loadInt(&cfg.CandleTimeframeSec, "CANDLE_TIMEFRAME_SECONDS", 60)

	loadInt(&cfg.EMAPeriod, "EMA_PERIOD", 9)
	loadInt(&cfg.RSIPeriod, "RSI_PERIOD", 14)
	if err == nil {
		cfg.RSIOverbought, err = getEnvFloat("RSI_OVERBOUGHT", 60)
	}
	if err == nil {
		cfg.RSIOversold, err = getEnvFloat("RSI_OVERSOLD", 40)
	}
	loadInt(&cfg.MACDFast, "MACD_FAST", 12)
	loadInt(&cfg.MACDSlow, "MACD_SLOW", 26)
	loadInt(&cfg.MACDSignal, "MACD_SIGNAL", 9)
	loadInt(&cfg.ATRPeriod, "ATR_PERIOD", 14)

	loadPaise(&cfg.StopLossPaise, "STOP_LOSS_POINTS", 20)
	loadPaise(&cfg.TargetPaise, "TARGET_POINTS", 40)
	loadPaise(&cfg.SlippagePaise, "SLIPPAGE_BUFFER", 5)
	loadPaise(&cfg.MaxDailyLoss, "MAX_DAILY_LOSS", 5000)
	loadPaise(&cfg.TrailActivation, "TRAIL_ACTIVATION_POINTS", 15)
	loadPaise(&cfg.TrailDistance, "TRAIL_DISTANCE_POINTS", 10)
	if err == nil {
		cfg.TrailBeatsStop, err = getEnvBool("TRAIL_TIEBREAK_TRAILING", true)
	}
	if err == nil {
		cfg.FlattenOnExit, err = getEnvBool("FLATTEN_ON_SHUTDOWN", true)
	}
	loadInt(&cfg.SkipMinutesAfter, "SKIP_MINUTES_AFTER_OPEN", 5)

	loadInt(&cfg.MaxOrdersPerSecond, "MAX_ORDERS_PER_SECOND", 25)
	loadInt(&cfg.OrderRetryLimit, "ORDER_RETRY_LIMIT", 3)

	if err != nil {
		return nil, err
	}

	if cfg.LotSize <= 0 || cfg.NumLots <= 0 {
		return nil, fmt.Errorf("config: LOT_SIZE and NUM_LOTS must be positive (got %d, %d)", cfg.LotSize, cfg.NumLots)
	}
	if cfg.CandleTimeframeSec <= 0 {
		return nil, fmt.Errorf("config: CANDLE_TIMEFRAME_SECONDS must be positive (got %d)", cfg.CandleTimeframeSec)
	}
	if cfg.StopLossPaise <= 0 || cfg.TargetPaise <= 0 {
		return nil, fmt.Errorf("config: STOP_LOSS_POINTS and TARGET_POINTS must be positive")
	}
	if cfg.MaxDailyLoss <= 0 {
		return nil, fmt.Errorf("config: MAX_DAILY_LOSS must be positive")
	}
	if cfg.MaxOrdersPerSecond <= 0 {
		return nil, fmt.Errorf("config: MAX_ORDERS_PER_SECOND must be positive")
	}
	cfg.Quantity = cfg.LotSize * cfg.NumLots

	return cfg, nil
}

// ValidateLive checks that broker credentials are present. Called only when
// the pipeline routes orders to the real broker.
func (c *Config) ValidateLive() error {
	if c.ClientID == "" {
		return fmt.Errorf("config: DHAN_CLIENT_ID required in live mode")
	}
	if c.AccessToken == "" && (c.PIN == "" || c.TOTPSecret == "") {
		return fmt.Errorf("config: live mode needs DHAN_ACCESS_TOKEN or DHAN_PIN + DHAN_TOTP_SECRET")
	}
	return nil
}

// Instrument returns the configured traded instrument.
func (c *Config) Instrument() (token, exchange string) {
	return c.IndexToken, c.IndexExchange
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt64(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s=%q is not an integer", key, v)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s=%q is not a number", key, v)
	}
	return f, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("config: %s=%q is not a boolean", key, v)
	}
	return b, nil
}
