// Package config defines all configuration for the trading session.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via KALSHI_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML
// file structure described in spec §6, plus one ambient metrics
// branch and one ambient exchange-endpoints branch (the REST base URL
// and WebSocket URL are "configurable; production vs demo" per spec
// §6 but the spec names no config key for them).
type Config struct {
	Exchange ExchangeConfig `mapstructure:"exchange"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Market   MarketConfig   `mapstructure:"market"`
	Signal   SignalConfig   `mapstructure:"signal"`
	Risk     RiskConfig     `mapstructure:"risk"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	DryRun   bool           `mapstructure:"dry_run"`
}

// ExchangeConfig is the ambient branch carrying the Kalshi endpoint
// pair; spec §6 only says the REST base URL is "configurable" without
// naming a key, so these fields are new.
type ExchangeConfig struct {
	RestBaseURL string `mapstructure:"rest_base_url"`
	WSURL       string `mapstructure:"ws_url"`
}

// AuthConfig is spec §6's `auth` block: a path to the RSA-PSS signing
// key and the access-key ID sent in KALSHI-ACCESS-KEY.
type AuthConfig struct {
	PrivateKeyPath string `mapstructure:"private_key_path"`
	AccessKey      string `mapstructure:"access_key"`
}

// MarketConfig is spec §6's `market` block: the traded ticker, the
// rolling volatility window (as a candle count), the option's strike
// and expiry, and the simulator's starting balance.
type MarketConfig struct {
	Ticker           string  `mapstructure:"ticker"`
	VolatilityWindow int     `mapstructure:"volatility_window"`
	Strike           float64 `mapstructure:"strike"`
	ExpiryDatetime   string  `mapstructure:"expiry_datetime"` // "HH:MM MM/DD/YYYY" in America/New_York
	StartingBalance  float64 `mapstructure:"starting_balance"`
}

// SignalConfig is spec §6's `signal` block. Each entry in
// SignalChannels is prefixed "binance:" or "index:" to select the
// adapter (see DESIGN.md Open Questions #3). WSBaseURL/RestBaseURL are
// an ambient addition for the same reason as ExchangeConfig: the
// adapter's endpoint host is not a key spec §6 names.
type SignalConfig struct {
	SignalChannels []string `mapstructure:"signal_channels"`
	WSBaseURL      string   `mapstructure:"ws_base_url"`
	RestBaseURL    string   `mapstructure:"rest_base_url"`
}

// RiskConfig is spec §6's `risk` block, split into its three named
// sub-groups.
type RiskConfig struct {
	PortfolioLimits  PortfolioLimitsConfig  `mapstructure:"portfolio_limits"`
	StalenessLimits  StalenessLimitsConfig  `mapstructure:"staleness_limits"`
	TradingParameters TradingParametersConfig `mapstructure:"trading_parameters"`
}

type PortfolioLimitsConfig struct {
	MaxInventory      int           `mapstructure:"max_inventory"`
	MaxInventoryDev   int           `mapstructure:"max_inventory_dev"`
	MaxBalanceDev     float64       `mapstructure:"max_balance_dev"`
	MinimumBalance    float64       `mapstructure:"minimum_balance"`
	TerminalExitTime  time.Duration `mapstructure:"terminal_exit_time"`
}

type StalenessLimitsConfig struct {
	ReconciliationPeriod     time.Duration `mapstructure:"reconciliation_period"`
	MaximumOrderbookStaleness time.Duration `mapstructure:"maximum_orderbook_staleness"`
}

type TradingParametersConfig struct {
	MinimumEdge float64 `mapstructure:"minimum_edge"`
}

// LoggingConfig is spec §6's `logging` block: named per-category log
// sinks (orders, fills, prices, state, ks_websocket, signal_websocket,
// runner) and which of them also echo to the console.
type LoggingConfig struct {
	LoggerList  []string `mapstructure:"logger_list"`
	ConsoleOuts []string `mapstructure:"console_outs"`
	Level       string   `mapstructure:"level"`
}

// MetricsConfig is the one ambient-only config branch not named in
// spec §6: it exists purely to give prometheus/client_golang an HTTP
// endpoint to serve on, following the teacher's
// DashboardConfig{Port int} pattern in shape.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: KALSHI_PRIVATE_KEY_PATH, KALSHI_ACCESS_KEY.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("KALSHI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if path := os.Getenv("KALSHI_PRIVATE_KEY_PATH"); path != "" {
		cfg.Auth.PrivateKeyPath = path
	}
	if key := os.Getenv("KALSHI_ACCESS_KEY"); key != "" {
		cfg.Auth.AccessKey = key
	}
	if os.Getenv("KALSHI_DRY_RUN") == "true" || os.Getenv("KALSHI_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Exchange.RestBaseURL == "" {
		return fmt.Errorf("exchange.rest_base_url is required")
	}
	if c.Exchange.WSURL == "" {
		return fmt.Errorf("exchange.ws_url is required")
	}
	if c.Auth.PrivateKeyPath == "" {
		return fmt.Errorf("auth.private_key_path is required (set KALSHI_PRIVATE_KEY_PATH)")
	}
	if c.Auth.AccessKey == "" {
		return fmt.Errorf("auth.access_key is required (set KALSHI_ACCESS_KEY)")
	}
	if c.Market.Ticker == "" {
		return fmt.Errorf("market.ticker is required")
	}
	if c.Market.VolatilityWindow <= 0 {
		return fmt.Errorf("market.volatility_window must be > 0")
	}
	if c.Market.Strike <= 0 {
		return fmt.Errorf("market.strike must be > 0")
	}
	if c.Market.ExpiryDatetime == "" {
		return fmt.Errorf("market.expiry_datetime is required")
	}
	if c.Risk.PortfolioLimits.MaxInventory <= 0 {
		return fmt.Errorf("risk.portfolio_limits.max_inventory must be > 0")
	}
	if c.Risk.StalenessLimits.ReconciliationPeriod <= 0 {
		return fmt.Errorf("risk.staleness_limits.reconciliation_period must be > 0")
	}
	if c.Risk.StalenessLimits.MaximumOrderbookStaleness <= 0 {
		return fmt.Errorf("risk.staleness_limits.maximum_orderbook_staleness must be > 0")
	}
	if len(c.Signal.SignalChannels) == 0 {
		return fmt.Errorf("signal.signal_channels must name at least one channel")
	}
	if c.Signal.WSBaseURL == "" {
		return fmt.Errorf("signal.ws_base_url is required")
	}
	if c.Signal.RestBaseURL == "" {
		return fmt.Errorf("signal.rest_base_url is required")
	}
	return nil
}

// ExpiryTime parses MarketConfig.ExpiryDatetime ("HH:MM MM/DD/YYYY")
// in America/New_York, matching spec §6's literal format.
func (m MarketConfig) ExpiryTime() (time.Time, error) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.Time{}, fmt.Errorf("load America/New_York: %w", err)
	}
	t, err := time.ParseInLocation("15:04 01/02/2006", m.ExpiryDatetime, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse market.expiry_datetime %q: %w", m.ExpiryDatetime, err)
	}
	return t, nil
}
