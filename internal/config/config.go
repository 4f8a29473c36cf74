// Package config defines all configuration for the trading engine. Config
// is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via AUTOHEDGE_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"autohedge/pkg/types"
)

// Config is the top-level configuration. Maps directly to the YAML file
// structure.
type Config struct {
	DryRun bool `mapstructure:"dry_run"`

	TradingMode  types.TradingMode  `mapstructure:"trading_mode"`
	Exchange     string             `mapstructure:"exchange"`
	Symbols      []string           `mapstructure:"symbols"`
	StrategyMode types.StrategyMode `mapstructure:"strategy_mode"`

	HistoryLimit         int `mapstructure:"history_limit"`
	WarmupCount          int `mapstructure:"warmup_count"`
	NoTradeCooldownQuotes int `mapstructure:"no_trade_cooldown_quotes"`

	LLMQueueSize      int `mapstructure:"llm_queue_size"`
	LLMMaxConcurrent  int `mapstructure:"llm_max_concurrent"`

	Defaults        DefaultsConfig                  `mapstructure:"defaults"`
	SymbolOverrides map[string]SymbolOverrideConfig  `mapstructure:"symbol_overrides"`
	HFT             HFTConfig                        `mapstructure:"hft"`
	Hybrid          HybridConfig                     `mapstructure:"hybrid"`
	MicroTrade      MicroTradeConfig                 `mapstructure:"micro_trade"`

	ExitOnQuotes bool   `mapstructure:"exit_on_quotes"`
	ChatterLevel string `mapstructure:"chatter_level"` // low|normal|verbose

	Credentials CredentialsConfig `mapstructure:"credentials"`
	LLM         LLMConfig         `mapstructure:"llm"`
	Store       StoreConfig       `mapstructure:"store"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Bus         BusConfig         `mapstructure:"bus"`
}

// DefaultsConfig holds the fallback sizing/TP-SL/expiration parameters
// used when a symbol has no override.
type DefaultsConfig struct {
	TakeProfitPct           float64 `mapstructure:"take_profit_pct"`
	StopLossPct             float64 `mapstructure:"stop_loss_pct"`
	MinOrderAmount          float64 `mapstructure:"min_order_amount"`
	MaxOrderAmount          float64 `mapstructure:"max_order_amount"`
	LimitOrderExpirationDays int    `mapstructure:"limit_order_expiration_days"` // 0 = no expiration
}

// SymbolOverrideConfig overrides TP/SL percentages for one symbol.
type SymbolOverrideConfig struct {
	TakeProfitPct *float64 `mapstructure:"take_profit_pct"`
	StopLossPct   *float64 `mapstructure:"stop_loss_pct"`
}

// HFTConfig tunes the high-frequency quantitative strategy.
type HFTConfig struct {
	EvaluateEveryQuotes int     `mapstructure:"evaluate_every_quotes"`
	MinEdgeBps          float64 `mapstructure:"min_edge_bps"`
	TakeProfitBps       float64 `mapstructure:"take_profit_bps"`
	StopLossBps         float64 `mapstructure:"stop_loss_bps"`
	MaxSpreadBps        float64 `mapstructure:"max_spread_bps"`
}

// HybridConfig tunes the periodic LLM gate guarding HFT emission.
type HybridConfig struct {
	GateRefreshQuotes     int `mapstructure:"gate_refresh_quotes"`
	NoTradeCooldownQuotes int `mapstructure:"no_trade_cooldown_quotes"`
}

// MicroTradeConfig tunes execution engine sizing, pricing, and caching.
type MicroTradeConfig struct {
	TargetBalancePct  float64       `mapstructure:"target_balance_pct"`
	AggressionBps     float64       `mapstructure:"aggression_bps"`
	MinOrderIntervalMs int          `mapstructure:"min_order_interval_ms"`
	AccountCacheSecs  int           `mapstructure:"account_cache_secs"`
	UseLLMFilter      bool          `mapstructure:"use_llm_filter"`
	CryptoTimeInForce types.TimeInForce `mapstructure:"crypto_time_in_force"`
}

// AccountCacheTTL returns the configured TTL as a duration, defaulting to
// 30s per spec section 4.6 if unset.
func (m MicroTradeConfig) AccountCacheTTL() time.Duration {
	if m.AccountCacheSecs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(m.AccountCacheSecs) * time.Second
}

// MinOrderIntervalDuration returns the configured per-symbol order cadence
// as a duration, defaulting to 1s if unset.
func (m MicroTradeConfig) MinOrderIntervalDuration() time.Duration {
	if m.MinOrderIntervalMs <= 0 {
		return time.Second
	}
	return time.Duration(m.MinOrderIntervalMs) * time.Millisecond
}

// CredentialsConfig holds per-venue auth material. Only the fields the
// selected Exchange needs are required.
type CredentialsConfig struct {
	APIKey     string `mapstructure:"api_key"`
	APISecret  string `mapstructure:"api_secret"`
	Passphrase string `mapstructure:"passphrase"` // coinbase only
	BaseURL    string `mapstructure:"base_url"`
	WSURL      string `mapstructure:"ws_url"`
}

// LLMConfig configures the OpenAI-compatible chat completion client shared
// by every Director/Quant/Risk agent.
type LLMConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

// StoreConfig sets where trade log / snapshot / stats files are written.
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// BusConfig sizes the event bus's per-subscriber channel.
type BusConfig struct {
	Capacity int `mapstructure:"capacity"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: AUTOHEDGE_API_KEY, AUTOHEDGE_API_SECRET,
// AUTOHEDGE_PASSPHRASE.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("AUTOHEDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("AUTOHEDGE_API_KEY"); key != "" {
		cfg.Credentials.APIKey = key
	}
	if secret := os.Getenv("AUTOHEDGE_API_SECRET"); secret != "" {
		cfg.Credentials.APISecret = secret
	}
	if pass := os.Getenv("AUTOHEDGE_PASSPHRASE"); pass != "" {
		cfg.Credentials.Passphrase = pass
	}
	if key := os.Getenv("AUTOHEDGE_LLM_API_KEY"); key != "" {
		cfg.LLM.APIKey = key
	}
	if os.Getenv("AUTOHEDGE_DRY_RUN") == "true" || os.Getenv("AUTOHEDGE_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 50
	}
	if c.Bus.Capacity <= 0 {
		c.Bus.Capacity = 1000
	}
	if c.ChatterLevel == "" {
		c.ChatterLevel = "normal"
	}
	if c.MicroTrade.CryptoTimeInForce == "" {
		c.MicroTrade.CryptoTimeInForce = types.TIFGTC
	}
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = "https://api.openai.com/v1"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o-mini"
	}
}

// TakeProfitPct returns the effective take-profit percentage for symbol,
// applying any symbol override.
func (c *Config) TakeProfitPct(symbol string) float64 {
	if ov, ok := c.SymbolOverrides[symbol]; ok && ov.TakeProfitPct != nil {
		return *ov.TakeProfitPct
	}
	return c.Defaults.TakeProfitPct
}

// StopLossPct returns the effective stop-loss percentage for symbol,
// applying any symbol override.
func (c *Config) StopLossPct(symbol string) float64 {
	if ov, ok := c.SymbolOverrides[symbol]; ok && ov.StopLossPct != nil {
		return *ov.StopLossPct
	}
	return c.Defaults.StopLossPct
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	switch c.TradingMode {
	case types.ModeCrypto, types.ModeStocks:
	default:
		return fmt.Errorf("trading_mode must be one of: crypto, stocks")
	}
	switch c.Exchange {
	case "alpaca", "binance", "coinbase", "kraken":
	default:
		return fmt.Errorf("exchange must be one of: alpaca, binance, coinbase, kraken")
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("symbols must be non-empty")
	}
	switch c.StrategyMode {
	case types.StrategyHFT, types.StrategyLLM, types.StrategyHybrid:
	default:
		return fmt.Errorf("strategy_mode must be one of: hft, llm, hybrid")
	}
	if c.Defaults.MinOrderAmount <= 0 {
		return fmt.Errorf("defaults.min_order_amount must be > 0")
	}
	if c.Defaults.MaxOrderAmount < c.Defaults.MinOrderAmount {
		return fmt.Errorf("defaults.max_order_amount must be >= min_order_amount")
	}
	if c.Defaults.TakeProfitPct <= 0 {
		return fmt.Errorf("defaults.take_profit_pct must be > 0")
	}
	if c.Defaults.StopLossPct <= 0 {
		return fmt.Errorf("defaults.stop_loss_pct must be > 0")
	}
	if c.MicroTrade.TargetBalancePct <= 0 || c.MicroTrade.TargetBalancePct > 1 {
		return fmt.Errorf("micro_trade.target_balance_pct must be in (0, 1]")
	}
	if c.StrategyMode != types.StrategyHFT && c.Credentials.APIKey == "" {
		return fmt.Errorf("credentials.api_key is required (set AUTOHEDGE_API_KEY) for llm and hybrid strategy modes")
	}
	if c.StrategyMode != types.StrategyHFT && c.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key is required (set AUTOHEDGE_LLM_API_KEY) for llm and hybrid strategy modes")
	}
	return nil
}
