// Package config loads the relay configuration from an optional YAML file
// with environment variable overrides.
package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"poly-copyrelay/internal/clob"
	"poly-copyrelay/internal/engine"
	"poly-copyrelay/internal/session"
)

// Config is the complete relay configuration.
type Config struct {
	Leader   string         `mapstructure:"leader"`
	FeedURL  string         `mapstructure:"feed_url"`
	Journal  string         `mapstructure:"journal"`
	Relay    RelayConfig    `mapstructure:"relay"`
	Clob     ClobConfig     `mapstructure:"clob"`
	Gamma    GammaConfig    `mapstructure:"gamma"`
	Polygon  PolygonConfig  `mapstructure:"polygon"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// RelayConfig is the trading policy. Money fields are decimal strings so
// nothing goes through float64.
type RelayConfig struct {
	Scale        string   `mapstructure:"scale"`
	MaxPerTrade  string   `mapstructure:"max_per_trade"`
	MaxSlippage  string   `mapstructure:"max_slippage"`
	MaxOdds      string   `mapstructure:"max_odds"`
	MinSize      string   `mapstructure:"min_size"`
	PerMarketCap string   `mapstructure:"per_market_cap"`
	TotalCap     string   `mapstructure:"total_cap"`
	Categories   []string `mapstructure:"categories"`
	OrderType    string   `mapstructure:"order_type"`
	DryRun       bool     `mapstructure:"dry_run"`
}

type ClobConfig struct {
	Host          string `mapstructure:"host"`
	ChainID       int64  `mapstructure:"chain_id"`
	PrivateKey    string `mapstructure:"private_key"`
	Funder        string `mapstructure:"funder"`
	SignatureType int    `mapstructure:"signature_type"`
	APIKey        string `mapstructure:"api_key"`
	APISecret     string `mapstructure:"api_secret"`
	APIPassphrase string `mapstructure:"api_passphrase"`
	APINonce      uint64 `mapstructure:"api_nonce"`
}

type GammaConfig struct {
	APIBaseURL string `mapstructure:"api_base_url"`
}

type PolygonConfig struct {
	RPCURL string `mapstructure:"rpc_url"`
}

type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

// Load reads the config file at path (optional) and applies COPYRELAY_*
// environment overrides, e.g. COPYRELAY_CLOB_PRIVATE_KEY.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("COPYRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("leader", "")
	v.SetDefault("feed_url", "")
	v.SetDefault("journal", "./out/relay.jsonl")

	v.SetDefault("relay.scale", "0.1")
	v.SetDefault("relay.max_per_trade", "50")
	v.SetDefault("relay.max_slippage", "0.05")
	v.SetDefault("relay.max_odds", "0")
	v.SetDefault("relay.min_size", "0")
	v.SetDefault("relay.per_market_cap", "0")
	v.SetDefault("relay.total_cap", "0")
	v.SetDefault("relay.order_type", "FAK")
	v.SetDefault("relay.dry_run", true)

	v.SetDefault("clob.host", "https://clob.polymarket.com")
	v.SetDefault("clob.chain_id", 137)
	v.SetDefault("clob.signature_type", 0)
	v.SetDefault("clob.api_nonce", 0)

	v.SetDefault("gamma.api_base_url", "")
	v.SetDefault("polygon.rpc_url", "")

	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
}

func parseDecimalField(name, s string, required bool) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		if required {
			return decimal.Zero, fmt.Errorf("%s required", name)
		}
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: invalid decimal %q", name, s)
	}
	if d.Sign() < 0 {
		return decimal.Zero, fmt.Errorf("%s must be >= 0", name)
	}
	return d, nil
}

// SessionConfig converts the loaded configuration into the session's typed
// form, validating as it goes.
func (c *Config) SessionConfig() (session.Config, error) {
	if !common.IsHexAddress(c.Leader) {
		return session.Config{}, fmt.Errorf("leader: invalid address %q", c.Leader)
	}

	orderType, err := clob.ParseOrderType(c.Relay.OrderType)
	if err != nil {
		return session.Config{}, err
	}

	trade := engine.Config{
		Categories: c.Relay.Categories,
		OrderType:  orderType,
		DryRun:     c.Relay.DryRun,
	}
	fields := []struct {
		name     string
		raw      string
		required bool
		dst      *decimal.Decimal
	}{
		{"relay.scale", c.Relay.Scale, true, &trade.Scale},
		{"relay.max_per_trade", c.Relay.MaxPerTrade, false, &trade.MaxPerTrade},
		{"relay.max_slippage", c.Relay.MaxSlippage, false, &trade.MaxSlippage},
		{"relay.max_odds", c.Relay.MaxOdds, false, &trade.MaxOdds},
		{"relay.min_size", c.Relay.MinSize, false, &trade.MinSize},
		{"relay.per_market_cap", c.Relay.PerMarketCap, false, &trade.PerMarketCap},
		{"relay.total_cap", c.Relay.TotalCap, false, &trade.TotalCap},
	}
	for _, f := range fields {
		d, err := parseDecimalField(f.name, f.raw, f.required)
		if err != nil {
			return session.Config{}, err
		}
		*f.dst = d
	}

	cfg := session.Config{
		Leader:  common.HexToAddress(c.Leader),
		FeedURL: c.FeedURL,
		Trade:   trade,
	}
	if err := cfg.Validate(); err != nil {
		return session.Config{}, err
	}
	return cfg, nil
}
