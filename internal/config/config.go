// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	RPCList        []string `mapstructure:"rpc_list"`
	PrivateKey     string   `mapstructure:"private_key"`
	ListenAddr     string   `mapstructure:"listen_addr"`
	DataDir        string   `mapstructure:"data_dir"`
	TrackedWallets []string `mapstructure:"tracked_wallets"`

	QuoteURL string `mapstructure:"quote_url"`
	SwapURL  string `mapstructure:"swap_url"`

	BuyAmountSol   float64 `mapstructure:"buy_amount_sol"`
	ProbeAmountSol float64 `mapstructure:"probe_amount_sol"`

	BaseSlippageBps int `mapstructure:"base_slippage_bps"`
	MaxSlippageBps  int `mapstructure:"max_slippage_bps"`
	SlippageStepBps int `mapstructure:"slippage_step_bps"`

	// PriorityFeeLamports == 0 means "auto" priority fee on swap requests.
	PriorityFeeLamports uint64 `mapstructure:"priority_fee_lamports"`

	StopLossPct          float64 `mapstructure:"stop_loss_pct"`
	TakeProfitPct        float64 `mapstructure:"take_profit_pct"`
	PricecheckIntervalMs int     `mapstructure:"pricecheck_interval_ms"`

	DedupTTLMinutes   int `mapstructure:"dedup_ttl_minutes"`
	BuyLockTTLSeconds int `mapstructure:"buy_lock_ttl_seconds"`

	TelegramToken  string `mapstructure:"telegram_token"`
	TelegramChatID string `mapstructure:"telegram_chat_id"`

	DebugLogging bool   `mapstructure:"debug_logging"`
	LogFile      string `mapstructure:"log_file"`
}

const (
	DefaultListenAddr           = ":8085"
	DefaultDataDir              = "data"
	DefaultQuoteURL             = "https://quote-api.jup.ag/v6/quote"
	DefaultSwapURL              = "https://quote-api.jup.ag/v6/swap"
	DefaultBuyAmountSol         = 0.05
	DefaultProbeAmountSol       = 0.5
	DefaultBaseSlippageBps      = 250
	DefaultMaxSlippageBps       = 1000
	DefaultSlippageStepBps      = 250
	DefaultStopLossPct          = -0.5
	DefaultPricecheckIntervalMs = 30000
	DefaultDedupTTLMinutes      = 10
	DefaultBuyLockTTLSeconds    = 180
	DefaultLogFile              = "logs/mirrorbot.log"
)

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	defaults := map[string]interface{}{
		"listen_addr":            DefaultListenAddr,
		"data_dir":               DefaultDataDir,
		"quote_url":              DefaultQuoteURL,
		"swap_url":               DefaultSwapURL,
		"buy_amount_sol":         DefaultBuyAmountSol,
		"probe_amount_sol":       DefaultProbeAmountSol,
		"base_slippage_bps":      DefaultBaseSlippageBps,
		"max_slippage_bps":       DefaultMaxSlippageBps,
		"slippage_step_bps":      DefaultSlippageStepBps,
		"stop_loss_pct":          DefaultStopLossPct,
		"pricecheck_interval_ms": DefaultPricecheckIntervalMs,
		"dedup_ttl_minutes":      DefaultDedupTTLMinutes,
		"buy_lock_ttl_seconds":   DefaultBuyLockTTLSeconds,
		"log_file":               DefaultLogFile,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := loadEnvironmentVariables(v, &cfg); err != nil {
		return nil, err
	}

	return &cfg, validateConfig(&cfg)
}

func validateConfig(cfg *Config) error {
	if len(cfg.RPCList) == 0 {
		return errors.New("rpc_list is empty")
	}
	for _, rpcURL := range cfg.RPCList {
		if err := validateURL(rpcURL, "http"); err != nil {
			return errors.New("invalid RPC URL protocol")
		}
	}
	if cfg.PrivateKey == "" {
		return errors.New("missing wallet private key (set MIRRORBOT_PRIVATE_KEY)")
	}
	if len(cfg.TrackedWallets) == 0 {
		return errors.New("tracked_wallets is empty")
	}
	if err := validateURL(cfg.QuoteURL, "http"); err != nil {
		return errors.New("invalid quote_url")
	}
	if err := validateURL(cfg.SwapURL, "http"); err != nil {
		return errors.New("invalid swap_url")
	}
	return validateNumericParams(cfg)
}

func validateNumericParams(cfg *Config) error {
	if cfg.BuyAmountSol <= 0 {
		return errors.New("invalid buy_amount_sol")
	}
	if cfg.ProbeAmountSol <= 0 {
		return errors.New("invalid probe_amount_sol")
	}
	if cfg.BaseSlippageBps <= 0 || cfg.SlippageStepBps <= 0 {
		return errors.New("invalid slippage parameters")
	}
	if cfg.MaxSlippageBps < cfg.BaseSlippageBps {
		return errors.New("max_slippage_bps must be >= base_slippage_bps")
	}
	if cfg.StopLossPct >= 0 {
		return fmt.Errorf("stop_loss_pct must be a negative fraction, got %v", cfg.StopLossPct)
	}
	if cfg.PricecheckIntervalMs <= 0 {
		return errors.New("invalid pricecheck_interval_ms")
	}
	if cfg.DedupTTLMinutes <= 0 {
		return errors.New("invalid dedup_ttl_minutes")
	}
	if cfg.BuyLockTTLSeconds <= 0 {
		return errors.New("invalid buy_lock_ttl_seconds")
	}
	return nil
}

func validateURL(rawURL string, protocol string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) {
		return errors.New("invalid URL protocol")
	}
	return nil
}

func loadEnvironmentVariables(v *viper.Viper, cfg *Config) error {
	v.AutomaticEnv()
	v.SetEnvPrefix("MIRRORBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if pk := v.GetString("PRIVATE_KEY"); pk != "" {
		cfg.PrivateKey = pk
	}
	if token := v.GetString("TELEGRAM_TOKEN"); token != "" {
		cfg.TelegramToken = token
	}
	if chat := v.GetString("TELEGRAM_CHAT_ID"); chat != "" {
		cfg.TelegramChatID = chat
	}

	envRPCList := v.GetString("RPC_LIST")
	if envRPCList != "" {
		rpcs := strings.Split(envRPCList, ",")
		var cleanRPCs []string
		for _, rpc := range rpcs {
			clean := strings.TrimSpace(rpc)
			if clean != "" {
				cleanRPCs = append(cleanRPCs, clean)
			}
		}
		if len(cleanRPCs) > 0 {
			cfg.RPCList = cleanRPCs
		}
	}
	return nil
}
