// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/viper"
)

// VenueConfig описывает одну поддерживаемую площадку: тип и программа-владелец.
type VenueConfig struct {
	Name      string `mapstructure:"name"`
	Kind      string `mapstructure:"kind"` // constant_product_amm | concentrated_liquidity_amm | ...
	ProgramID string `mapstructure:"program_id"`
	FeeBps    uint16 `mapstructure:"fee_bps"`
}

// RiskConfig — пороги риск-фильтра.
type RiskConfig struct {
	MinTradeLamports         uint64  `mapstructure:"min_trade_lamports"`
	MaxTradeLamports         uint64  `mapstructure:"max_trade_lamports"`
	MaxPoolSharePct          float64 `mapstructure:"max_pool_share_pct"`
	BaseThresholdBps         int64   `mapstructure:"base_threshold_bps"`
	VolatilityIndexHigh      float64 `mapstructure:"volatility_index_high"`
	VolatilityIndexLow       float64 `mapstructure:"volatility_index_low"`
	HighVolMultiplier        float64 `mapstructure:"high_vol_multiplier"`
	LowVolMultiplier         float64 `mapstructure:"low_vol_multiplier"`
	DailyExposureCapLamports uint64  `mapstructure:"daily_exposure_cap_lamports"`
	DailyLossCapLamports     uint64  `mapstructure:"daily_loss_cap_lamports"`
}

// Политики оценки сетевой стоимости транзакции.
const (
	FeePolicyFixed     = "fixed"     // network_fee_lamports как есть
	FeePolicySimulated = "simulated" // оценка из результатов симуляции
)

// ExecutionConfig — параметры исполнителя и MEV-защиты.
type ExecutionConfig struct {
	MEVProtection           bool    `mapstructure:"mev_protection"`
	JitoURL                 string  `mapstructure:"jito_url"`
	TipFloorLamports        uint64  `mapstructure:"tip_floor_lamports"`
	TipProfitFraction       float64 `mapstructure:"tip_profit_fraction"`
	TipCapLamports          uint64  `mapstructure:"tip_cap_lamports"`
	AmountToleranceLamports uint64  `mapstructure:"amount_tolerance_lamports"`
	MaxConcurrent           int     `mapstructure:"max_concurrent"`
	FeePolicy               string  `mapstructure:"fee_policy"` // FeePolicyFixed | FeePolicySimulated
	NetworkFeeLamports      uint64  `mapstructure:"network_fee_lamports"`
	SlippageBps             uint16  `mapstructure:"slippage_bps"`
}

type Config struct {
	RPCList             []string        `mapstructure:"rpc_list"`
	WalletsFile         string          `mapstructure:"wallets_file"`
	JupiterURL          string          `mapstructure:"jupiter_url"`
	PriceSources        []string        `mapstructure:"price_sources"`
	Venues              []VenueConfig   `mapstructure:"venues"`
	WatchedPools        []string        `mapstructure:"watched_pools"`
	Risk                RiskConfig      `mapstructure:"risk"`
	Execution           ExecutionConfig `mapstructure:"execution"`
	MinTVLUSD           float64         `mapstructure:"min_tvl_usd"`
	StalenessMs         int             `mapstructure:"staleness_ms"`
	CooldownMs          int             `mapstructure:"cooldown_ms"`
	MaxHops             int             `mapstructure:"max_hops"`
	TradeAmountLamports uint64          `mapstructure:"trade_amount_lamports"`
	MaxSameTokenRepeats int             `mapstructure:"max_same_token_repeats"`
	CycleIntervalMs     int             `mapstructure:"cycle_interval_ms"`
	CycleDeadlineMs     int             `mapstructure:"cycle_deadline_ms"`
	RefreshWorkers      int             `mapstructure:"refresh_workers"`
	RPCTimeoutMs        int             `mapstructure:"rpc_timeout_ms"`
	Retries             int             `mapstructure:"retries"`
	DebugLogging        bool            `mapstructure:"debug_logging"`
	LogFile             string          `mapstructure:"log_file"`
	JournalFile         string          `mapstructure:"journal_file"`
}

const (
	DefaultMinTVLUSD       = 400_000.0
	DefaultStalenessMs     = 5_000
	DefaultCooldownMs      = 30_000
	DefaultMaxHops         = 3
	DefaultCycleIntervalMs = 2_000
	DefaultCycleDeadlineMs = 10_000
	DefaultRefreshWorkers  = 10
	DefaultRPCTimeoutMs    = 3_000
	DefaultRetries         = 3
	DefaultMaxConcurrent   = 5
)

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	defaults := map[string]interface{}{
		"min_tvl_usd":                         DefaultMinTVLUSD,
		"staleness_ms":                        DefaultStalenessMs,
		"cooldown_ms":                         DefaultCooldownMs,
		"max_hops":                            DefaultMaxHops,
		"max_same_token_repeats":              1,
		"trade_amount_lamports":               10_000_000_000, // 10 SOL
		"cycle_interval_ms":                   DefaultCycleIntervalMs,
		"cycle_deadline_ms":                   DefaultCycleDeadlineMs,
		"refresh_workers":                     DefaultRefreshWorkers,
		"rpc_timeout_ms":                      DefaultRPCTimeoutMs,
		"retries":                             DefaultRetries,
		"jupiter_url":                         "https://quote-api.jup.ag/v6",
		"wallets_file":                        "configs/wallets.csv",
		"log_file":                            "logs/arb.log",
		"journal_file":                        "logs/trades.csv",
		"risk.min_trade_lamports":             100_000_000,     // 0.1 SOL
		"risk.max_trade_lamports":             100_000_000_000, // 100 SOL
		"risk.max_pool_share_pct":             5.0,
		"risk.base_threshold_bps":             50,
		"risk.volatility_index_high":          0.7,
		"risk.volatility_index_low":           0.2,
		"risk.high_vol_multiplier":            1.5,
		"risk.low_vol_multiplier":             0.8,
		"risk.daily_exposure_cap_lamports":    1_000_000_000_000,
		"risk.daily_loss_cap_lamports":        10_000_000_000,
		"execution.mev_protection":            true,
		"execution.jito_url":                  "https://mainnet.block-engine.jito.wtf",
		"execution.tip_floor_lamports":        100_000,
		"execution.tip_profit_fraction":       0.1,
		"execution.tip_cap_lamports":          1_000_000,
		"execution.amount_tolerance_lamports": 1,
		"execution.max_concurrent":            DefaultMaxConcurrent,
		"execution.fee_policy":                FeePolicyFixed,
		"execution.network_fee_lamports":      15_000,
		"execution.slippage_bps":              50,
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

	loadEnvironmentVariables(v, &cfg)

	return &cfg, validateConfig(&cfg)
}

// validateConfig отвергает недопустимую стартовую конфигурацию:
// это единственный класс фатальных ошибок, всё остальное локализуется в цикле.
func validateConfig(cfg *Config) error {
	if len(cfg.RPCList) == 0 {
		return errors.New("rpc_list is empty")
	}
	for _, rpcURL := range cfg.RPCList {
		if err := validateURL(rpcURL, "http"); err != nil {
			return fmt.Errorf("invalid RPC URL %q: %w", rpcURL, err)
		}
	}
	if err := validateURL(cfg.JupiterURL, "http"); err != nil {
		return fmt.Errorf("invalid jupiter_url: %w", err)
	}
	if len(cfg.Venues) == 0 {
		return errors.New("no venues configured")
	}
	for _, venue := range cfg.Venues {
		if venue.Name == "" {
			return errors.New("venue name cannot be empty")
		}
		if _, err := solana.PublicKeyFromBase58(venue.ProgramID); err != nil {
			return fmt.Errorf("unknown venue program id for %s: %w", venue.Name, err)
		}
		switch venue.Kind {
		case "constant_product_amm", "concentrated_liquidity_amm", "order_book", "dynamic_vault":
		default:
			return fmt.Errorf("unsupported venue kind %q for %s", venue.Kind, venue.Name)
		}
	}
	for _, addr := range cfg.WatchedPools {
		if _, err := solana.PublicKeyFromBase58(addr); err != nil {
			return fmt.Errorf("invalid watched pool address %q: %w", addr, err)
		}
	}
	return validateNumericParams(cfg)
}

func validateNumericParams(cfg *Config) error {
	if cfg.MinTVLUSD < 0 {
		return errors.New("invalid min_tvl_usd")
	}
	if cfg.StalenessMs <= 0 {
		return errors.New("invalid staleness_ms")
	}
	if cfg.CooldownMs <= 0 {
		return errors.New("invalid cooldown_ms")
	}
	if cfg.MaxHops < 2 || cfg.MaxHops > 4 {
		return errors.New("max_hops must be between 2 and 4")
	}
	if cfg.CycleDeadlineMs <= 0 || cfg.CycleIntervalMs <= 0 {
		return errors.New("invalid cycle timing")
	}
	if cfg.RefreshWorkers <= 0 {
		return errors.New("invalid refresh_workers")
	}
	if cfg.Retries < 0 {
		return errors.New("invalid retries count")
	}
	if cfg.Risk.MinTradeLamports == 0 || cfg.Risk.MaxTradeLamports <= cfg.Risk.MinTradeLamports {
		return errors.New("invalid trade size bounds")
	}
	if cfg.TradeAmountLamports == 0 {
		return errors.New("invalid trade_amount_lamports")
	}
	if cfg.Risk.MaxPoolSharePct <= 0 || cfg.Risk.MaxPoolSharePct > 100 {
		return errors.New("invalid max_pool_share_pct")
	}
	if cfg.Execution.MaxConcurrent <= 0 {
		return errors.New("invalid execution.max_concurrent")
	}
	if cfg.Execution.FeePolicy != FeePolicyFixed && cfg.Execution.FeePolicy != FeePolicySimulated {
		return errors.New("execution.fee_policy must be fixed or simulated")
	}
	if cfg.Execution.TipProfitFraction < 0 || cfg.Execution.TipProfitFraction > 1 {
		return errors.New("invalid execution.tip_profit_fraction")
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

func loadEnvironmentVariables(v *viper.Viper, cfg *Config) {
	v.AutomaticEnv()
	v.SetEnvPrefix("SOLANA_ARB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

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

	envJito := v.GetString("JITO_URL")
	if envJito != "" {
		cfg.Execution.JitoURL = envJito
	}
}

// Staleness возвращает окно актуальности данных пула.
func (c *Config) Staleness() time.Duration { return time.Duration(c.StalenessMs) * time.Millisecond }

// Cooldown возвращает окно охлаждения анти-циркулярного кеша.
func (c *Config) Cooldown() time.Duration { return time.Duration(c.CooldownMs) * time.Millisecond }

// CycleDeadline возвращает дедлайн одного цикла обнаружения.
func (c *Config) CycleDeadline() time.Duration {
	return time.Duration(c.CycleDeadlineMs) * time.Millisecond
}

// CycleInterval возвращает паузу между циклами.
func (c *Config) CycleInterval() time.Duration {
	return time.Duration(c.CycleIntervalMs) * time.Millisecond
}

// RPCTimeout возвращает таймаут одного сетевого вызова.
func (c *Config) RPCTimeout() time.Duration { return time.Duration(c.RPCTimeoutMs) * time.Millisecond }
