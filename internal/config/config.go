// Package config defines the top-level configuration for the trading agent
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by TRADERD_* environment
// variables.
type Config struct {
	Agent     AgentConfig     `toml:"agent"`
	Wallet    WalletConfig    `toml:"wallet"`
	Committee CommitteeConfig `toml:"committee"`
	Strategy  StrategyConfig  `toml:"strategy"`
	Policy    PolicyConfig    `toml:"policy"`
	Markets   MarketsConfig   `toml:"markets"`
	Mech      MechConfig      `toml:"mech"`
	Chain     ChainConfig     `toml:"chain"`
	Database  DatabaseConfig  `toml:"database"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Benchmark BenchmarkConfig `toml:"benchmark"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// AgentConfig holds the trading identity and decision tunables.
type AgentConfig struct {
	// Address is the wallet the agent trades from.
	Address string `toml:"address"`
	// CollateralToken is the ERC-20 funding the bets.
	CollateralToken string `toml:"collateral_token"`
	// ConditionalTokens is the contract winnings are redeemed from.
	ConditionalTokens string `toml:"conditional_tokens"`
	// SafetyMargin keeps the agent away from markets about to open.
	SafetyMargin duration `toml:"safety_margin"`
	// BetThreshold is the minimum winnings over the bet amount, in the
	// smallest collateral unit.
	BetThreshold int64 `toml:"bet_threshold"`
	// MultiBetMode promotes fresh bets only as a full cohort.
	MultiBetMode bool `toml:"multi_bet_mode"`
	// RoundTimeout is the per-round consensus deadline.
	RoundTimeout duration `toml:"round_timeout"`
	// RetryInterval is the sleep between retries inside a round.
	RetryInterval duration `toml:"retry_interval"`
}

// WalletConfig holds the signing key for settlement transactions.
type WalletConfig struct {
	// PrivateKey is the hex-encoded ECDSA key, without 0x prefix.
	PrivateKey string `toml:"private_key"`
}

// CommitteeConfig identifies this replica within the consensus committee.
type CommitteeConfig struct {
	// Sender is this replica's unique identifier in consensus payloads.
	Sender string `toml:"sender"`
	// Replicas is the committee size.
	Replicas int `toml:"replicas"`
}

// StrategyConfig selects and tunes the bet sizing strategy.
type StrategyConfig struct {
	// Name is "kelly_criterion" or "bet_amount_per_threshold".
	Name string `toml:"name"`
	// KellyFraction scales the raw Kelly amount, in (0, 1].
	KellyFraction float64 `toml:"kelly_fraction"`
	// FloorBalance is kept untouched in the bankroll.
	FloorBalance int64 `toml:"floor_balance"`
	// MaxBet caps a single bet; zero uses the built-in cap.
	MaxBet int64 `toml:"max_bet"`
	// ThresholdAmounts maps confidence buckets ("0.6", "0.7", ...) to bet
	// amounts for the per-threshold strategy.
	ThresholdAmounts map[string]int64 `toml:"threshold_amounts"`
}

// PolicyConfig tunes the epsilon-greedy tool selection.
type PolicyConfig struct {
	Epsilon           float64  `toml:"epsilon"`
	FailuresThreshold int      `toml:"failures_threshold"`
	Quarantine        duration `toml:"quarantine"`
	Tools             []string `toml:"tools"`
	// MergeOffset is the recency slack when merging peers' accuracy
	// snapshots on first start.
	MergeOffset duration `toml:"merge_offset"`
}

// MarketsConfig holds the market data endpoints and filters.
type MarketsConfig struct {
	SubgraphURL string   `toml:"subgraph_url"`
	WsURL       string   `toml:"ws_url"`
	Creators    []string `toml:"creators"`
	Languages   []string `toml:"languages"`
	First       int      `toml:"first"`
}

// MechConfig holds the prediction tool marketplace endpoint.
type MechConfig struct {
	BaseURL string   `toml:"base_url"`
	Timeout duration `toml:"timeout"`
}

// ChainConfig holds the EVM RPC endpoint and chain identity.
type ChainConfig struct {
	RPCURL  string `toml:"rpc_url"`
	ChainID int64  `toml:"chain_id"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// BenchmarkConfig holds benchmark-mode parameters.
type BenchmarkConfig struct {
	// DatasetPath is the CSV file of pre-recorded tool responses.
	DatasetPath string `toml:"dataset_path"`
}

// duration wraps time.Duration so the TOML decoder accepts strings like
// "5m" or "30s".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Agent: AgentConfig{
			SafetyMargin:  duration{2 * time.Hour},
			BetThreshold:  100_000_000_000_000_000,
			RoundTimeout:  duration{2 * time.Minute},
			RetryInterval: duration{3 * time.Second},
		},
		Committee: CommitteeConfig{
			Replicas: 4,
		},
		Strategy: StrategyConfig{
			Name:          "kelly_criterion",
			KellyFraction: 0.25,
		},
		Policy: PolicyConfig{
			Epsilon:           0.1,
			FailuresThreshold: 5,
			Quarantine:        duration{24 * time.Hour},
			MergeOffset:       duration{time.Hour},
		},
		Markets: MarketsConfig{
			First:     1000,
			Languages: []string{"en_US"},
		},
		Mech: MechConfig{
			Timeout: duration{30 * time.Second},
		},
		Chain: ChainConfig{
			ChainID: 100,
		},
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "traderd",
			User:          "traderd",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "traderd-ledgers",
			ForcePathStyle: true,
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":     true,
	"benchmark": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, benchmark)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Committee.Sender == "" {
		errs = append(errs, "committee: sender must not be empty")
	}
	if c.Committee.Replicas < 1 {
		errs = append(errs, "committee: replicas must be >= 1")
	}

	if c.Agent.SafetyMargin.Duration <= 0 {
		errs = append(errs, "agent: safety_margin must be positive")
	}
	if c.Agent.BetThreshold < 0 {
		errs = append(errs, "agent: bet_threshold must not be negative")
	}

	trading := strings.ToLower(c.Mode) == "trade"
	if trading {
		if c.Agent.Address == "" {
			errs = append(errs, "agent: address is required for trade mode")
		}
		if c.Agent.CollateralToken == "" {
			errs = append(errs, "agent: collateral_token is required for trade mode")
		}
		if c.Wallet.PrivateKey == "" {
			errs = append(errs, "wallet: private_key is required for trade mode")
		}
		if c.Chain.RPCURL == "" {
			errs = append(errs, "chain: rpc_url is required for trade mode")
		}
		if c.Chain.ChainID <= 0 {
			errs = append(errs, "chain: chain_id must be positive")
		}
		if c.Mech.BaseURL == "" {
			errs = append(errs, "mech: base_url is required for trade mode")
		}
	} else if c.Benchmark.DatasetPath == "" {
		errs = append(errs, "benchmark: dataset_path is required for benchmark mode")
	}

	switch c.Strategy.Name {
	case "kelly_criterion":
		if c.Strategy.KellyFraction <= 0 || c.Strategy.KellyFraction > 1 {
			errs = append(errs, fmt.Sprintf("strategy: kelly_fraction must be in (0, 1], got %v", c.Strategy.KellyFraction))
		}
	case "bet_amount_per_threshold":
		if len(c.Strategy.ThresholdAmounts) == 0 {
			errs = append(errs, "strategy: threshold_amounts must not be empty for bet_amount_per_threshold")
		}
	default:
		errs = append(errs, fmt.Sprintf("strategy: unknown name %q (valid: kelly_criterion, bet_amount_per_threshold)", c.Strategy.Name))
	}

	if c.Policy.Epsilon < 0 || c.Policy.Epsilon > 1 {
		errs = append(errs, fmt.Sprintf("policy: epsilon must be in [0, 1], got %v", c.Policy.Epsilon))
	}
	if len(c.Policy.Tools) == 0 {
		errs = append(errs, "policy: at least one tool must be configured")
	}

	if c.Markets.SubgraphURL == "" {
		errs = append(errs, "markets: subgraph_url must not be empty")
	}
	if c.Markets.First <= 0 {
		errs = append(errs, "markets: first must be positive")
	}

	if strings.TrimSpace(c.Database.DSN) == "" {
		if c.Database.Host == "" {
			errs = append(errs, "database: host must not be empty (or set database.dsn)")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.Database == "" {
			errs = append(errs, "database: database must not be empty")
		}
	}
	if c.Database.PoolMaxConns < 1 {
		errs = append(errs, "database: pool_max_conns must be >= 1")
	}
	if c.Database.PoolMinConns < 0 {
		errs = append(errs, "database: pool_min_conns must be >= 0")
	}
	if c.Database.PoolMinConns > c.Database.PoolMaxConns {
		errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.S3.Endpoint == "" {
		errs = append(errs, "s3: endpoint must not be empty")
	}
	if c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
