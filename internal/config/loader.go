package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads configuration from the given TOML file, layered on Defaults(),
// and applies TRADERD_* environment overrides on top. A missing .env file is
// not an error. The returned Config has already been validated.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	cfg.Mode = strings.ToLower(cfg.Mode)
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnvOverrides maps TRADERD_* environment variables onto the config.
// Environment values take precedence over the file.
func applyEnvOverrides(cfg *Config) {
	setStr("TRADERD_MODE", &cfg.Mode)
	setStr("TRADERD_LOG_LEVEL", &cfg.LogLevel)

	setStr("TRADERD_AGENT_ADDRESS", &cfg.Agent.Address)
	setStr("TRADERD_COLLATERAL_TOKEN", &cfg.Agent.CollateralToken)
	setStr("TRADERD_CONDITIONAL_TOKENS", &cfg.Agent.ConditionalTokens)
	setDuration("TRADERD_SAFETY_MARGIN", &cfg.Agent.SafetyMargin)
	setInt64("TRADERD_BET_THRESHOLD", &cfg.Agent.BetThreshold)
	setBool("TRADERD_MULTI_BET_MODE", &cfg.Agent.MultiBetMode)
	setDuration("TRADERD_ROUND_TIMEOUT", &cfg.Agent.RoundTimeout)
	setDuration("TRADERD_RETRY_INTERVAL", &cfg.Agent.RetryInterval)

	setStr("TRADERD_SENDER", &cfg.Committee.Sender)
	setInt("TRADERD_REPLICAS", &cfg.Committee.Replicas)

	setStr("TRADERD_STRATEGY", &cfg.Strategy.Name)
	setFloat64("TRADERD_KELLY_FRACTION", &cfg.Strategy.KellyFraction)
	setInt64("TRADERD_FLOOR_BALANCE", &cfg.Strategy.FloorBalance)
	setInt64("TRADERD_MAX_BET", &cfg.Strategy.MaxBet)

	setFloat64("TRADERD_POLICY_EPSILON", &cfg.Policy.Epsilon)
	setInt("TRADERD_POLICY_FAILURES_THRESHOLD", &cfg.Policy.FailuresThreshold)
	setDuration("TRADERD_POLICY_QUARANTINE", &cfg.Policy.Quarantine)
	setStringSlice("TRADERD_POLICY_TOOLS", &cfg.Policy.Tools)

	setStr("TRADERD_SUBGRAPH_URL", &cfg.Markets.SubgraphURL)
	setStr("TRADERD_MARKETS_WS_URL", &cfg.Markets.WsURL)
	setStringSlice("TRADERD_MARKET_CREATORS", &cfg.Markets.Creators)
	setStringSlice("TRADERD_MARKET_LANGUAGES", &cfg.Markets.Languages)
	setInt("TRADERD_MARKETS_FIRST", &cfg.Markets.First)

	setStr("TRADERD_MECH_BASE_URL", &cfg.Mech.BaseURL)
	setDuration("TRADERD_MECH_TIMEOUT", &cfg.Mech.Timeout)

	setStr("TRADERD_PRIVATE_KEY", &cfg.Wallet.PrivateKey)

	setStr("TRADERD_RPC_URL", &cfg.Chain.RPCURL)
	setInt64("TRADERD_CHAIN_ID", &cfg.Chain.ChainID)

	setStr("TRADERD_DB_DSN", &cfg.Database.DSN)
	setStr("TRADERD_DB_HOST", &cfg.Database.Host)
	setInt("TRADERD_DB_PORT", &cfg.Database.Port)
	setStr("TRADERD_DB_NAME", &cfg.Database.Database)
	setStr("TRADERD_DB_USER", &cfg.Database.User)
	setStr("TRADERD_DB_PASSWORD", &cfg.Database.Password)
	setStr("TRADERD_DB_SSL_MODE", &cfg.Database.SSLMode)
	setBool("TRADERD_DB_RUN_MIGRATIONS", &cfg.Database.RunMigrations)

	setStr("TRADERD_REDIS_ADDR", &cfg.Redis.Addr)
	setStr("TRADERD_REDIS_PASSWORD", &cfg.Redis.Password)
	setInt("TRADERD_REDIS_DB", &cfg.Redis.DB)
	setBool("TRADERD_REDIS_TLS", &cfg.Redis.TLSEnabled)

	setStr("TRADERD_S3_ENDPOINT", &cfg.S3.Endpoint)
	setStr("TRADERD_S3_REGION", &cfg.S3.Region)
	setStr("TRADERD_S3_BUCKET", &cfg.S3.Bucket)
	setStr("TRADERD_S3_ACCESS_KEY", &cfg.S3.AccessKey)
	setStr("TRADERD_S3_SECRET_KEY", &cfg.S3.SecretKey)

	setStr("TRADERD_BENCHMARK_DATASET", &cfg.Benchmark.DatasetPath)
}

func setStr(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(key string, dst *int) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(key string, dst *int64) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(key string, dst *float64) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(key string, dst *bool) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(key string, dst *duration) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(key string, dst *[]string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			*dst = out
		}
	}
}
