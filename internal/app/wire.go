package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/oddlane/traderd/internal/blob/s3"
	"github.com/oddlane/traderd/internal/cache/redis"
	"github.com/oddlane/traderd/internal/chain"
	"github.com/oddlane/traderd/internal/config"
	"github.com/oddlane/traderd/internal/consensus"
	"github.com/oddlane/traderd/internal/ledger"
	"github.com/oddlane/traderd/internal/market"
	"github.com/oddlane/traderd/internal/mech"
	"github.com/oddlane/traderd/internal/pipeline"
	"github.com/oddlane/traderd/internal/policy"
	"github.com/oddlane/traderd/internal/store/postgres"
	"github.com/oddlane/traderd/internal/strategy"
	"github.com/oddlane/traderd/internal/txsubmit"
)

// accuracyTTL bounds how long a replica's accuracy snapshot stays visible to
// peers that restart.
const accuracyTTL = 7 * 24 * time.Hour

// Dependencies bundles everything the operating modes need. It is built by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Ledger *ledger.Ledger
	Policy *policy.Policy
	Sizers *strategy.Registry

	Market    market.Source
	Mech      mech.Client
	Chain     chain.Client
	Submitter txsubmit.Submitter
	Blobs     pipeline.BlobStore

	Bus      *redis.PayloadBus
	Lock     *redis.CycleLock
	Accuracy *redis.AccuracyCache

	BetStore    *postgres.BetStore
	PolicyStore *postgres.PolicyStore
}

// Wire constructs the concrete dependency implementations from the given
// configuration. The caller must invoke the returned cleanup function on
// shutdown.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.PoolMaxConns,
		MinConns: cfg.Database.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Database.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}
	deps.BetStore = postgres.NewBetStore(pgClient.Pool())
	deps.PolicyStore = postgres.NewPolicyStore(pgClient.Pool())

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Bus = redis.NewPayloadBus(redisClient, logger)
	deps.Lock = redis.NewCycleLock(redisClient)
	deps.Accuracy = redis.NewAccuracyCache(redisClient, accuracyTTL)

	// --- S3 ledger blobs ---
	s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
		Endpoint:       cfg.S3.Endpoint,
		Region:         cfg.S3.Region,
		Bucket:         cfg.S3.Bucket,
		AccessKey:      cfg.S3.AccessKey,
		SecretKey:      cfg.S3.SecretKey,
		UseSSL:         cfg.S3.UseSSL,
		ForcePathStyle: cfg.S3.ForcePathStyle,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: s3: %w", err)
	}
	closers = append(closers, func() { _ = s3Client.Close() })
	deps.Blobs = s3blob.NewStore(s3Client)

	// --- Ledger, policy, sizers ---
	deps.Ledger = ledger.New(logger)
	if bets, err := deps.BetStore.ListBets(ctx); err != nil {
		logger.WarnContext(ctx, "wire: loading persisted bets failed, starting empty",
			slog.String("error", err.Error()))
	} else if len(bets) > 0 {
		deps.Ledger.Upsert(bets)
		logger.InfoContext(ctx, "wire: restored bets from store", slog.Int("count", len(bets)))
	}

	deps.Policy, err = restorePolicy(ctx, cfg, deps, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	deps.Sizers = strategy.NewRegistry()
	deps.Sizers.Register(&strategy.KellyCriterion{
		Fraction:     cfg.Strategy.KellyFraction,
		FloorBalance: cfg.Strategy.FloorBalance,
		MaxBet:       cfg.Strategy.MaxBet,
	})
	if len(cfg.Strategy.ThresholdAmounts) > 0 {
		deps.Sizers.Register(&strategy.AmountPerThreshold{Amounts: cfg.Strategy.ThresholdAmounts})
	}

	// --- Market data ---
	deps.Market = market.NewSubgraphClient(cfg.Markets.SubgraphURL)

	// --- Trade-mode collaborators: chain, mech, transaction submission ---
	if cfg.Mode == "trade" {
		rpcClient, err := chain.NewRPCClient(ctx, cfg.Chain.RPCURL, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: chain: %w", err)
		}
		closers = append(closers, rpcClient.Close)
		deps.Chain = rpcClient

		deps.Mech = mech.NewHTTPClient(cfg.Mech.BaseURL).WithTimeout(cfg.Mech.Timeout.Duration)

		submitter, err := txsubmit.NewEthSubmitter(rpcClient.Eth(), cfg.Wallet.PrivateKey, cfg.Chain.ChainID, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: submitter: %w", err)
		}
		deps.Submitter = txsubmit.NewIdempotent(submitter, cfg.Agent.RetryInterval.Duration, cfg.Agent.RoundTimeout.Duration, logger)
	}

	return deps, cleanup, nil
}

// restorePolicy rebuilds the selection policy from the local snapshot when
// one exists, then folds in peers' accuracy caches. Remote state only applies
// before the policy records its first own response.
func restorePolicy(ctx context.Context, cfg *config.Config, deps *Dependencies, logger *slog.Logger) (*policy.Policy, error) {
	var p *policy.Policy

	snapshots, err := deps.PolicyStore.LoadSnapshots(ctx)
	if err != nil {
		logger.WarnContext(ctx, "wire: loading policy snapshots failed, starting fresh",
			slog.String("error", err.Error()))
	} else if raw, ok := snapshots[cfg.Committee.Sender]; ok {
		p, err = policy.Deserialize(raw)
		if err != nil {
			logger.WarnContext(ctx, "wire: persisted policy snapshot is unreadable, starting fresh",
				slog.String("error", err.Error()))
			p = nil
		}
	}

	if p == nil {
		p, err = policy.New(cfg.Policy.Epsilon, cfg.Policy.FailuresThreshold, cfg.Policy.Quarantine.Duration, cfg.Policy.Tools)
		if err != nil {
			return nil, fmt.Errorf("wire: policy: %w", err)
		}
	}
	p.EnsureTools(cfg.Policy.Tools)

	remote, err := deps.Accuracy.All(ctx)
	if err != nil {
		logger.WarnContext(ctx, "wire: reading peer accuracy failed, skipping merge",
			slog.String("error", err.Error()))
		return p, nil
	}
	for sender, snapshot := range remote {
		if sender == cfg.Committee.Sender {
			continue
		}
		p.MergeRemote(snapshot, cfg.Policy.MergeOffset.Duration)
	}
	return p, nil
}

// pipelineParams translates the configuration into round parameters.
func pipelineParams(cfg *config.Config) pipeline.Params {
	return pipeline.Params{
		Sender:       cfg.Committee.Sender,
		Committee:    consensus.NewCommittee(cfg.Committee.Replicas),
		SafetyMargin: cfg.Agent.SafetyMargin.Duration,
		BetThreshold: cfg.Agent.BetThreshold,
		MultiBetMode: cfg.Agent.MultiBetMode,
		MarketFilters: market.Filters{
			Creators:  cfg.Markets.Creators,
			Languages: cfg.Markets.Languages,
			First:     cfg.Markets.First,
		},
		Strategy:          cfg.Strategy.Name,
		AgentAddress:      common.HexToAddress(cfg.Agent.Address),
		CollateralToken:   common.HexToAddress(cfg.Agent.CollateralToken),
		ConditionalTokens: common.HexToAddress(cfg.Agent.ConditionalTokens),
		RoundTimeout:      cfg.Agent.RoundTimeout.Duration,
		RetryInterval:     cfg.Agent.RetryInterval.Duration,
	}
}
