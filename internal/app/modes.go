package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oddlane/traderd/internal/consensus"
	"github.com/oddlane/traderd/internal/domain"
	"github.com/oddlane/traderd/internal/market"
	"github.com/oddlane/traderd/internal/pipeline"
	"github.com/oddlane/traderd/internal/policy"
)

// cycleLockKey serializes trading cycles of this replica across restarts.
const cycleLockKey = "trade_cycle"

// refillWait is how long the agent sleeps after a cycle ends in
// refill_required before checking the wallet again.
const refillWait = 5 * time.Minute

// TradeMode runs the decision cycle in a loop: refresh markets, agree on a
// bet, trade it, settle, redeem. The loop continues until the context is
// cancelled.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Bus.Start(ctx)
	})

	p := pipelineParams(a.cfg)
	graph, rounds, err := pipeline.NewTradeGraph(p)
	if err != nil {
		return fmt.Errorf("trade mode: %w", err)
	}

	pd := pipeline.Deps{
		Ledger:    deps.Ledger,
		Policy:    deps.Policy,
		Sizers:    deps.Sizers,
		Market:    deps.Market,
		Mech:      deps.Mech,
		Chain:     deps.Chain,
		Submitter: deps.Submitter,
		Blobs:     deps.Blobs,
		Logger:    slog.Default(),
	}
	behaviours := []pipeline.Behaviour{
		pipeline.NewUpdateBetsBehaviour(p, pd),
		pipeline.NewSamplingBehaviour(p, pd),
		pipeline.NewToolSelectionBehaviour(p, pd),
		pipeline.NewDecisionRequestBehaviour(p, pd),
		pipeline.NewDecisionReceiveBehaviour(p, pd),
		pipeline.NewBetPlacementBehaviour(p, pd),
		pipeline.NewSettlementBehaviour(p, pd),
		pipeline.NewRedeemBehaviour(p, pd),
		pipeline.NewBlacklistingBehaviour(p, pd),
		pipeline.NewHandleFailedTxBehaviour(p, pd),
	}
	rt, err := pipeline.NewRuntime(graph, rounds, behaviours, deps.Bus, p.RoundTimeout, slog.Default())
	if err != nil {
		return fmt.Errorf("trade mode: %w", err)
	}

	// Live price refreshes for the bets already in the ledger. Updates are
	// buffered and folded in between cycles so the collection never moves
	// under an in-flight round; new markets picked up later are refreshed on
	// the next cycle's full fetch.
	updates := market.NewUpdateBuffer()
	if a.cfg.Markets.WsURL != "" {
		if ids := a.streamMarketIDs(deps); len(ids) > 0 {
			stream := market.NewStream(a.cfg.Markets.WsURL, ids, updates.Handler(), slog.Default())
			g.Go(func() error {
				defer stream.Close()
				return stream.Run(ctx)
			})
		}
	}

	g.Go(func() error {
		return a.runTradeLoop(ctx, deps, rt, updates)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// runTradeLoop drives decision cycles back to back, persisting agreed state
// after each one.
func (a *App) runTradeLoop(ctx context.Context, deps *Dependencies, rt *pipeline.Runtime, updates *market.UpdateBuffer) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		unlock, err := deps.Lock.Acquire(ctx, cycleLockKey, 2*a.cfg.Agent.RoundTimeout.Duration)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				a.logger.WarnContext(ctx, "cycle lock held elsewhere, waiting")
				if serr := sleepCtx(ctx, a.cfg.Agent.RetryInterval.Duration); serr != nil {
					return serr
				}
				continue
			}
			return fmt.Errorf("trade loop: acquire cycle lock: %w", err)
		}

		// Streamed prices land between cycles, never mid-round.
		for _, update := range updates.Drain() {
			a.applyPriceUpdate(ctx, deps, update)
		}

		// A cycle that dies between rounds leaves half-applied ledger
		// mutations; the snapshot transaction reverts them.
		if err := deps.Ledger.Begin(); err != nil {
			unlock()
			return fmt.Errorf("trade loop: %w", err)
		}
		terminal, err := rt.RunCycle(ctx)
		unlock()
		if err != nil {
			if rbErr := deps.Ledger.Rollback(); rbErr != nil {
				a.logger.ErrorContext(ctx, "ledger rollback failed", slog.String("error", rbErr.Error()))
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("trade loop: %w", err)
		}
		if err := deps.Ledger.Commit(); err != nil {
			return fmt.Errorf("trade loop: %w", err)
		}

		a.persistCycleState(ctx, deps)

		switch terminal {
		case pipeline.RoundRefillRequired:
			a.logger.ErrorContext(ctx, "wallet cannot cover the agreed bet, waiting for refill",
				slog.Duration("wait", refillWait))
			if err := sleepCtx(ctx, refillWait); err != nil {
				return err
			}
		case pipeline.RoundImpossible:
			a.logger.ErrorContext(ctx, "cycle ended in an unrecoverable state, restarting from a fresh fetch")
			if err := sleepCtx(ctx, a.cfg.Agent.RetryInterval.Duration); err != nil {
				return err
			}
		default:
			a.logger.InfoContext(ctx, "cycle complete", slog.String("terminal", string(terminal)))
		}
	}
}

// BenchmarkMode replays the recorded dataset against the current market set
// and reports how the strategy would have traded. It exits after one full
// benchmark cycle.
func (a *App) BenchmarkMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting benchmark mode",
		slog.String("dataset", a.cfg.Benchmark.DatasetPath))

	dataset, err := pipeline.LoadDataset(a.cfg.Benchmark.DatasetPath)
	if err != nil {
		return fmt.Errorf("benchmark mode: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return deps.Bus.Start(ctx)
	})

	p := pipelineParams(a.cfg)
	graph, rounds, err := pipeline.NewBenchmarkGraph(p)
	if err != nil {
		return fmt.Errorf("benchmark mode: %w", err)
	}

	pd := pipeline.Deps{
		Ledger: deps.Ledger,
		Policy: deps.Policy,
		Sizers: deps.Sizers,
		Market: deps.Market,
		Blobs:  deps.Blobs,
		Logger: slog.Default(),
	}
	behaviours := []pipeline.Behaviour{
		pipeline.NewUpdateBetsBehaviour(p, pd),
		pipeline.NewSamplingBehaviour(p, pd),
		pipeline.NewToolSelectionBehaviour(p, pd),
		pipeline.NewBenchmarkingBehaviour(p, pd, dataset),
	}
	rt, err := pipeline.NewRuntime(graph, rounds, behaviours, deps.Bus, p.RoundTimeout, slog.Default())
	if err != nil {
		return fmt.Errorf("benchmark mode: %w", err)
	}

	g.Go(func() error {
		defer cancel()
		terminal, err := rt.RunCycle(ctx)
		if err != nil {
			return fmt.Errorf("benchmark mode: %w", err)
		}
		a.persistCycleState(ctx, deps)
		a.reportBenchmark(ctx, deps, terminal)
		return nil
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// reportBenchmark summarizes what the replayed dataset would have traded.
func (a *App) reportBenchmark(ctx context.Context, deps *Dependencies, terminal consensus.RoundID) {
	var benchmarked, placed int
	var invested int64
	for _, bet := range deps.Ledger.Bets() {
		if bet.QueueStatus != domain.QueueBenchmarkingDone {
			continue
		}
		benchmarked++
		if amount := bet.InvestedAmount(); amount > 0 {
			placed++
			invested += amount
		}
	}
	a.logger.InfoContext(ctx, "benchmark finished",
		slog.String("terminal", string(terminal)),
		slog.Int("bets_benchmarked", benchmarked),
		slog.Int("bets_placed", placed),
		slog.Int64("total_invested", invested),
	)
}

// persistCycleState mirrors the in-memory ledger and policy into the durable
// stores. Failures are logged, not fatal: consensus state lives in memory and
// in the blob store, the database is a mirror for restarts.
func (a *App) persistCycleState(ctx context.Context, deps *Dependencies) {
	if err := deps.BetStore.UpsertBets(ctx, deps.Ledger.Bets()); err != nil {
		a.logger.ErrorContext(ctx, "persisting bets failed", slog.String("error", err.Error()))
	}

	raw, err := deps.Policy.Serialize()
	if err != nil {
		a.logger.ErrorContext(ctx, "serializing policy failed", slog.String("error", err.Error()))
		return
	}
	if err := deps.PolicyStore.SaveSnapshot(ctx, a.cfg.Committee.Sender, raw); err != nil {
		a.logger.ErrorContext(ctx, "persisting policy snapshot failed", slog.String("error", err.Error()))
	}

	snapshot := make(map[string]policy.AccuracyInfo, len(deps.Policy.AccuracyStore))
	for tool, info := range deps.Policy.AccuracyStore {
		snapshot[tool] = *info
	}
	if err := deps.Accuracy.Put(ctx, a.cfg.Committee.Sender, snapshot); err != nil {
		a.logger.WarnContext(ctx, "publishing accuracy snapshot failed", slog.String("error", err.Error()))
	}
}

// streamMarketIDs returns the market ids worth subscribing to: anything not
// blacklisted forever.
func (a *App) streamMarketIDs(deps *Dependencies) []string {
	bets := deps.Ledger.Bets()
	ids := make([]string, 0, len(bets))
	for _, bet := range bets {
		if bet.BlacklistedForever() {
			continue
		}
		ids = append(ids, bet.ID)
	}
	return ids
}

// applyPriceUpdate folds a buffered stream refresh into the ledger.
func (a *App) applyPriceUpdate(ctx context.Context, deps *Dependencies, update market.PriceUpdate) {
	err := deps.Ledger.Mutate(update.MarketID, func(bet *domain.Bet) {
		if bet.BlacklistedForever() {
			return
		}
		bet.OutcomeTokenAmounts = update.OutcomeTokenAmounts
		bet.OutcomePrices = update.OutcomePrices
		bet.ScaledLiquidity = update.ScaledLiquidity
	})
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		a.logger.WarnContext(ctx, "applying price update failed",
			slog.String("market_id", update.MarketID),
			slog.String("error", err.Error()))
	}
}

// sleepCtx sleeps for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
