package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/oddlane/traderd/internal/consensus"
	"github.com/oddlane/traderd/internal/domain"
	"github.com/oddlane/traderd/internal/ledger"
	"github.com/oddlane/traderd/internal/market"
)

// UpdateBetsBehaviour refreshes the ledger from the market source, sweeps
// queue freshness, blacklists expiring markets, and persists the result as a
// content-addressed blob. The payload carries only the blob hash; the
// replicas agree on bets by agreeing on the hash.
type UpdateBetsBehaviour struct {
	params Params
	ledger *ledger.Ledger
	source market.Source
	blobs  BlobStore
	logger *slog.Logger
}

// NewUpdateBetsBehaviour builds the behaviour.
func NewUpdateBetsBehaviour(p Params, deps Deps) *UpdateBetsBehaviour {
	return &UpdateBetsBehaviour{
		params: p,
		ledger: deps.Ledger,
		source: deps.Market,
		blobs:  deps.Blobs,
		logger: deps.Logger.With(slog.String("component", "update_bets")),
	}
}

// RoundID implements Behaviour.
func (b *UpdateBetsBehaviour) RoundID() consensus.RoundID { return RoundUpdateBets }

// Execute implements Behaviour. A failed fetch publishes a null payload so
// the cohort agrees to retry rather than diverging on stale data.
func (b *UpdateBetsBehaviour) Execute(ctx context.Context, _ *consensus.SynchronizedData) (*consensus.Payload, error) {
	filters := b.params.MarketFilters
	if filters.OpeningAfter.IsZero() {
		filters.OpeningAfter = time.Now().Add(b.params.SafetyMargin)
	}

	var snapshots []domain.Bet
	err := waitFor(ctx, b.params.RetryInterval, func(ctx context.Context) error {
		var ferr error
		snapshots, ferr = b.source.FetchMarkets(ctx, filters)
		if ferr != nil {
			b.logger.Warn("market fetch failed, retrying", slog.String("error", ferr.Error()))
		}
		return ferr
	})
	if err != nil {
		return consensus.NewPayload(b.params.Sender, RoundUpdateBets, map[string]any{
			consensus.KeyBetsHash: nil,
		})
	}

	b.ledger.Upsert(snapshots)
	expired := b.ledger.BlacklistExpired(time.Now(), b.params.SafetyMargin)
	promoted := b.ledger.SweepFreshness(b.params.MultiBetMode)

	raw, err := b.ledger.Serialize()
	if err != nil {
		return nil, err
	}
	hash, err := b.ledger.Hash()
	if err != nil {
		return nil, err
	}
	if err := b.blobs.Put(ctx, hash, raw); err != nil {
		b.logger.Warn("persisting ledger blob failed", slog.String("error", err.Error()))
		return consensus.NewPayload(b.params.Sender, RoundUpdateBets, map[string]any{
			consensus.KeyBetsHash: nil,
		})
	}

	b.logger.Info("ledger refreshed",
		slog.Int("markets", len(snapshots)),
		slog.Int("expired", expired),
		slog.Int("promoted", promoted),
		slog.String("bets_hash", hash))

	return consensus.NewPayload(b.params.Sender, RoundUpdateBets, map[string]any{
		consensus.KeyBetsHash: hash,
	})
}
