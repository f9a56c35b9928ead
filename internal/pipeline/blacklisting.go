package pipeline

import (
	"context"
	"log/slog"

	"github.com/oddlane/traderd/internal/consensus"
	"github.com/oddlane/traderd/internal/domain"
	"github.com/oddlane/traderd/internal/ledger"
)

// BlacklistingBehaviour takes the sampled bet out of circulation after a
// cycle that decided not to trade it. A tie or an unprofitable quote only
// re-queues the bet for a later pass; a permanently broken bet is removed
// for good by the failed-transaction vote before this round runs.
type BlacklistingBehaviour struct {
	params Params
	ledger *ledger.Ledger
	blobs  BlobStore
	logger *slog.Logger
}

// NewBlacklistingBehaviour builds the behaviour.
func NewBlacklistingBehaviour(p Params, deps Deps) *BlacklistingBehaviour {
	return &BlacklistingBehaviour{
		params: p,
		ledger: deps.Ledger,
		blobs:  deps.Blobs,
		logger: deps.Logger.With(slog.String("component", "blacklisting")),
	}
}

// RoundID implements Behaviour.
func (b *BlacklistingBehaviour) RoundID() consensus.RoundID { return RoundBlacklisting }

// Execute implements Behaviour.
func (b *BlacklistingBehaviour) Execute(ctx context.Context, data *consensus.SynchronizedData) (*consensus.Payload, error) {
	betID, err := data.String(consensus.KeySampledBetIndex)
	if err != nil {
		return nil, err
	}

	if err := b.ledger.Requeue(betID); err != nil {
		b.logger.Warn("sampled bet vanished before blacklisting",
			slog.String("bet_id", betID), slog.String("error", err.Error()))
		return b.nullPayload()
	}
	b.logger.Info("bet re-queued for a later pass", slog.String("bet_id", betID))

	raw, err := b.ledger.Serialize()
	if err != nil {
		return nil, err
	}
	hash, err := b.ledger.Hash()
	if err != nil {
		return nil, err
	}
	if err := b.blobs.Put(ctx, hash, raw); err != nil {
		b.logger.Warn("storing the ledger snapshot failed",
			slog.String("hash", hash), slog.String("error", err.Error()))
		return b.nullPayload()
	}

	return consensus.NewPayload(b.params.Sender, RoundBlacklisting, map[string]any{
		consensus.KeyBetsHash: hash,
	})
}

func (b *BlacklistingBehaviour) nullPayload() (*consensus.Payload, error) {
	return consensus.NewPayload(b.params.Sender, RoundBlacklisting, map[string]any{
		consensus.KeyBetsHash: nil,
	})
}

// HandleFailedTxBehaviour votes on what to do with a bet whose buy amount
// could not be computed. A true vote blacklists the market permanently, a
// false vote leaves it alone; the market data decides which way to vote.
type HandleFailedTxBehaviour struct {
	params Params
	ledger *ledger.Ledger
	logger *slog.Logger
}

// NewHandleFailedTxBehaviour builds the behaviour.
func NewHandleFailedTxBehaviour(p Params, deps Deps) *HandleFailedTxBehaviour {
	return &HandleFailedTxBehaviour{
		params: p,
		ledger: deps.Ledger,
		logger: deps.Logger.With(slog.String("component", "handle_failed_tx")),
	}
}

// RoundID implements Behaviour.
func (b *HandleFailedTxBehaviour) RoundID() consensus.RoundID { return RoundHandleFailedTx }

// Execute implements Behaviour.
func (b *HandleFailedTxBehaviour) Execute(ctx context.Context, data *consensus.SynchronizedData) (*consensus.Payload, error) {
	betID, err := data.String(consensus.KeySampledBetIndex)
	if err != nil {
		return nil, err
	}

	// A pool that cannot price a buy is broken for good when one side has
	// drained; a merely illiquid pool can recover and is left alone.
	blacklist := true
	if bet, ok := b.ledger.Get(betID); ok {
		for _, amount := range bet.OutcomeTokenAmounts {
			if amount > 0 {
				blacklist = false
				break
			}
		}
	}

	if blacklist {
		if err := b.ledger.Mutate(betID, func(bet *domain.Bet) { bet.BlacklistForever() }); err != nil {
			b.logger.Warn("blacklisting a vanished bet",
				slog.String("bet_id", betID), slog.String("error", err.Error()))
		} else {
			b.logger.Info("market blacklisted after a failed buy calculation",
				slog.String("bet_id", betID))
		}
	}

	return consensus.NewPayload(b.params.Sender, RoundHandleFailedTx, map[string]any{
		consensus.KeyVote: blacklist,
	})
}
