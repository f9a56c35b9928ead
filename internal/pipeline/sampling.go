package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/oddlane/traderd/internal/consensus"
	"github.com/oddlane/traderd/internal/ledger"
)

// SamplingBehaviour picks the single bet this cycle works on. A null payload
// means no bet is eligible, which ends the cycle without a decision.
type SamplingBehaviour struct {
	params Params
	ledger *ledger.Ledger
	blobs  BlobStore
	logger *slog.Logger
}

// NewSamplingBehaviour builds the behaviour.
func NewSamplingBehaviour(p Params, deps Deps) *SamplingBehaviour {
	return &SamplingBehaviour{
		params: p,
		ledger: deps.Ledger,
		blobs:  deps.Blobs,
		logger: deps.Logger.With(slog.String("component", "sampling")),
	}
}

// RoundID implements Behaviour.
func (b *SamplingBehaviour) RoundID() consensus.RoundID { return RoundSampling }

// Execute implements Behaviour. A replica whose ledger drifted from the
// agreed collection first restores the agreed snapshot from the blob store,
// then samples; the sampled id travels together with the bets hash so the
// agreement pins both the bet and the collection it came from.
func (b *SamplingBehaviour) Execute(ctx context.Context, data *consensus.SynchronizedData) (*consensus.Payload, error) {
	hash, err := data.String(consensus.KeyBetsHash)
	if err != nil {
		return nil, err
	}
	if err := b.syncLedger(ctx, hash); err != nil {
		b.logger.Warn("restoring the agreed ledger snapshot failed, sampling locally",
			slog.String("bets_hash", hash), slog.String("error", err.Error()))
	}

	bet, ok := b.ledger.Sample(time.Now(), b.params.SafetyMargin)
	if !ok {
		b.logger.Info("no processable bet this cycle")
		return consensus.NewPayload(b.params.Sender, RoundSampling, map[string]any{
			consensus.KeyBetsHash:        nil,
			consensus.KeySampledBetIndex: nil,
		})
	}

	b.logger.Info("sampled bet",
		slog.String("bet_id", bet.ID),
		slog.String("queue_status", bet.QueueStatus.String()),
		slog.Float64("liquidity", bet.ScaledLiquidity))

	return consensus.NewPayload(b.params.Sender, RoundSampling, map[string]any{
		consensus.KeyBetsHash:        hash,
		consensus.KeySampledBetIndex: bet.ID,
	})
}

// syncLedger replaces the local collection with the agreed snapshot when the
// local hash disagrees with the one the committee settled on, so a replica
// that fell out of step rejoins instead of stalling every later round.
func (b *SamplingBehaviour) syncLedger(ctx context.Context, agreed string) error {
	local, err := b.ledger.Hash()
	if err != nil {
		return err
	}
	if local == agreed {
		return nil
	}

	raw, err := b.blobs.Get(ctx, agreed)
	if err != nil {
		return err
	}
	if err := b.ledger.Load(raw); err != nil {
		return err
	}
	b.logger.Info("ledger restored from the agreed snapshot",
		slog.String("bets_hash", agreed))
	return nil
}
