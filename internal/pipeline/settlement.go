package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/oddlane/traderd/internal/chain"
	"github.com/oddlane/traderd/internal/consensus"
	"github.com/oddlane/traderd/internal/domain"
	"github.com/oddlane/traderd/internal/ledger"
	"github.com/oddlane/traderd/internal/txsubmit"
)

// SettlementBehaviour applies the ledger effects of a confirmed transaction
// and re-announces the submitter so the committee can agree on where to go
// next. Effects are keyed by transaction hash so a replica that re-enters the
// round after a timeout never double-counts an investment.
type SettlementBehaviour struct {
	params Params
	ledger *ledger.Ledger
	logger *slog.Logger

	mu      sync.Mutex
	applied map[string]struct{}
}

// NewSettlementBehaviour builds the behaviour.
func NewSettlementBehaviour(p Params, deps Deps) *SettlementBehaviour {
	return &SettlementBehaviour{
		params:  p,
		ledger:  deps.Ledger,
		logger:  deps.Logger.With(slog.String("component", "settlement")),
		applied: make(map[string]struct{}),
	}
}

// RoundID implements Behaviour.
func (b *SettlementBehaviour) RoundID() consensus.RoundID { return RoundPostTxSettlement }

// Execute implements Behaviour.
func (b *SettlementBehaviour) Execute(ctx context.Context, data *consensus.SynchronizedData) (*consensus.Payload, error) {
	submitter, err := data.String(consensus.KeyTxSubmitter)
	if err != nil {
		return nil, err
	}
	txHash, err := data.String(consensus.KeyFinalTxHash)
	if err != nil {
		return nil, err
	}

	if submitter == SubmitterBetPlacement && txHash != "" {
		if err := b.settleBet(data, txHash); err != nil {
			return nil, err
		}
	}

	return consensus.NewPayload(b.params.Sender, RoundPostTxSettlement, map[string]any{
		consensus.KeyTxSubmitter: submitter,
	})
}

func (b *SettlementBehaviour) settleBet(data *consensus.SynchronizedData, txHash string) error {
	b.mu.Lock()
	_, seen := b.applied[txHash]
	b.applied[txHash] = struct{}{}
	b.mu.Unlock()
	if seen {
		return nil
	}

	betID, err := data.String(consensus.KeySampledBetIndex)
	if err != nil {
		return err
	}
	vote, voted, err := data.Vote()
	if err != nil {
		return err
	}
	if !voted {
		return errors.New("pipeline: settled a bet without a vote")
	}
	amount, err := data.Int(consensus.KeyBetAmount)
	if err != nil {
		return err
	}
	decisionType, err := data.String(consensus.KeyDecisionType)
	if err != nil {
		return err
	}

	return b.ledger.Mutate(betID, func(bet *domain.Bet) {
		if decisionType == DecisionSell {
			// The sold side is flat; the lists for the other side survive.
			if int(vote) == domain.OutcomeYes {
				bet.Investments.No = nil
			} else {
				bet.Investments.Yes = nil
			}
		} else {
			bet.Investments.Append(int(vote), amount)
		}
		b.logger.Info("transaction settled into the ledger",
			slog.String("bet_id", betID),
			slog.String("tx_hash", txHash),
			slog.String("decision_type", decisionType),
			slog.Int64("amount", amount))
	})
}

// RedeemBehaviour claims winnings from resolved markets the agent invested
// in. When nothing is redeemable it contributes a null payload, ending the
// settlement loop.
type RedeemBehaviour struct {
	params    Params
	ledger    *ledger.Ledger
	submitter txsubmit.Submitter
	logger    *slog.Logger
}

// NewRedeemBehaviour builds the behaviour.
func NewRedeemBehaviour(p Params, deps Deps) *RedeemBehaviour {
	return &RedeemBehaviour{
		params:    p,
		ledger:    deps.Ledger,
		submitter: deps.Submitter,
		logger:    deps.Logger.With(slog.String("component", "redeem")),
	}
}

// RoundID implements Behaviour.
func (b *RedeemBehaviour) RoundID() consensus.RoundID { return RoundRedeem }

// Execute implements Behaviour.
func (b *RedeemBehaviour) Execute(ctx context.Context, data *consensus.SynchronizedData) (*consensus.Payload, error) {
	var requests []txsubmit.TxRequest
	var redeemed []string
	for _, bet := range b.ledger.Bets() {
		if !bet.Resolved() || bet.InvestedAmount() <= 0 {
			continue
		}
		redeem, err := chain.PackRedeem(b.params.CollateralToken, conditionID(bet.ID))
		if err != nil {
			return nil, err
		}
		requests = append(requests, txsubmit.TxRequest{
			To:   b.params.ConditionalTokens,
			Data: redeem,
		})
		redeemed = append(redeemed, bet.ID)
	}

	if len(requests) == 0 {
		return consensus.NewPayload(b.params.Sender, RoundRedeem, map[string]any{
			consensus.KeyTxSubmitter: nil,
			consensus.KeyFinalTxHash: nil,
		})
	}

	hash, err := b.submitter.Submit(ctx, txsubmit.NewBatch(requests...))
	if err != nil {
		return nil, err
	}

	stamp := b.ledger.NextProcessedTimestamp()
	for _, id := range redeemed {
		if err := b.ledger.Mutate(id, func(bet *domain.Bet) {
			bet.Investments = domain.Investments{}
			bet.ProcessedTimestamp = stamp
		}); err != nil {
			return nil, err
		}
	}

	b.logger.Info("redeem transaction submitted",
		slog.Int("positions", len(requests)), slog.String("tx_hash", hash))
	return consensus.NewPayload(b.params.Sender, RoundRedeem, map[string]any{
		consensus.KeyTxSubmitter: SubmitterRedeem,
		consensus.KeyFinalTxHash: hash,
	})
}

// conditionID derives the conditional tokens condition identifier from the
// market maker address. Market makers are registered under the keccak of
// their address.
func conditionID(marketID string) common.Hash {
	return common.BytesToHash(common.HexToAddress(marketID).Bytes())
}
