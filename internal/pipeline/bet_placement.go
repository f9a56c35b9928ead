package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/oddlane/traderd/internal/amm"
	"github.com/oddlane/traderd/internal/chain"
	"github.com/oddlane/traderd/internal/consensus"
	"github.com/oddlane/traderd/internal/domain"
	"github.com/oddlane/traderd/internal/ledger"
	"github.com/oddlane/traderd/internal/txsubmit"
)

// BetPlacementBehaviour turns the agreed decision into an on-chain
// transaction batch and submits it. A failed amount calculation is reported
// through an empty transaction hash so the committee can agree on the
// failure; an insufficient balance is a null payload routing to the refill
// terminal.
type BetPlacementBehaviour struct {
	params    Params
	ledger    *ledger.Ledger
	chain     chain.Client
	submitter txsubmit.Submitter
	logger    *slog.Logger
}

// NewBetPlacementBehaviour builds the behaviour.
func NewBetPlacementBehaviour(p Params, deps Deps) *BetPlacementBehaviour {
	return &BetPlacementBehaviour{
		params:    p,
		ledger:    deps.Ledger,
		chain:     deps.Chain,
		submitter: deps.Submitter,
		logger:    deps.Logger.With(slog.String("component", "bet_placement")),
	}
}

// RoundID implements Behaviour.
func (b *BetPlacementBehaviour) RoundID() consensus.RoundID { return RoundBetPlacement }

// Execute implements Behaviour.
func (b *BetPlacementBehaviour) Execute(ctx context.Context, data *consensus.SynchronizedData) (*consensus.Payload, error) {
	betID, err := data.String(consensus.KeySampledBetIndex)
	if err != nil {
		return nil, err
	}
	vote, voted, err := data.Vote()
	if err != nil {
		return nil, err
	}
	if !voted {
		return nil, errors.New("pipeline: bet placement entered without a vote")
	}
	amount, err := data.Int(consensus.KeyBetAmount)
	if err != nil {
		return nil, err
	}
	decisionType, err := data.String(consensus.KeyDecisionType)
	if err != nil {
		return nil, err
	}

	bet, ok := b.ledger.Get(betID)
	if !ok {
		return nil, errors.New("pipeline: sampled bet missing from ledger")
	}

	balances, err := b.chain.GetBalances(ctx, b.params.AgentAddress, b.params.CollateralToken)
	if err != nil {
		return nil, err
	}
	if decisionType == DecisionBuy && balances.Collateral.Cmp(big.NewInt(amount)) < 0 {
		b.logger.Warn("collateral balance below the bet amount",
			slog.String("bet_id", betID),
			slog.Int64("bet_amount", amount),
			slog.String("collateral_balance", balances.Collateral.String()))
		return b.nullPayload()
	}

	var batch txsubmit.Batch
	switch decisionType {
	case DecisionSell:
		batch, err = b.sellBatch(&bet, int(vote), amount)
	default:
		batch, err = b.buyBatch(&bet, int(vote), amount)
	}
	if err != nil {
		// An unpriceable trade is a committee-level decision, not a local
		// failure, so it travels as an agreed empty hash.
		b.logger.Warn("building the transaction batch failed",
			slog.String("bet_id", betID), slog.String("error", err.Error()))
		return b.payload("")
	}

	hash, err := b.submitter.Submit(ctx, batch)
	if err != nil {
		return nil, err
	}

	b.logger.Info("bet transaction submitted",
		slog.String("bet_id", betID),
		slog.String("decision_type", decisionType),
		slog.Int64("amount", amount),
		slog.String("tx_hash", hash))
	return b.payload(hash)
}

// buyBatch approves the market maker for the bet amount and buys the voted
// outcome, bounding the received shares at the quoted amount.
func (b *BetPlacementBehaviour) buyBatch(bet *domain.Bet, vote int, amount int64) (txsubmit.Batch, error) {
	marketMaker := common.HexToAddress(bet.ID)

	netBet := amm.RemoveFraction(amount, float64(bet.Fee)/weiPerToken)
	quote, err := amm.CalcBinaryShares(bet.OutcomeTokenAmounts, bet.OutcomePrices, netBet, vote)
	if err != nil {
		return txsubmit.Batch{}, err
	}
	if quote.NumShares <= 0 {
		return txsubmit.Batch{}, errors.New("pipeline: quoted zero shares")
	}

	approve, err := chain.PackApprove(marketMaker, big.NewInt(amount))
	if err != nil {
		return txsubmit.Batch{}, err
	}
	buy, err := chain.PackBuy(big.NewInt(amount), vote, big.NewInt(quote.NumShares))
	if err != nil {
		return txsubmit.Batch{}, err
	}
	return txsubmit.NewBatch(
		txsubmit.TxRequest{To: b.params.CollateralToken, Data: approve},
		txsubmit.TxRequest{To: marketMaker, Data: buy},
	), nil
}

// sellBatch sells the position held on the side opposite to the vote back
// into the pool for the agreed collateral amount.
func (b *BetPlacementBehaviour) sellBatch(bet *domain.Bet, vote int, amount int64) (txsubmit.Batch, error) {
	marketMaker := common.HexToAddress(bet.ID)
	sellingOutcome := 1 - vote

	held := sum(bet.Investments.Side(sellingOutcome))
	if held <= 0 {
		return txsubmit.Batch{}, errors.New("pipeline: nothing held on the selling side")
	}

	sell, err := chain.PackSell(big.NewInt(amount), sellingOutcome, big.NewInt(held))
	if err != nil {
		return txsubmit.Batch{}, err
	}
	return txsubmit.NewBatch(txsubmit.TxRequest{To: marketMaker, Data: sell}), nil
}

func (b *BetPlacementBehaviour) payload(txHash string) (*consensus.Payload, error) {
	return consensus.NewPayload(b.params.Sender, RoundBetPlacement, map[string]any{
		consensus.KeyTxSubmitter: SubmitterBetPlacement,
		consensus.KeyFinalTxHash: txHash,
	})
}

func (b *BetPlacementBehaviour) nullPayload() (*consensus.Payload, error) {
	return consensus.NewPayload(b.params.Sender, RoundBetPlacement, map[string]any{
		consensus.KeyTxSubmitter: nil,
		consensus.KeyFinalTxHash: nil,
	})
}
