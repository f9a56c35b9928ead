package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"time"

	"github.com/oddlane/traderd/internal/amm"
	"github.com/oddlane/traderd/internal/chain"
	"github.com/oddlane/traderd/internal/consensus"
	"github.com/oddlane/traderd/internal/domain"
	"github.com/oddlane/traderd/internal/ledger"
	"github.com/oddlane/traderd/internal/mech"
	"github.com/oddlane/traderd/internal/policy"
	"github.com/oddlane/traderd/internal/strategy"
)

// weiPerToken converts a wei-denominated fee into its fraction of one token.
const weiPerToken = 1e18

// DecisionReceiveBehaviour collects the tool's prediction and turns it into
// a trading decision: the vote, the bet amount, and whether the trade is
// profitable after fees and the configured threshold. An opposite-side open
// position turns the decision into a sell.
type DecisionReceiveBehaviour struct {
	params Params
	ledger *ledger.Ledger
	policy *policy.Policy
	sizers *strategy.Registry
	mech   mech.Client
	chain  chain.Client
	logger *slog.Logger
}

// NewDecisionReceiveBehaviour builds the behaviour.
func NewDecisionReceiveBehaviour(p Params, deps Deps) *DecisionReceiveBehaviour {
	return &DecisionReceiveBehaviour{
		params: p,
		ledger: deps.Ledger,
		policy: deps.Policy,
		sizers: deps.Sizers,
		mech:   deps.Mech,
		chain:  deps.Chain,
		logger: deps.Logger.With(slog.String("component", "decision_receive")),
	}
}

// RoundID implements Behaviour.
func (b *DecisionReceiveBehaviour) RoundID() consensus.RoundID { return RoundDecisionReceive }

// decision is what this behaviour contributes to the payload.
type decision struct {
	prediction   *domain.PredictionResponse
	vote         any
	confidence   float64
	isProfitable bool
	betAmount    int64
	decisionType string
}

// Execute implements Behaviour.
func (b *DecisionReceiveBehaviour) Execute(ctx context.Context, data *consensus.SynchronizedData) (*consensus.Payload, error) {
	requestID, err := data.String(consensus.KeyMechRequestID)
	if err != nil {
		return nil, err
	}
	betID, err := data.String(consensus.KeySampledBetIndex)
	if err != nil {
		return nil, err
	}
	tool, err := data.String(consensus.KeyMechTool)
	if err != nil {
		return nil, err
	}

	prediction, fetchErr := b.fetchPrediction(ctx, requestID)
	now := time.Now()
	if fetchErr != nil {
		if errors.Is(fetchErr, domain.ErrInvalidPrediction) {
			if perr := b.policy.RecordResponse(tool, now, true); perr != nil {
				return nil, perr
			}
			b.logger.Warn("tool returned an invalid prediction",
				slog.String("tool", tool), slog.String("error", fetchErr.Error()))
			return b.nullPayload()
		}
		// Deadline expired while the tool was still working.
		return nil, fetchErr
	}
	if err := b.policy.RecordResponse(tool, now, false); err != nil {
		return nil, err
	}

	dec, err := b.decide(ctx, betID, prediction)
	if err != nil {
		return nil, err
	}

	serializedPolicy, err := b.policy.Canonical()
	if err != nil {
		return nil, err
	}
	rawPrediction, err := json.Marshal(dec.prediction)
	if err != nil {
		return nil, err
	}
	return consensus.NewPayload(b.params.Sender, RoundDecisionReceive, map[string]any{
		consensus.KeyMechResponse: string(rawPrediction),
		consensus.KeyVote:         dec.vote,
		consensus.KeyConfidence:   dec.confidence,
		consensus.KeyIsProfitable: dec.isProfitable,
		consensus.KeyBetAmount:    dec.betAmount,
		consensus.KeyDecisionType: dec.decisionType,
		consensus.KeyPolicy:       string(serializedPolicy),
	})
}

func (b *DecisionReceiveBehaviour) fetchPrediction(ctx context.Context, requestID string) (*domain.PredictionResponse, error) {
	var prediction *domain.PredictionResponse
	err := waitFor(ctx, b.params.RetryInterval, func(ctx context.Context) error {
		var ferr error
		prediction, ferr = b.mech.FetchResponse(ctx, requestID)
		if ferr == nil {
			return nil
		}
		if errors.Is(ferr, domain.ErrInvalidPrediction) {
			// Retrying cannot fix a malformed result.
			prediction = nil
			return nil
		}
		return ferr
	})
	if err != nil {
		return nil, err
	}
	if prediction == nil {
		return nil, domain.ErrInvalidPrediction
	}
	return prediction, nil
}

// decide applies the prediction to the sampled bet and prices the trade.
func (b *DecisionReceiveBehaviour) decide(ctx context.Context, betID string, prediction *domain.PredictionResponse) (*decision, error) {
	bet, ok := b.ledger.Get(betID)
	if !ok {
		return nil, errors.New("pipeline: sampled bet missing from ledger")
	}

	prevPrediction := bet.LastPrediction
	prevLiquidity := bet.PositionLiquidity
	prevProfit := bet.PotentialNetProfit

	dec := &decision{
		prediction:   prediction,
		confidence:   prediction.Confidence,
		decisionType: DecisionBuy,
	}

	vote, voted := prediction.Vote()
	if !voted {
		b.logger.Info("prediction is a tie, skipping the bet", slog.String("bet_id", betID))
		dec.vote = nil
		return dec, b.recordDecision(betID, prediction, 0, 0)
	}
	dec.vote = vote

	// An open position on the other side turns the decision into a sell.
	oppositeInvested := sum(bet.Investments.Side(1 - vote))
	if oppositeInvested > 0 {
		return b.decideSell(betID, &bet, prediction, vote, oppositeInvested, dec)
	}

	return b.decideBuy(ctx, betID, &bet, prediction, vote, dec,
		prevPrediction, prevLiquidity, prevProfit)
}

func (b *DecisionReceiveBehaviour) decideBuy(
	ctx context.Context,
	betID string,
	bet *domain.Bet,
	prediction *domain.PredictionResponse,
	vote int,
	dec *decision,
	prevPrediction *domain.PredictionResponse,
	prevLiquidity, prevProfit int64,
) (*decision, error) {
	balances, err := b.chain.GetBalances(ctx, b.params.AgentAddress, b.params.CollateralToken)
	if err != nil {
		return nil, err
	}

	sizer, err := b.sizers.Get(b.params.Strategy)
	if err != nil {
		return nil, err
	}
	feeFraction := 1 - float64(bet.Fee)/weiPerToken
	betAmount, err := sizer.BetAmount(strategy.Inputs{
		WinProbability:       prediction.WinProbability(),
		Confidence:           prediction.Confidence,
		SelectedTokensInPool: bet.OutcomeTokenAmounts[vote],
		OtherTokensInPool:    bet.OutcomeTokenAmounts[1-vote],
		Bankroll:             clampToInt64(balances.Collateral),
		FeeFraction:          feeFraction,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientBalance) {
			// Zero amount is unprofitable by definition; the refill terminal
			// is reached through bet placement's balance check.
			dec.betAmount = 0
			return dec, b.recordDecision(betID, prediction, 0, 0)
		}
		return nil, err
	}
	dec.betAmount = betAmount

	netBet := amm.RemoveFraction(betAmount, 1-feeFraction)
	quote, err := amm.CalcBinaryShares(bet.OutcomeTokenAmounts, bet.OutcomePrices, netBet, vote)
	if err != nil {
		b.logger.Warn("share calculation failed",
			slog.String("bet_id", betID), slog.String("error", err.Error()))
		dec.betAmount = 0
		return dec, b.recordDecision(betID, prediction, 0, 0)
	}
	if quote.HighSlippage {
		b.logger.Warn("bet exceeds the available shares slippage bound",
			slog.String("bet_id", betID),
			slog.Int64("num_shares", quote.NumShares),
			slog.Int64("available_shares", quote.AvailableShares))
	}

	profit := amm.PotentialNetProfit(quote.NumShares, netBet, b.params.BetThreshold)
	dec.isProfitable = profit >= 0

	if dec.isProfitable && !rebetAllowed(bet, prediction, prevPrediction, prevLiquidity, prevProfit, quote.NumShares, profit) {
		b.logger.Info("repeat bet rejected by the rebet guard", slog.String("bet_id", betID))
		dec.isProfitable = false
	}

	b.logger.Info("decision computed",
		slog.String("bet_id", betID),
		slog.Int("vote", vote),
		slog.Int64("bet_amount", betAmount),
		slog.Int64("potential_net_profit", profit),
		slog.Bool("is_profitable", dec.isProfitable))

	return dec, b.recordDecision(betID, prediction, quote.NumShares, profit)
}

func (b *DecisionReceiveBehaviour) decideSell(
	betID string,
	bet *domain.Bet,
	prediction *domain.PredictionResponse,
	vote int,
	oppositeInvested int64,
	dec *decision,
) (*decision, error) {
	sellAmount, err := amm.CalcSellAmountInCollateral(
		oppositeInvested, bet.OutcomeTokenAmounts, 1-vote, float64(bet.Fee)/weiPerToken)
	if err != nil {
		b.logger.Warn("sell amount calculation failed",
			slog.String("bet_id", betID), slog.String("error", err.Error()))
		dec.betAmount = 0
		dec.isProfitable = false
		return dec, b.recordDecision(betID, prediction, 0, 0)
	}

	dec.decisionType = DecisionSell
	dec.betAmount = sellAmount
	dec.isProfitable = sellAmount > 0

	b.logger.Info("selling the open position on the other side",
		slog.String("bet_id", betID),
		slog.Int("vote", vote),
		slog.Int64("invested", oppositeInvested),
		slog.Int64("sell_amount", sellAmount))

	return dec, b.recordDecision(betID, prediction, 0, 0)
}

// recordDecision stores the prediction on the bet and advances its queue
// status so repeated sampling prefers untouched bets. The processing stamp
// comes from the ledger's logical clock, not the wall clock, so replicas
// stamping the same agreed decision keep identical ledger bytes.
func (b *DecisionReceiveBehaviour) recordDecision(betID string, prediction *domain.PredictionResponse, positionLiquidity, potentialProfit int64) error {
	stamp := b.ledger.NextProcessedTimestamp()
	return b.ledger.Mutate(betID, func(bet *domain.Bet) {
		bet.LastPrediction = prediction
		bet.ProcessedTimestamp = stamp
		bet.QueueStatus = bet.QueueStatus.Advance()
		bet.PositionLiquidity = positionLiquidity
		bet.PotentialNetProfit = potentialProfit
	})
}

func (b *DecisionReceiveBehaviour) nullPayload() (*consensus.Payload, error) {
	return consensus.NewPayload(b.params.Sender, RoundDecisionReceive, map[string]any{
		consensus.KeyMechResponse: nil,
		consensus.KeyVote:         nil,
		consensus.KeyConfidence:   nil,
		consensus.KeyIsProfitable: nil,
		consensus.KeyBetAmount:    nil,
		consensus.KeyDecisionType: nil,
		consensus.KeyPolicy:       nil,
	})
}

// rebetAllowed evaluates the repeat-bet guard against the position the new
// quote would produce.
func rebetAllowed(bet *domain.Bet, prediction, prevPrediction *domain.PredictionResponse, prevLiquidity, prevProfit, newLiquidity, newProfit int64) bool {
	if prevPrediction == nil {
		return true
	}
	candidate := *bet
	candidate.LastPrediction = prediction
	candidate.PositionLiquidity = newLiquidity
	candidate.PotentialNetProfit = newProfit
	return candidate.RebetAllowed(prevPrediction, prevLiquidity, prevProfit)
}

func sum(values []int64) int64 {
	var total int64
	for _, v := range values {
		total += v
	}
	return total
}

func clampToInt64(v *big.Int) int64 {
	if v == nil {
		return 0
	}
	if !v.IsInt64() {
		return int64(^uint64(0) >> 1)
	}
	return v.Int64()
}
