package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oddlane/traderd/internal/amm"
	"github.com/oddlane/traderd/internal/consensus"
	"github.com/oddlane/traderd/internal/domain"
	"github.com/oddlane/traderd/internal/ledger"
	"github.com/oddlane/traderd/internal/policy"
	"github.com/oddlane/traderd/internal/strategy"
)

// BenchmarkingBehaviour replays pre-recorded tool responses against the live
// market snapshot instead of calling the tools. Each consumed row simulates
// the full decision for the sampled bet and, when the simulated trade would
// have been placed, carries the moved pool liquidity forward so later rows
// price against the post-trade pool.
type BenchmarkingBehaviour struct {
	params  Params
	ledger  *ledger.Ledger
	policy  *policy.Policy
	sizers  *strategy.Registry
	dataset *Dataset
	logger  *slog.Logger
}

// NewBenchmarkingBehaviour builds the behaviour.
func NewBenchmarkingBehaviour(p Params, deps Deps, dataset *Dataset) *BenchmarkingBehaviour {
	return &BenchmarkingBehaviour{
		params:  p,
		ledger:  deps.Ledger,
		policy:  deps.Policy,
		sizers:  deps.Sizers,
		dataset: dataset,
		logger:  deps.Logger.With(slog.String("component", "benchmarking")),
	}
}

// RoundID implements Behaviour.
func (b *BenchmarkingBehaviour) RoundID() consensus.RoundID { return RoundBenchmarking }

// Execute implements Behaviour.
func (b *BenchmarkingBehaviour) Execute(ctx context.Context, data *consensus.SynchronizedData) (*consensus.Payload, error) {
	betID, err := data.String(consensus.KeySampledBetIndex)
	if err != nil {
		return nil, err
	}
	var index int64
	if data.Has(consensus.KeyNextMockDataRow) {
		if index, err = data.Int(consensus.KeyNextMockDataRow); err != nil {
			return nil, err
		}
	}

	row, ok := b.dataset.Row(index)
	if !ok {
		b.logger.Info("dataset exhausted", slog.Int64("rows_replayed", index))
		return consensus.NewPayload(b.params.Sender, RoundBenchmarking, map[string]any{
			consensus.KeyNextMockDataRow:      nil,
			consensus.KeyBenchmarkingFinished: nil,
		})
	}

	if err := b.replay(betID, row); err != nil {
		return nil, err
	}

	return consensus.NewPayload(b.params.Sender, RoundBenchmarking, map[string]any{
		consensus.KeyNextMockDataRow:      index + 1,
		consensus.KeyBenchmarkingFinished: false,
	})
}

// replay runs the decision arithmetic for one mock response and applies its
// effects to the ledger copy of the bet.
func (b *BenchmarkingBehaviour) replay(betID string, row MockRow) error {
	bet, ok := b.ledger.Get(betID)
	if !ok {
		return errors.New("pipeline: sampled bet missing from ledger")
	}

	prediction, err := row.Prediction()
	if err != nil {
		return fmt.Errorf("pipeline: benchmark row for tool %q: %w", row.Tool, err)
	}
	now := time.Now()
	if perr := b.policy.RecordResponse(row.Tool, now, false); perr != nil {
		b.logger.Warn("recording the mock response failed",
			slog.String("tool", row.Tool), slog.String("error", perr.Error()))
	}

	vote, voted := prediction.Vote()
	placed := false
	var liquidity amm.LiquidityInfo
	if voted {
		placed, liquidity, err = b.simulateBuy(&bet, prediction, vote)
		if err != nil {
			b.logger.Warn("mock trade could not be priced",
				slog.String("bet_id", betID), slog.String("error", err.Error()))
		}
	}

	stamp := b.ledger.NextProcessedTimestamp()
	return b.ledger.Mutate(betID, func(stored *domain.Bet) {
		stored.LastPrediction = prediction
		stored.ProcessedTimestamp = stamp
		stored.QueueStatus = domain.QueueBenchmarkingDone
		if placed {
			stored.OutcomeTokenAmounts = liquidity.EndAmounts()
			stored.OutcomePrices = liquidity.NewPrices()
		}
	})
}

func (b *BenchmarkingBehaviour) simulateBuy(bet *domain.Bet, prediction *domain.PredictionResponse, vote int) (bool, amm.LiquidityInfo, error) {
	sizer, err := b.sizers.Get(b.params.Strategy)
	if err != nil {
		return false, amm.LiquidityInfo{}, err
	}
	feeFraction := 1 - float64(bet.Fee)/weiPerToken
	amount, err := sizer.BetAmount(strategy.Inputs{
		WinProbability:       prediction.WinProbability(),
		Confidence:           prediction.Confidence,
		SelectedTokensInPool: bet.OutcomeTokenAmounts[vote],
		OtherTokensInPool:    bet.OutcomeTokenAmounts[1-vote],
		Bankroll:             strategy.DefaultMaxBet,
		FeeFraction:          feeFraction,
	})
	if err != nil || amount <= 0 {
		return false, amm.LiquidityInfo{}, err
	}

	netBet := amm.RemoveFraction(amount, 1-feeFraction)
	quote, err := amm.CalcBinaryShares(bet.OutcomeTokenAmounts, bet.OutcomePrices, netBet, vote)
	if err != nil {
		return false, amm.LiquidityInfo{}, err
	}
	if amm.PotentialNetProfit(quote.NumShares, netBet, b.params.BetThreshold) < 0 {
		return false, amm.LiquidityInfo{}, nil
	}

	b.logger.Info("mock trade placed",
		slog.String("bet_id", bet.ID),
		slog.Int64("shares", quote.NumShares),
		slog.Int("vote", vote),
		slog.Int64("amount", amount))
	return true, amm.NewLiquidityInfo(bet.OutcomeTokenAmounts, netBet, vote), nil
}

// NewBenchmarkGraph builds the replay state machine: the live market and
// sampling rounds feed the benchmarking round instead of the tool request
// path, and draining either the dataset or the sampled bets finishes the run.
func NewBenchmarkGraph(p Params) (*consensus.Graph, map[consensus.RoundID]consensus.Round, error) {
	rounds := map[consensus.RoundID]consensus.Round{
		RoundUpdateBets: &consensus.CollectSameRound{
			Name:          string(RoundUpdateBets),
			Committee:     p.Committee,
			SelectionKeys: []string{consensus.KeyBetsHash},
			NoneAllowed:   true,
			Deadline:      p.RoundTimeout,
		},
		RoundSampling: &consensus.CollectSameRound{
			Name:          string(RoundSampling),
			Committee:     p.Committee,
			SelectionKeys: []string{consensus.KeyBetsHash, consensus.KeySampledBetIndex},
			NoneAllowed:   true,
			Pre:           []string{consensus.KeyBetsHash},
			Deadline:      p.RoundTimeout,
		},
		RoundToolSelection: &consensus.CollectSameRound{
			Name:          string(RoundToolSelection),
			Committee:     p.Committee,
			SelectionKeys: []string{consensus.KeyMechTool, consensus.KeyPolicy},
			NoneAllowed:   true,
			Pre:           []string{consensus.KeySampledBetIndex},
			Deadline:      p.RoundTimeout,
		},
		RoundBenchmarking: &consensus.CollectSameRound{
			Name:          string(RoundBenchmarking),
			Committee:     p.Committee,
			SelectionKeys: []string{consensus.KeyNextMockDataRow, consensus.KeyBenchmarkingFinished},
			NoneAllowed:   true,
			Pre:           []string{consensus.KeySampledBetIndex},
			Deadline:      p.RoundTimeout,
		},
	}

	graph := &consensus.Graph{
		Initial: RoundUpdateBets,
		Transitions: map[consensus.RoundID]map[consensus.Event]consensus.RoundID{
			RoundUpdateBets: {
				consensus.EventDone:         RoundSampling,
				consensus.EventNone:         RoundUpdateBets,
				consensus.EventNoMajority:   RoundUpdateBets,
				consensus.EventRoundTimeout: RoundUpdateBets,
			},
			RoundSampling: {
				consensus.EventDone:         RoundToolSelection,
				consensus.EventNone:         RoundBenchmarkingDone,
				consensus.EventNoMajority:   RoundSampling,
				consensus.EventRoundTimeout: RoundSampling,
			},
			RoundToolSelection: {
				consensus.EventDone:         RoundBenchmarking,
				consensus.EventNone:         RoundImpossible,
				consensus.EventNoMajority:   RoundToolSelection,
				consensus.EventRoundTimeout: RoundToolSelection,
			},
			RoundBenchmarking: {
				consensus.EventDone:         RoundSampling,
				consensus.EventNone:         RoundBenchmarkingDone,
				consensus.EventNoMajority:   RoundBenchmarking,
				consensus.EventRoundTimeout: RoundBenchmarking,
			},
		},
		Terminal: map[consensus.RoundID]bool{
			RoundBenchmarkingDone: true,
			RoundImpossible:       true,
		},
		Events: map[consensus.RoundID][]consensus.Event{
			RoundUpdateBets: {
				consensus.EventDone, consensus.EventNone,
				consensus.EventNoMajority, consensus.EventRoundTimeout,
			},
			RoundSampling: {
				consensus.EventDone, consensus.EventNone,
				consensus.EventNoMajority, consensus.EventRoundTimeout,
			},
			RoundToolSelection: {
				consensus.EventDone, consensus.EventNone,
				consensus.EventNoMajority, consensus.EventRoundTimeout,
			},
			RoundBenchmarking: {
				consensus.EventDone, consensus.EventNone,
				consensus.EventNoMajority, consensus.EventRoundTimeout,
			},
		},
	}

	if err := graph.Validate(); err != nil {
		return nil, nil, fmt.Errorf("pipeline: benchmark graph: %w", err)
	}
	return graph, rounds, nil
}
