package pipeline

import (
	"fmt"

	"github.com/oddlane/traderd/internal/consensus"
)

// NewTradeGraph builds the trading state machine and its rounds. The graph
// is validated so an unmapped (round, event) pair fails here, at startup,
// instead of at runtime.
func NewTradeGraph(p Params) (*consensus.Graph, map[consensus.RoundID]consensus.Round, error) {
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
		RoundDecisionRequest: &consensus.CollectSameRound{
			Name:          string(RoundDecisionRequest),
			Committee:     p.Committee,
			SelectionKeys: []string{consensus.KeyMechRequestID},
			NoneAllowed:   true,
			Pre:           []string{consensus.KeyMechTool},
			Deadline:      p.RoundTimeout,
		},
		RoundDecisionReceive: &consensus.CollectSameRound{
			Name:      string(RoundDecisionReceive),
			Committee: p.Committee,
			SelectionKeys: []string{
				consensus.KeyMechResponse,
				consensus.KeyVote,
				consensus.KeyConfidence,
				consensus.KeyIsProfitable,
				consensus.KeyBetAmount,
				consensus.KeyDecisionType,
				consensus.KeyPolicy,
			},
			NoneAllowed: true,
			Pre:         []string{consensus.KeyMechRequestID},
			Deadline:    p.RoundTimeout,
			PostProcess: decisionPostProcess,
		},
		RoundBetPlacement: &consensus.CollectSameRound{
			Name:          string(RoundBetPlacement),
			Committee:     p.Committee,
			SelectionKeys: []string{consensus.KeyTxSubmitter, consensus.KeyFinalTxHash},
			NoneAllowed:   true,
			Pre:           []string{consensus.KeyVote, consensus.KeyBetAmount},
			Deadline:      p.RoundTimeout,
			PostProcess:   emptyHashPostProcess,
		},
		RoundPostTxSettlement: &consensus.CollectSameRound{
			Name:          string(RoundPostTxSettlement),
			Committee:     p.Committee,
			SelectionKeys: []string{consensus.KeyTxSubmitter},
			Pre:           []string{consensus.KeyTxSubmitter, consensus.KeyFinalTxHash},
			Deadline:      p.RoundTimeout,
			PostProcess:   settlementPostProcess,
		},
		RoundRedeem: &consensus.CollectSameRound{
			Name:          string(RoundRedeem),
			Committee:     p.Committee,
			SelectionKeys: []string{consensus.KeyTxSubmitter, consensus.KeyFinalTxHash},
			NoneAllowed:   true,
			Deadline:      p.RoundTimeout,
		},
		RoundBlacklisting: &consensus.CollectSameRound{
			Name:          string(RoundBlacklisting),
			Committee:     p.Committee,
			SelectionKeys: []string{consensus.KeyBetsHash},
			NoneAllowed:   true,
			Pre:           []string{consensus.KeySampledBetIndex},
			Deadline:      p.RoundTimeout,
		},
		RoundHandleFailedTx: &consensus.VotingRound{
			Name:          string(RoundHandleFailedTx),
			Committee:     p.Committee,
			NegativeEvent: EventNoOp,
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
				consensus.EventNone:         RoundFinishedWithoutDecision,
				consensus.EventNoMajority:   RoundSampling,
				consensus.EventRoundTimeout: RoundSampling,
			},
			RoundToolSelection: {
				consensus.EventDone:         RoundDecisionRequest,
				consensus.EventNone:         RoundImpossible,
				consensus.EventNoMajority:   RoundToolSelection,
				consensus.EventRoundTimeout: RoundToolSelection,
			},
			RoundDecisionRequest: {
				consensus.EventDone:         RoundDecisionReceive,
				consensus.EventNone:         RoundBlacklisting,
				consensus.EventNoMajority:   RoundDecisionRequest,
				consensus.EventRoundTimeout: RoundDecisionRequest,
			},
			RoundDecisionReceive: {
				consensus.EventDone:         RoundBetPlacement,
				EventTie:                    RoundBlacklisting,
				EventUnprofitable:           RoundBlacklisting,
				consensus.EventNone:         RoundBlacklisting,
				consensus.EventNoMajority:   RoundDecisionReceive,
				consensus.EventRoundTimeout: RoundDecisionReceive,
			},
			RoundBetPlacement: {
				consensus.EventDone:         RoundPostTxSettlement,
				consensus.EventNone:         RoundRefillRequired,
				EventCalcBuyAmountFailed:    RoundHandleFailedTx,
				consensus.EventNoMajority:   RoundBetPlacement,
				consensus.EventRoundTimeout: RoundBetPlacement,
			},
			RoundPostTxSettlement: {
				EventBetPlacementDone:       RoundRedeem,
				EventRedeemingDone:          RoundFinishedWithDecision,
				EventUnrecognizedSubmitter:  RoundImpossible,
				consensus.EventNoMajority:   RoundPostTxSettlement,
				consensus.EventRoundTimeout: RoundPostTxSettlement,
			},
			RoundRedeem: {
				consensus.EventDone:         RoundPostTxSettlement,
				consensus.EventNone:         RoundFinishedWithDecision,
				consensus.EventNoMajority:   RoundRedeem,
				consensus.EventRoundTimeout: RoundRedeem,
			},
			RoundBlacklisting: {
				consensus.EventDone:         RoundFinishedWithoutDecision,
				consensus.EventNone:         RoundImpossible,
				consensus.EventNoMajority:   RoundBlacklisting,
				consensus.EventRoundTimeout: RoundBlacklisting,
			},
			RoundHandleFailedTx: {
				consensus.EventDone:         RoundBlacklisting,
				EventNoOp:                   RoundFinishedWithoutDecision,
				consensus.EventNoMajority:   RoundHandleFailedTx,
				consensus.EventRoundTimeout: RoundHandleFailedTx,
			},
		},
		Terminal: map[consensus.RoundID]bool{
			RoundFinishedWithDecision:    true,
			RoundFinishedWithoutDecision: true,
			RoundRefillRequired:          true,
			RoundImpossible:              true,
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
			RoundDecisionRequest: {
				consensus.EventDone, consensus.EventNone,
				consensus.EventNoMajority, consensus.EventRoundTimeout,
			},
			RoundDecisionReceive: {
				consensus.EventDone, EventTie, EventUnprofitable, consensus.EventNone,
				consensus.EventNoMajority, consensus.EventRoundTimeout,
			},
			RoundBetPlacement: {
				consensus.EventDone, consensus.EventNone, EventCalcBuyAmountFailed,
				consensus.EventNoMajority, consensus.EventRoundTimeout,
			},
			RoundPostTxSettlement: {
				EventBetPlacementDone, EventRedeemingDone, EventUnrecognizedSubmitter,
				consensus.EventNoMajority, consensus.EventRoundTimeout,
			},
			RoundRedeem: {
				consensus.EventDone, consensus.EventNone,
				consensus.EventNoMajority, consensus.EventRoundTimeout,
			},
			RoundBlacklisting: {
				consensus.EventDone, consensus.EventNone,
				consensus.EventNoMajority, consensus.EventRoundTimeout,
			},
			RoundHandleFailedTx: {
				consensus.EventDone, EventNoOp,
				consensus.EventNoMajority, consensus.EventRoundTimeout,
			},
		},
	}

	if err := graph.Validate(); err != nil {
		return nil, nil, fmt.Errorf("pipeline: trade graph: %w", err)
	}
	return graph, rounds, nil
}

// decisionPostProcess re-routes the decision outcome: a null vote is a tie,
// an agreed-unprofitable decision skips placement.
func decisionPostProcess(data *consensus.SynchronizedData, event consensus.Event) (*consensus.SynchronizedData, consensus.Event, error) {
	if event != consensus.EventDone {
		return data, event, nil
	}
	_, ok, err := data.Vote()
	if err != nil {
		return nil, "", err
	}
	if !ok {
		return data, EventTie, nil
	}
	profitable, err := data.Bool(consensus.KeyIsProfitable)
	if err != nil {
		return nil, "", err
	}
	if !profitable {
		return data, EventUnprofitable, nil
	}
	return data, event, nil
}

// emptyHashPostProcess re-routes a quorum on an empty settlement hash: the
// replicas agreed, but on the fact that the buy amount calculation failed.
func emptyHashPostProcess(data *consensus.SynchronizedData, event consensus.Event) (*consensus.SynchronizedData, consensus.Event, error) {
	if event != consensus.EventDone {
		return data, event, nil
	}
	hash, err := data.String(consensus.KeyFinalTxHash)
	if err != nil {
		return nil, "", err
	}
	if hash == "" {
		return data, EventCalcBuyAmountFailed, nil
	}
	return data, event, nil
}

// settlementPostProcess routes the post-transaction event by the agreed
// submitter. An unrecognized submitter is a configuration error, reported as
// its own event so the graph can park the run instead of guessing.
func settlementPostProcess(data *consensus.SynchronizedData, event consensus.Event) (*consensus.SynchronizedData, consensus.Event, error) {
	if event != consensus.EventDone {
		return data, event, nil
	}
	submitter, err := data.String(consensus.KeyTxSubmitter)
	if err != nil {
		return nil, "", err
	}
	switch submitter {
	case SubmitterBetPlacement:
		return data, EventBetPlacementDone, nil
	case SubmitterRedeem:
		return data, EventRedeemingDone, nil
	default:
		return data, EventUnrecognizedSubmitter, nil
	}
}
