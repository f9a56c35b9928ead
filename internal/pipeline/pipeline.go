// Package pipeline wires the concrete decision rounds into the consensus
// state machine: fetch markets, sample a bet, pick a tool, request and
// receive a prediction, place or sell a position, settle and redeem, and
// handle failures by blacklisting or retrying. One Runtime instance drives
// one replica.
package pipeline

import (
	"log/slog"
	"time"

	"github.com/oddlane/traderd/internal/chain"
	"github.com/oddlane/traderd/internal/consensus"
	"github.com/oddlane/traderd/internal/ledger"
	"github.com/oddlane/traderd/internal/market"
	"github.com/oddlane/traderd/internal/mech"
	"github.com/oddlane/traderd/internal/policy"
	"github.com/oddlane/traderd/internal/strategy"
	"github.com/oddlane/traderd/internal/txsubmit"

	"github.com/ethereum/go-ethereum/common"
)

// Round names of the decision pipeline.
const (
	RoundUpdateBets       consensus.RoundID = "update_bets"
	RoundSampling         consensus.RoundID = "sampling"
	RoundToolSelection    consensus.RoundID = "tool_selection"
	RoundDecisionRequest  consensus.RoundID = "decision_request"
	RoundDecisionReceive  consensus.RoundID = "decision_receive"
	RoundBetPlacement     consensus.RoundID = "bet_placement"
	RoundPostTxSettlement consensus.RoundID = "post_tx_settlement"
	RoundRedeem           consensus.RoundID = "redeem"
	RoundBlacklisting     consensus.RoundID = "blacklisting"
	RoundHandleFailedTx   consensus.RoundID = "handle_failed_tx"
	RoundBenchmarking     consensus.RoundID = "benchmarking"

	// Terminal rounds.
	RoundFinishedWithDecision    consensus.RoundID = "finished_with_decision"
	RoundFinishedWithoutDecision consensus.RoundID = "finished_without_decision"
	RoundRefillRequired          consensus.RoundID = "refill_required"
	RoundImpossible              consensus.RoundID = "impossible"
	RoundBenchmarkingDone        consensus.RoundID = "benchmarking_done"
)

// Domain events emitted on top of the engine's built-ins.
const (
	EventTie                   consensus.Event = "tie"
	EventUnprofitable          consensus.Event = "unprofitable"
	EventCalcBuyAmountFailed   consensus.Event = "calc_buy_amount_failed"
	EventNoOp                  consensus.Event = "no_op"
	EventBetPlacementDone      consensus.Event = "bet_placement_done"
	EventRedeemingDone         consensus.Event = "redeeming_done"
	EventUnrecognizedSubmitter consensus.Event = "unrecognized_submitter"
)

// Values of the tx_submitter key, used by the settlement multiplexer to
// route the post-transaction event.
const (
	SubmitterBetPlacement = "bet_placement"
	SubmitterRedeem       = "redeem"
)

// Decision types agreed in decision_receive and executed in bet_placement.
const (
	DecisionBuy  = "buy"
	DecisionSell = "sell"
)

// Params holds the tunables of the pipeline.
type Params struct {
	// Sender identifies this replica in consensus payloads.
	Sender string
	// Committee is the replica set the rounds collect from.
	Committee consensus.Committee
	// SafetyMargin keeps the agent away from markets about to open.
	SafetyMargin time.Duration
	// BetThreshold is the minimum acceptable winnings over the bet amount.
	BetThreshold int64
	// MultiBetMode promotes fresh bets only as a full cohort.
	MultiBetMode bool
	// MarketFilters narrows the fetched market set.
	MarketFilters market.Filters
	// Strategy names the bet sizer to use.
	Strategy string
	// AgentAddress is the wallet the agent trades from.
	AgentAddress common.Address
	// CollateralToken funds the bets.
	CollateralToken common.Address
	// ConditionalTokens is the contract winnings are redeemed from.
	ConditionalTokens common.Address
	// RoundTimeout is the default per-round deadline.
	RoundTimeout time.Duration
	// RetryInterval is the sleep between retries inside a round.
	RetryInterval time.Duration
}

// Deps bundles the collaborators the behaviours work through.
type Deps struct {
	Ledger    *ledger.Ledger
	Policy    *policy.Policy
	Sizers    *strategy.Registry
	Market    market.Source
	Mech      mech.Client
	Chain     chain.Client
	Submitter txsubmit.Submitter
	Blobs     BlobStore
	Logger    *slog.Logger
}
