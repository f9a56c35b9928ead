// Package domain defines the core data model of the trading agent: tracked
// bets with their queue lifecycle, prediction responses, and the sentinel
// errors shared across packages.
package domain

import (
	"fmt"
	"math"
)

// BinaryOutcomeCount is the number of outcome slots for the binary markets
// this agent trades. Markets with any other slot count are blacklisted.
const BinaryOutcomeCount = 2

// Outcome indexes into the two-sided outcome slices of a Bet.
const (
	OutcomeYes = 0
	OutcomeNo  = 1
)

// resolvedPriceThreshold is the marginal price at which one side of a market
// is considered already resolved.
const resolvedPriceThreshold = 0.99

// QueueStatus is the lifecycle stage of a tracked bet.
type QueueStatus int

const (
	// QueueExpired marks a bet that must never be processed again.
	QueueExpired QueueStatus = iota
	// QueueFresh marks a bet that has never been processed.
	QueueFresh
	// QueueToProcess marks a bet promoted by the freshness sweep.
	QueueToProcess
	// QueueProcessed marks a bet that completed one processing pass.
	QueueProcessed
	// QueueReprocessed marks a bet processed more than once. Advancing a
	// reprocessed bet keeps it reprocessed.
	QueueReprocessed
	// QueueBenchmarkingDone marks a bet consumed by a finished benchmark run.
	QueueBenchmarkingDone
)

// String implements fmt.Stringer.
func (s QueueStatus) String() string {
	switch s {
	case QueueExpired:
		return "expired"
	case QueueFresh:
		return "fresh"
	case QueueToProcess:
		return "to_process"
	case QueueProcessed:
		return "processed"
	case QueueReprocessed:
		return "reprocessed"
	case QueueBenchmarkingDone:
		return "benchmarking_done"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// IsExpired reports whether the status is the terminal expired state.
func (s QueueStatus) IsExpired() bool { return s == QueueExpired }

// IsFresh reports whether the bet has never been processed.
func (s QueueStatus) IsFresh() bool { return s == QueueFresh }

// Processable reports whether a bet in this status may be sampled.
func (s QueueStatus) Processable() bool {
	return s == QueueToProcess || s == QueueProcessed || s == QueueReprocessed
}

// MoveToFresh re-queues the bet. Expired and benchmarking-done are sticky and
// never leave their state.
func (s QueueStatus) MoveToFresh() QueueStatus {
	if s == QueueExpired || s == QueueBenchmarkingDone {
		return s
	}
	return QueueFresh
}

// MoveToProcess promotes a fresh bet to the processing queue. All other
// statuses are left untouched.
func (s QueueStatus) MoveToProcess() QueueStatus {
	if s == QueueFresh {
		return QueueToProcess
	}
	return s
}

// Advance records a successful processing pass:
// to_process -> processed -> reprocessed -> reprocessed.
func (s QueueStatus) Advance() QueueStatus {
	switch s {
	case QueueToProcess:
		return QueueProcessed
	case QueueProcessed, QueueReprocessed:
		return QueueReprocessed
	default:
		return s
	}
}

// Investments holds the amounts invested into each side of a binary market.
// Both sides are always present, possibly as empty lists.
type Investments struct {
	Yes []int64 `json:"yes"`
	No  []int64 `json:"no"`
}

// Side returns the investment list for the given outcome index.
func (inv *Investments) Side(vote int) []int64 {
	if vote == OutcomeNo {
		return inv.No
	}
	return inv.Yes
}

// Append records an investment amount for the given outcome index.
func (inv *Investments) Append(vote int, amount int64) {
	if vote == OutcomeNo {
		inv.No = append(inv.No, amount)
		return
	}
	inv.Yes = append(inv.Yes, amount)
}

// Total returns the sum of all amounts invested on both sides.
func (inv *Investments) Total() int64 {
	var total int64
	for _, a := range inv.Yes {
		total += a
	}
	for _, a := range inv.No {
		total += a
	}
	return total
}

// Bet is one prediction market tracked by the agent. All pool and token
// amounts are integers in the smallest collateral unit; prices are fractions
// in [0, 1].
type Bet struct {
	ID                  string              `json:"id"`
	Title               string              `json:"title"`
	CollateralToken     string              `json:"collateral_token"`
	Fee                 int64               `json:"fee"`
	OpeningTimestamp    int64               `json:"opening_timestamp"`
	OutcomeCount        int                 `json:"outcome_count"`
	Outcomes            []string            `json:"outcomes"`
	OutcomeTokenAmounts []int64             `json:"outcome_token_amounts"`
	OutcomePrices       []float64           `json:"outcome_prices"`
	ScaledLiquidity     float64             `json:"scaled_liquidity"`
	QueueStatus         QueueStatus         `json:"queue_status"`
	Investments         Investments         `json:"investments"`
	ProcessedTimestamp  int64               `json:"processed_timestamp"`
	PositionLiquidity   int64               `json:"position_liquidity"`
	PotentialNetProfit  int64               `json:"potential_net_profit"`
	LastPrediction      *PredictionResponse `json:"last_prediction,omitempty"`
}

// Validate checks the structural invariants of a freshly built bet. A
// violation is a data problem of the market snapshot, not a programmer error:
// callers are expected to blacklist the offending bet instead of failing the
// whole cycle.
func (b *Bet) Validate() error {
	if b.ID == "" || b.Title == "" || b.CollateralToken == "" {
		return fmt.Errorf("bet %q: %w: missing identification fields", b.ID, ErrMalformedBet)
	}
	if b.OutcomeCount != BinaryOutcomeCount {
		return fmt.Errorf("bet %q: %w: unsupported outcome count %d", b.ID, ErrMalformedBet, b.OutcomeCount)
	}
	if b.Outcomes == nil {
		return fmt.Errorf("bet %q: %w: nil outcomes", b.ID, ErrMalformedBet)
	}
	if len(b.Outcomes) != b.OutcomeCount ||
		len(b.OutcomeTokenAmounts) != b.OutcomeCount ||
		len(b.OutcomePrices) != b.OutcomeCount {
		return fmt.Errorf("bet %q: %w: mismatched outcome list lengths", b.ID, ErrMalformedBet)
	}
	return nil
}

// BlacklistForever permanently removes the bet from circulation. Blacklisted
// bets keep their identity so that fresh market data can never resurrect them.
func (b *Bet) BlacklistForever() {
	b.Outcomes = nil
	b.QueueStatus = QueueExpired
	b.ProcessedTimestamp = math.MaxInt64
}

// BlacklistedForever reports whether the bet has been permanently removed.
func (b *Bet) BlacklistedForever() bool {
	return b.Outcomes == nil || b.ProcessedTimestamp == math.MaxInt64
}

// Expired reports whether the bet is out of circulation for any reason.
func (b *Bet) Expired() bool {
	return b.QueueStatus.IsExpired() || b.BlacklistedForever()
}

// Resolved reports whether the two-sided prices already signal a resolved
// market (either side at or above the resolution threshold).
func (b *Bet) Resolved() bool {
	for _, p := range b.OutcomePrices {
		if p >= resolvedPriceThreshold {
			return true
		}
	}
	return false
}

// InvestedAmount is the total collateral invested into this market so far.
func (b *Bet) InvestedAmount() int64 {
	return b.Investments.Total()
}

// Outcome returns the label of the outcome with the given index.
func (b *Bet) Outcome(index int) (string, error) {
	if b.Outcomes == nil {
		return "", fmt.Errorf("bet %q: %w: blacklisted bet has no outcomes", b.ID, ErrMalformedBet)
	}
	if index < 0 || index >= len(b.Outcomes) {
		return "", fmt.Errorf("bet %q: outcome index %d out of range", b.ID, index)
	}
	return b.Outcomes[index], nil
}

// UpdateMarketInfo merges a newer view of the same market into the bet,
// keeping the local processing state (queue status, investments, prediction
// history) intact.
func (b *Bet) UpdateMarketInfo(fresh *Bet) {
	if b.BlacklistedForever() {
		return
	}
	b.Title = fresh.Title
	b.CollateralToken = fresh.CollateralToken
	b.Fee = fresh.Fee
	b.OpeningTimestamp = fresh.OpeningTimestamp
	b.Outcomes = fresh.Outcomes
	b.OutcomeTokenAmounts = fresh.OutcomeTokenAmounts
	b.OutcomePrices = fresh.OutcomePrices
	b.ScaledLiquidity = fresh.ScaledLiquidity
}

// RebetAllowed reports whether placing another bet on a market that has
// already been bet on is permitted. A repeat bet must not flip-flop: the new
// prediction needs at least the previous confidence and, depending on whether
// the vote changed, either no worse position liquidity (same vote) or no
// worse potential profit (changed vote).
func (b *Bet) RebetAllowed(prev *PredictionResponse, prevLiquidity, prevProfit int64) bool {
	if prev == nil {
		return true
	}
	cur := b.LastPrediction
	if cur == nil {
		return false
	}
	if cur.Confidence < prev.Confidence {
		return false
	}
	curVote, curOK := cur.Vote()
	prevVote, prevOK := prev.Vote()
	sameVote := curOK && prevOK && curVote == prevVote
	if sameVote {
		return b.PositionLiquidity >= prevLiquidity
	}
	return b.PotentialNetProfit >= prevProfit
}
