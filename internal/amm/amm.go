// Package amm implements the constant-product market maker math used to size
// buys and sells on binary prediction markets and to simulate the resulting
// pool liquidity.
package amm

import (
	"fmt"
	"math/big"

	"github.com/oddlane/traderd/internal/domain"
)

// Slippage is the tolerated ratio of obtained shares over the liquidity-based
// upper bound before a trade is flagged as high slippage.
const Slippage = 1.05

// BuyQuote is the outcome of simulating a buy against a two-sided pool.
type BuyQuote struct {
	// NumShares is the number of outcome tokens the trader ends up holding.
	NumShares int64
	// AvailableShares is the liquidity-based upper bound for the position.
	AvailableShares int64
	// HighSlippage flags that NumShares exceeds AvailableShares * Slippage.
	// It is a warning, not a rejection.
	HighSlippage bool
}

// CalcBinaryShares simulates buying into a binary constant-product pool.
//
// The market maker splits the net bet amount evenly into both outcome tokens
// at their marginal prices, then swaps the opposite-outcome tokens back into
// the selected outcome while preserving the pool invariant k = yes * no.
// All divisions truncate toward zero; amounts are in the smallest collateral
// unit.
func CalcBinaryShares(tokenAmounts []int64, prices []float64, netBetAmount int64, vote int) (BuyQuote, error) {
	if len(tokenAmounts) != domain.BinaryOutcomeCount || len(prices) != domain.BinaryOutcomeCount {
		return BuyQuote{}, fmt.Errorf("amm: calc shares: %w: need exactly %d outcome slots",
			domain.ErrMalformedBet, domain.BinaryOutcomeCount)
	}
	if vote != domain.OutcomeYes && vote != domain.OutcomeNo {
		return BuyQuote{}, fmt.Errorf("amm: calc shares: invalid vote %d", vote)
	}
	for i, p := range prices {
		if p <= 0 || p > 1 {
			return BuyQuote{}, fmt.Errorf("amm: calc shares: %w: price[%d]=%v out of (0, 1]",
				domain.ErrMalformedBet, i, p)
		}
	}

	// The pool invariant. Token amounts are wei scale, so the product needs
	// arbitrary precision.
	k := new(big.Int).Mul(
		big.NewInt(tokenAmounts[domain.OutcomeYes]),
		big.NewInt(tokenAmounts[domain.OutcomeNo]),
	)

	betPerToken := float64(netBetAmount) / domain.BinaryOutcomeCount
	traded := [domain.BinaryOutcomeCount]int64{}
	for i := range traded {
		traded[i] = int64(betPerToken / prices[i])
	}

	opposite := vote ^ 1
	selectedShares := traded[vote]
	otherShares := traded[opposite]
	selectedInPool := tokenAmounts[vote]
	otherInPool := tokenAmounts[opposite]

	// The opposite side absorbs the trade; what remains of the selected side
	// after rebalancing is k / (other + otherShares), truncated.
	denom := big.NewInt(otherInPool + otherShares)
	if denom.Sign() == 0 {
		return BuyQuote{}, fmt.Errorf("amm: calc shares: empty opposite pool side")
	}
	remaining := new(big.Int).Quo(k, denom)
	swappedShares := selectedInPool - remaining.Int64()

	numShares := selectedShares + swappedShares
	availableShares := int64(float64(selectedInPool) * prices[vote])

	return BuyQuote{
		NumShares:       numShares,
		AvailableShares: availableShares,
		HighSlippage:    float64(numShares) > float64(availableShares)*Slippage,
	}, nil
}

// PotentialNetProfit is the profit of holding numShares bought for
// netBetAmount once the bet threshold has been recovered. The position is
// profitable iff the result is non-negative.
func PotentialNetProfit(numShares, netBetAmount, betThreshold int64) int64 {
	return numShares - netBetAmount - betThreshold
}

// RemoveFraction strips a fee fraction from an amount, truncating toward zero.
func RemoveFraction(amount int64, fraction float64) int64 {
	return int64(float64(amount) * (1 - fraction))
}

// LiquidityInfo snapshots a pool's two-sided token amounts before and after a
// simulated trade. It is an intermediate value owned by the bet being priced.
type LiquidityInfo struct {
	StartYes int64 `json:"l0_start"`
	StartNo  int64 `json:"l1_start"`
	EndYes   int64 `json:"l0_end"`
	EndNo    int64 `json:"l1_end"`
}

// NewLiquidityInfo simulates adding betAmount of the voted outcome to the
// pool and rebalancing the opposite side along the constant product curve.
func NewLiquidityInfo(tokenAmounts []int64, betAmount int64, vote int) LiquidityInfo {
	opposite := vote ^ 1
	selected := tokenAmounts[vote]
	other := tokenAmounts[opposite]
	newSelected := selected + betAmount
	newOther := int64(float64(other) * float64(selected) / float64(newSelected))

	if vote == domain.OutcomeYes {
		return LiquidityInfo{StartYes: selected, StartNo: other, EndYes: newSelected, EndNo: newOther}
	}
	return LiquidityInfo{StartYes: other, StartNo: selected, EndYes: newOther, EndNo: newSelected}
}

// EndAmounts returns the post-trade pool amounts.
func (l LiquidityInfo) EndAmounts() []int64 {
	return []int64{l.EndYes, l.EndNo}
}

// NewPrices derives the post-trade marginal prices. The price of an outcome
// is the opposite side's share of the total pool.
func (l LiquidityInfo) NewPrices() []float64 {
	total := float64(l.EndYes + l.EndNo)
	if total == 0 {
		return []float64{0, 0}
	}
	return []float64{float64(l.EndNo) / total, float64(l.EndYes) / total}
}
