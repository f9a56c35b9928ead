package amm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddlane/traderd/internal/domain"
)

func TestCalcSellAmountInCollateral(t *testing.T) {
	// (100-r)(120-r) = 10000 has the positive root r ~= 9.501.
	collateral, err := CalcSellAmountInCollateral(20, []int64{100, 100}, domain.OutcomeYes, 0)
	require.NoError(t, err)
	assert.InDelta(t, 9.5, float64(collateral), 1)
}

func TestCalcSellAmountInCollateral_WithFee(t *testing.T) {
	noFee, err := CalcSellAmountInCollateral(20, []int64{100, 100}, domain.OutcomeYes, 0)
	require.NoError(t, err)
	withFee, err := CalcSellAmountInCollateral(20, []int64{100, 100}, domain.OutcomeYes, 0.05)
	require.NoError(t, err)
	assert.Less(t, withFee, noFee, "the fee reduces the returned collateral")
}

func TestCalcSellAmountInCollateral_Invalid(t *testing.T) {
	_, err := CalcSellAmountInCollateral(10, []int64{100, 100}, domain.OutcomeYes, 1)
	assert.Error(t, err)

	_, err = CalcSellAmountInCollateral(10, []int64{100, 100}, 5, 0)
	assert.Error(t, err)

	_, err = CalcSellAmountInCollateral(10, []int64{100}, 0, 0)
	assert.Error(t, err)
}

// Buying into a pool and then applying the equal-and-opposite trade must
// return the pool to its starting amounts within integer rounding.
func TestLiquidity_BuySellRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		pool []int64
		bet  int64
		vote int
	}{
		{"balanced", []int64{100, 100}, 10, domain.OutcomeYes},
		{"skewed", []int64{300, 120}, 40, domain.OutcomeNo},
		{"wei scale", []int64{2_000_000_000_000_000_000, 1_000_000_000_000_000_000}, 5_000_000, domain.OutcomeYes},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			bought := NewLiquidityInfo(tc.pool, tc.bet, tc.vote)
			sold := NewLiquidityInfo(bought.EndAmounts(), -tc.bet, tc.vote)

			assert.InDelta(t, float64(tc.pool[0]), float64(sold.EndAmounts()[0]), 1)
			assert.InDelta(t, float64(tc.pool[1]), float64(sold.EndAmounts()[1]), 1)
		})
	}
}

// A buy followed by selling the obtained shares against the post-trade pool
// recovers approximately the collateral that was put in.
func TestBuySell_CollateralRoundTrip(t *testing.T) {
	pool := []int64{100, 100}
	prices := []float64{0.5, 0.5}
	const bet = 10

	quote, err := CalcBinaryShares(pool, prices, bet, domain.OutcomeYes)
	require.NoError(t, err)

	// Post-buy pool: the trade mints bet tokens on each side, the trader
	// walks away with the bought shares of the selected outcome.
	postPool := []int64{
		pool[0] + bet - quote.NumShares,
		pool[1] + bet,
	}
	collateral, err := CalcSellAmountInCollateral(quote.NumShares, postPool, domain.OutcomeYes, 0)
	require.NoError(t, err)
	assert.InDelta(t, float64(bet), float64(collateral), 1.5)
}
