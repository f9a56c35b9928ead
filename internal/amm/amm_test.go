package amm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddlane/traderd/internal/domain"
)

func TestCalcBinaryShares_BalancedPool(t *testing.T) {
	// Pool (100, 100) at prices (0.5, 0.5) with a net bet of 10 on outcome 0:
	// bet per token is 5, so 10 tokens are traded on each side.
	quote, err := CalcBinaryShares([]int64{100, 100}, []float64{0.5, 0.5}, 10, domain.OutcomeYes)
	require.NoError(t, err)

	// k=10000, remaining = 10000/(100+10) = 90, swapped = 100-90 = 10,
	// so the position is 10 + 10 = 20 shares.
	assert.Equal(t, int64(20), quote.NumShares)
	assert.Equal(t, int64(50), quote.AvailableShares)
	assert.False(t, quote.HighSlippage, "balanced pool with a small bet must not warn")
}

func TestCalcBinaryShares_HighSlippage(t *testing.T) {
	// A bet of the same magnitude as the pool exhausts the liquidity bound.
	quote, err := CalcBinaryShares([]int64{100, 100}, []float64{0.5, 0.5}, 200, domain.OutcomeYes)
	require.NoError(t, err)
	assert.True(t, float64(quote.NumShares) > float64(quote.AvailableShares)*Slippage)
	assert.True(t, quote.HighSlippage)
}

func TestCalcBinaryShares_TruncatesTowardZero(t *testing.T) {
	// bet per token = 3.5, traded = floor(3.5/0.5) = 7 on both sides.
	quote, err := CalcBinaryShares([]int64{100, 100}, []float64{0.5, 0.5}, 7, domain.OutcomeNo)
	require.NoError(t, err)
	// remaining = floor(10000/107) = 93, swapped = 7, shares = 7+7 = 14.
	assert.Equal(t, int64(14), quote.NumShares)
}

func TestCalcBinaryShares_WeiScalePools(t *testing.T) {
	// Wei-scale amounts whose product overflows int64.
	yes := int64(2_000_000_000_000_000_000)
	no := int64(1_000_000_000_000_000_000)
	quote, err := CalcBinaryShares([]int64{yes, no}, []float64{1.0 / 3, 2.0 / 3}, 3_000_000, domain.OutcomeYes)
	require.NoError(t, err)
	assert.Positive(t, quote.NumShares)
	assert.LessOrEqual(t, quote.NumShares, yes)
}

func TestCalcBinaryShares_Invalid(t *testing.T) {
	_, err := CalcBinaryShares([]int64{100}, []float64{0.5, 0.5}, 10, domain.OutcomeYes)
	assert.ErrorIs(t, err, domain.ErrMalformedBet)

	_, err = CalcBinaryShares([]int64{100, 100}, []float64{0.0, 1.0}, 10, domain.OutcomeYes)
	assert.ErrorIs(t, err, domain.ErrMalformedBet)

	_, err = CalcBinaryShares([]int64{100, 100}, []float64{0.5, 0.5}, 10, 2)
	assert.Error(t, err)
}

func TestPotentialNetProfit(t *testing.T) {
	assert.Equal(t, int64(5), PotentialNetProfit(20, 10, 5))
	assert.Equal(t, int64(0), PotentialNetProfit(15, 10, 5))
	assert.Equal(t, int64(-1), PotentialNetProfit(14, 10, 5))
}

func TestRemoveFraction(t *testing.T) {
	assert.Equal(t, int64(98), RemoveFraction(100, 0.02))
	assert.Equal(t, int64(100), RemoveFraction(100, 0))
	assert.Equal(t, int64(0), RemoveFraction(0, 0.5))
}

func TestNewLiquidityInfo(t *testing.T) {
	info := NewLiquidityInfo([]int64{100, 100}, 100, domain.OutcomeYes)
	assert.Equal(t, int64(100), info.StartYes)
	assert.Equal(t, int64(100), info.StartNo)
	assert.Equal(t, int64(200), info.EndYes)
	assert.Equal(t, int64(50), info.EndNo)

	// voting no mirrors the pool sides
	info = NewLiquidityInfo([]int64{100, 100}, 100, domain.OutcomeNo)
	assert.Equal(t, int64(50), info.EndYes)
	assert.Equal(t, int64(200), info.EndNo)
}

func TestLiquidityInfo_NewPrices(t *testing.T) {
	info := LiquidityInfo{StartYes: 1, StartNo: 1, EndYes: 1, EndNo: 1}
	assert.Equal(t, []float64{0.5, 0.5}, info.NewPrices())

	// the cheaper side is the one holding more tokens
	info = LiquidityInfo{EndYes: 300, EndNo: 100}
	prices := info.NewPrices()
	assert.InDelta(t, 0.25, prices[0], 1e-9)
	assert.InDelta(t, 0.75, prices[1], 1e-9)
}
