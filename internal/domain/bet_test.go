package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validBet() *Bet {
	return &Bet{
		ID:                  "0xmarket",
		Title:               "Will it rain tomorrow?",
		CollateralToken:     "0xcollateral",
		Fee:                 20000000000000000, // 2%
		OpeningTimestamp:    1_700_000_000,
		OutcomeCount:        BinaryOutcomeCount,
		Outcomes:            []string{"Yes", "No"},
		OutcomeTokenAmounts: []int64{100, 100},
		OutcomePrices:       []float64{0.5, 0.5},
		ScaledLiquidity:     10,
		QueueStatus:         QueueFresh,
	}
}

func TestQueueStatus_Transitions(t *testing.T) {
	assert.Equal(t, QueueToProcess, QueueFresh.MoveToProcess())
	assert.Equal(t, QueueProcessed, QueueToProcess.Advance())
	assert.Equal(t, QueueReprocessed, QueueProcessed.Advance())
	// re-entrant terminal-ish state for repeat betting
	assert.Equal(t, QueueReprocessed, QueueReprocessed.Advance())
}

func TestQueueStatus_ExpiredIsSticky(t *testing.T) {
	assert.Equal(t, QueueExpired, QueueExpired.MoveToFresh())
	assert.Equal(t, QueueExpired, QueueExpired.MoveToProcess())
	assert.Equal(t, QueueExpired, QueueExpired.Advance())
	assert.Equal(t, QueueBenchmarkingDone, QueueBenchmarkingDone.MoveToFresh())
}

func TestQueueStatus_Requeue(t *testing.T) {
	for _, s := range []QueueStatus{QueueFresh, QueueToProcess, QueueProcessed, QueueReprocessed} {
		assert.Equal(t, QueueFresh, s.MoveToFresh(), s.String())
	}
}

func TestQueueStatus_Processable(t *testing.T) {
	assert.False(t, QueueExpired.Processable())
	assert.False(t, QueueFresh.Processable())
	assert.True(t, QueueToProcess.Processable())
	assert.True(t, QueueProcessed.Processable())
	assert.True(t, QueueReprocessed.Processable())
	assert.False(t, QueueBenchmarkingDone.Processable())
}

func TestBet_Validate(t *testing.T) {
	require.NoError(t, validBet().Validate())

	missing := validBet()
	missing.Title = ""
	assert.ErrorIs(t, missing.Validate(), ErrMalformedBet)

	slots := validBet()
	slots.OutcomeCount = 3
	assert.ErrorIs(t, slots.Validate(), ErrMalformedBet)

	mismatched := validBet()
	mismatched.OutcomePrices = []float64{0.5}
	assert.ErrorIs(t, mismatched.Validate(), ErrMalformedBet)

	blacklisted := validBet()
	blacklisted.Outcomes = nil
	assert.ErrorIs(t, blacklisted.Validate(), ErrMalformedBet)
}

func TestBet_BlacklistForever(t *testing.T) {
	b := validBet()
	b.BlacklistForever()

	assert.Nil(t, b.Outcomes)
	assert.Equal(t, QueueExpired, b.QueueStatus)
	assert.Equal(t, int64(math.MaxInt64), b.ProcessedTimestamp)
	assert.True(t, b.BlacklistedForever())
	assert.True(t, b.Expired())
}

func TestBet_UpdateMarketInfo_NeverUnblacklists(t *testing.T) {
	b := validBet()
	b.BlacklistForever()

	fresh := validBet()
	fresh.ScaledLiquidity = 42
	b.UpdateMarketInfo(fresh)

	assert.Nil(t, b.Outcomes, "fresh market data must not resurrect a blacklisted bet")
	assert.True(t, b.BlacklistedForever())
}

func TestBet_UpdateMarketInfo_KeepsLocalState(t *testing.T) {
	b := validBet()
	b.QueueStatus = QueueProcessed
	b.Investments.Append(OutcomeYes, 100)

	fresh := validBet()
	fresh.ScaledLiquidity = 42
	fresh.OutcomeTokenAmounts = []int64{90, 110}
	b.UpdateMarketInfo(fresh)

	assert.Equal(t, QueueProcessed, b.QueueStatus)
	assert.Equal(t, int64(100), b.InvestedAmount())
	assert.Equal(t, 42.0, b.ScaledLiquidity)
	assert.Equal(t, []int64{90, 110}, b.OutcomeTokenAmounts)
}

func TestBet_Resolved(t *testing.T) {
	b := validBet()
	assert.False(t, b.Resolved())

	b.OutcomePrices = []float64{0.995, 0.005}
	assert.True(t, b.Resolved())
}

func TestInvestments_BothSides(t *testing.T) {
	var inv Investments
	inv.Append(OutcomeYes, 10)
	inv.Append(OutcomeNo, 20)
	inv.Append(OutcomeNo, 5)

	assert.Equal(t, []int64{10}, inv.Side(OutcomeYes))
	assert.Equal(t, []int64{20, 5}, inv.Side(OutcomeNo))
	assert.Equal(t, int64(35), inv.Total())
}

func TestBet_RebetAllowed(t *testing.T) {
	prev := &PredictionResponse{PYes: 0.6, PNo: 0.4, Confidence: 0.5}

	t.Run("no prior bet", func(t *testing.T) {
		b := validBet()
		b.LastPrediction = &PredictionResponse{PYes: 0.7, PNo: 0.3, Confidence: 0.4}
		assert.True(t, b.RebetAllowed(nil, 0, 0))
	})

	t.Run("lower confidence rejected", func(t *testing.T) {
		b := validBet()
		b.LastPrediction = &PredictionResponse{PYes: 0.7, PNo: 0.3, Confidence: 0.4}
		assert.False(t, b.RebetAllowed(prev, 0, 0))
	})

	t.Run("same vote needs no worse liquidity", func(t *testing.T) {
		b := validBet()
		b.LastPrediction = &PredictionResponse{PYes: 0.7, PNo: 0.3, Confidence: 0.6}
		b.PositionLiquidity = 100
		assert.True(t, b.RebetAllowed(prev, 90, 0))
		assert.False(t, b.RebetAllowed(prev, 110, 0))
	})

	t.Run("changed vote needs no worse profit", func(t *testing.T) {
		b := validBet()
		b.LastPrediction = &PredictionResponse{PYes: 0.3, PNo: 0.7, Confidence: 0.6}
		b.PotentialNetProfit = 50
		assert.True(t, b.RebetAllowed(prev, 0, 40))
		assert.False(t, b.RebetAllowed(prev, 0, 60))
	})
}
