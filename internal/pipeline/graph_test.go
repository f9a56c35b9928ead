package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oddlane/traderd/internal/consensus"
)

func testParams() Params {
	return Params{
		Sender:        "replica-0",
		Committee:     consensus.NewCommittee(4),
		SafetyMargin:  time.Hour,
		BetThreshold:  100,
		Strategy:      "kelly_criterion",
		RoundTimeout:  30 * time.Second,
		RetryInterval: 10 * time.Millisecond,
	}
}

func TestTradeGraphValidates(t *testing.T) {
	graph, rounds, err := NewTradeGraph(testParams())
	require.NoError(t, err)
	require.NotNil(t, graph)

	for id := range graph.Transitions {
		require.Contains(t, rounds, id, "transition source %s has no round", id)
	}
	require.True(t, graph.IsTerminal(RoundFinishedWithDecision))
	require.True(t, graph.IsTerminal(RoundRefillRequired))
	require.False(t, graph.IsTerminal(RoundSampling))
}

func TestBenchmarkGraphValidates(t *testing.T) {
	graph, rounds, err := NewBenchmarkGraph(testParams())
	require.NoError(t, err)
	require.Len(t, rounds, 4)
	require.True(t, graph.IsTerminal(RoundBenchmarkingDone))

	next, err := graph.Next(RoundBenchmarking, consensus.EventDone)
	require.NoError(t, err)
	require.Equal(t, RoundSampling, next)
	next, err = graph.Next(RoundSampling, consensus.EventNone)
	require.NoError(t, err)
	require.Equal(t, RoundBenchmarkingDone, next)
}

func dataWith(t *testing.T, values map[string]any) *consensus.SynchronizedData {
	t.Helper()
	data := consensus.NewSynchronizedData()
	for key, value := range values {
		var err error
		data, err = data.With(key, value)
		require.NoError(t, err)
	}
	return data
}

func TestDecisionPostProcess(t *testing.T) {
	t.Run("null vote is a tie", func(t *testing.T) {
		data := dataWith(t, map[string]any{
			consensus.KeyVote:         nil,
			consensus.KeyIsProfitable: true,
		})
		_, event, err := decisionPostProcess(data, consensus.EventDone)
		require.NoError(t, err)
		require.Equal(t, EventTie, event)
	})

	t.Run("unprofitable decision is rerouted", func(t *testing.T) {
		data := dataWith(t, map[string]any{
			consensus.KeyVote:         0,
			consensus.KeyIsProfitable: false,
		})
		_, event, err := decisionPostProcess(data, consensus.EventDone)
		require.NoError(t, err)
		require.Equal(t, EventUnprofitable, event)
	})

	t.Run("profitable vote passes through", func(t *testing.T) {
		data := dataWith(t, map[string]any{
			consensus.KeyVote:         1,
			consensus.KeyIsProfitable: true,
		})
		_, event, err := decisionPostProcess(data, consensus.EventDone)
		require.NoError(t, err)
		require.Equal(t, consensus.EventDone, event)
	})

	t.Run("non-done events are untouched", func(t *testing.T) {
		data := consensus.NewSynchronizedData()
		_, event, err := decisionPostProcess(data, consensus.EventNone)
		require.NoError(t, err)
		require.Equal(t, consensus.EventNone, event)
	})
}

func TestEmptyHashPostProcess(t *testing.T) {
	data := dataWith(t, map[string]any{consensus.KeyFinalTxHash: ""})
	_, event, err := emptyHashPostProcess(data, consensus.EventDone)
	require.NoError(t, err)
	require.Equal(t, EventCalcBuyAmountFailed, event)

	data = dataWith(t, map[string]any{consensus.KeyFinalTxHash: "0xabc"})
	_, event, err = emptyHashPostProcess(data, consensus.EventDone)
	require.NoError(t, err)
	require.Equal(t, consensus.EventDone, event)
}

func TestSettlementPostProcess(t *testing.T) {
	cases := []struct {
		submitter string
		want      consensus.Event
	}{
		{SubmitterBetPlacement, EventBetPlacementDone},
		{SubmitterRedeem, EventRedeemingDone},
		{"rogue", EventUnrecognizedSubmitter},
	}
	for _, tc := range cases {
		data := dataWith(t, map[string]any{consensus.KeyTxSubmitter: tc.submitter})
		_, event, err := settlementPostProcess(data, consensus.EventDone)
		require.NoError(t, err)
		require.Equal(t, tc.want, event, "submitter %q", tc.submitter)
	}
}
