package consensus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddlane/traderd/internal/domain"
)

func validGraph() *Graph {
	return &Graph{
		Initial: "sampling",
		Transitions: map[RoundID]map[Event]RoundID{
			"sampling": {
				EventDone:         "tool_selection",
				EventNone:         "finished",
				EventNoMajority:   "sampling",
				EventRoundTimeout: "sampling",
			},
			"tool_selection": {
				EventDone:         "finished",
				EventNoMajority:   "tool_selection",
				EventRoundTimeout: "tool_selection",
			},
		},
		Terminal: map[RoundID]bool{"finished": true},
		Events: map[RoundID][]Event{
			"sampling":       {EventDone, EventNone, EventNoMajority, EventRoundTimeout},
			"tool_selection": {EventDone, EventNoMajority, EventRoundTimeout},
		},
	}
}

func TestGraphValidate(t *testing.T) {
	require.NoError(t, validGraph().Validate())
}

func TestGraphValidate_MissingEdge(t *testing.T) {
	g := validGraph()
	delete(g.Transitions["tool_selection"], EventNoMajority)

	err := g.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMissingTransition)
}

func TestGraphValidate_UnknownInitial(t *testing.T) {
	g := validGraph()
	g.Initial = "missing"
	assert.Error(t, g.Validate())
}

func TestGraphValidate_EdgeToUnknownRound(t *testing.T) {
	g := validGraph()
	g.Transitions["sampling"][EventDone] = "nowhere"
	assert.Error(t, g.Validate())
}

func TestGraphValidate_TerminalWithEdges(t *testing.T) {
	g := validGraph()
	g.Transitions["finished"] = map[Event]RoundID{EventDone: "sampling"}
	assert.Error(t, g.Validate())
}

func TestGraphNext(t *testing.T) {
	g := validGraph()

	next, err := g.Next("sampling", EventDone)
	require.NoError(t, err)
	assert.Equal(t, RoundID("tool_selection"), next)

	next, err = g.Next("sampling", EventRoundTimeout)
	require.NoError(t, err)
	assert.Equal(t, RoundID("sampling"), next, "timeout restarts the round")

	_, err = g.Next("sampling", Event("unmapped"))
	assert.ErrorIs(t, err, domain.ErrMissingTransition)

	_, err = g.Next("finished", EventDone)
	assert.Error(t, err, "terminal rounds emit no events")

	assert.True(t, g.IsTerminal("finished"))
	assert.False(t, g.IsTerminal("sampling"))
}
