package consensus

import (
	"fmt"

	"github.com/oddlane/traderd/internal/domain"
)

// Graph is the state machine over rounds: nodes are round types, edges are
// (round, event) pairs. The graph must be total over the events each round
// can emit; a missing edge for a reachable event is a configuration error
// caught by Validate at startup, never guessed at runtime.
type Graph struct {
	Initial     RoundID
	Transitions map[RoundID]map[Event]RoundID
	// Terminal rounds have no outgoing edges and end the run.
	Terminal map[RoundID]bool
	// Events declares, per round, every event the round can emit. Validate
	// checks the transition table against this set.
	Events map[RoundID][]Event
}

// Validate checks the structural invariants of the graph: a known initial
// round, an edge for every declared (round, event) pair, no outgoing edges
// from terminal rounds, and no edges into unknown rounds.
func (g *Graph) Validate() error {
	if _, ok := g.Transitions[g.Initial]; !ok && !g.Terminal[g.Initial] {
		return fmt.Errorf("consensus: fsm: initial round %q has no transitions", g.Initial)
	}

	known := make(map[RoundID]bool, len(g.Transitions)+len(g.Terminal))
	for id := range g.Transitions {
		known[id] = true
	}
	for id := range g.Terminal {
		known[id] = true
	}

	for round, events := range g.Events {
		if g.Terminal[round] {
			continue
		}
		edges, ok := g.Transitions[round]
		if !ok {
			return fmt.Errorf("consensus: fsm: round %q declares events but has no transitions", round)
		}
		for _, event := range events {
			if _, ok := edges[event]; !ok {
				return fmt.Errorf("consensus: fsm: %w: (%s, %s)", domain.ErrMissingTransition, round, event)
			}
		}
	}

	for round, edges := range g.Transitions {
		if g.Terminal[round] && len(edges) > 0 {
			return fmt.Errorf("consensus: fsm: terminal round %q has outgoing edges", round)
		}
		for event, next := range edges {
			if !known[next] {
				return fmt.Errorf("consensus: fsm: edge (%s, %s) leads to unknown round %q", round, event, next)
			}
		}
	}
	return nil
}

// Next resolves the round that follows the given (round, event) pair. An
// unmapped pair for a live round is fatal.
func (g *Graph) Next(round RoundID, event Event) (RoundID, error) {
	if g.Terminal[round] {
		return "", fmt.Errorf("consensus: fsm: terminal round %q emits no events", round)
	}
	edges, ok := g.Transitions[round]
	if !ok {
		return "", fmt.Errorf("consensus: fsm: %w: unknown round %q", domain.ErrMissingTransition, round)
	}
	next, ok := edges[event]
	if !ok {
		return "", fmt.Errorf("consensus: fsm: %w: (%s, %s)", domain.ErrMissingTransition, round, event)
	}
	return next, nil
}

// IsTerminal reports whether the round ends the run.
func (g *Graph) IsTerminal(round RoundID) bool { return g.Terminal[round] }
