package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oddlane/traderd/internal/consensus"
)

// defaultTick is the poll interval for collected payloads while a round
// waits for quorum.
const defaultTick = 250 * time.Millisecond

// Runtime drives one replica through the consensus state machine: run the
// round's behaviour, publish its payload, poll the transport until the round
// concludes or its deadline passes, then follow the graph.
type Runtime struct {
	graph      *consensus.Graph
	rounds     map[consensus.RoundID]consensus.Round
	behaviours map[consensus.RoundID]Behaviour
	transport  Transport
	data       *consensus.SynchronizedData
	timeout    time.Duration
	tick       time.Duration
	logger     *slog.Logger
}

// NewRuntime wires rounds to behaviours. Every non-terminal round of the
// graph must have both a round definition and a behaviour.
func NewRuntime(
	graph *consensus.Graph,
	rounds map[consensus.RoundID]consensus.Round,
	behaviours []Behaviour,
	transport Transport,
	defaultTimeout time.Duration,
	logger *slog.Logger,
) (*Runtime, error) {
	byRound := make(map[consensus.RoundID]Behaviour, len(behaviours))
	for _, b := range behaviours {
		if _, dup := byRound[b.RoundID()]; dup {
			return nil, fmt.Errorf("pipeline: duplicate behaviour for round %s", b.RoundID())
		}
		byRound[b.RoundID()] = b
	}
	for id := range rounds {
		if _, ok := byRound[id]; !ok {
			return nil, fmt.Errorf("pipeline: round %s has no behaviour", id)
		}
	}

	return &Runtime{
		graph:      graph,
		rounds:     rounds,
		behaviours: byRound,
		transport:  transport,
		data:       consensus.NewSynchronizedData(),
		timeout:    defaultTimeout,
		tick:       defaultTick,
		logger:     logger.With(slog.String("component", "runtime")),
	}, nil
}

// Data returns the current synchronized data.
func (r *Runtime) Data() *consensus.SynchronizedData { return r.data }

// RunCycle walks the graph from its initial round to a terminal round and
// returns it. The synchronized data survives across cycles so later cycles
// see the agreed ledger hash and policy of earlier ones.
func (r *Runtime) RunCycle(ctx context.Context) (consensus.RoundID, error) {
	current := r.graph.Initial
	for {
		if r.graph.IsTerminal(current) {
			r.logger.Info("cycle finished", slog.String("terminal", string(current)))
			return current, nil
		}
		if err := ctx.Err(); err != nil {
			return current, err
		}

		event, err := r.runRound(ctx, current)
		if err != nil {
			return current, err
		}

		next, err := r.graph.Next(current, event)
		if err != nil {
			return current, err
		}
		r.logger.Info("round concluded",
			slog.String("round", string(current)),
			slog.String("event", string(event)),
			slog.String("next", string(next)))
		current = next
	}
}

// runRound executes one round to its event. A deadline that expires before
// quorum yields the round_timeout event rather than an error, so the graph
// decides what a stalled round means.
func (r *Runtime) runRound(ctx context.Context, id consensus.RoundID) (consensus.Event, error) {
	round, ok := r.rounds[id]
	if !ok {
		return "", fmt.Errorf("pipeline: round %s is not defined", id)
	}
	if err := r.data.CheckPresent(round.Preconditions()...); err != nil {
		return "", fmt.Errorf("pipeline: round %s: %w", id, err)
	}

	timeout := round.Timeout()
	if timeout <= 0 {
		timeout = r.timeout
	}
	roundCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	defer func() {
		if err := r.transport.Reset(ctx, id); err != nil {
			r.logger.Warn("transport reset failed",
				slog.String("round", string(id)), slog.String("error", err.Error()))
		}
	}()

	behaviour := r.behaviours[id]
	payload, err := behaviour.Execute(roundCtx, r.data)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return consensus.EventRoundTimeout, nil
		}
		return "", fmt.Errorf("pipeline: round %s: %w", id, err)
	}
	if err := r.transport.Publish(roundCtx, payload); err != nil {
		return "", fmt.Errorf("pipeline: round %s: publish: %w", id, err)
	}

	for {
		collected, err := r.transport.Collect(roundCtx, id)
		if err != nil {
			return "", fmt.Errorf("pipeline: round %s: collect: %w", id, err)
		}
		outcome, err := round.Process(r.data, collected)
		if err != nil {
			return "", fmt.Errorf("pipeline: round %s: %w", id, err)
		}
		if outcome != nil {
			r.data = outcome.Data
			return outcome.Event, nil
		}

		select {
		case <-roundCtx.Done():
			return consensus.EventRoundTimeout, nil
		case <-time.After(r.tick):
		}
	}
}
