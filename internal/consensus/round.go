package consensus

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event is the outcome label a round emits once it concludes.
type Event string

// Events shared by all round types. Concrete rounds add their own domain
// events through post-processing.
const (
	EventDone         Event = "done"
	EventNone         Event = "none"
	EventNoMajority   Event = "no_majority"
	EventRoundTimeout Event = "round_timeout"
)

// RoundID names a round type inside the state machine.
type RoundID string

// Committee describes the replica set a round collects payloads from.
type Committee struct {
	// Replicas is the number of participating replicas.
	Replicas int
	// ThresholdNumerator / ThresholdDenominator encode the byzantine quorum
	// fraction; a round concludes once strictly more than this fraction of
	// replicas submitted the same payload.
	ThresholdNumerator   int
	ThresholdDenominator int
}

// NewCommittee builds a committee with the default > 2/3 byzantine threshold.
func NewCommittee(replicas int) Committee {
	return Committee{Replicas: replicas, ThresholdNumerator: 2, ThresholdDenominator: 3}
}

// Quorum is the minimum number of identical payloads required for a round to
// conclude.
func (c Committee) Quorum() int {
	return c.Replicas*c.ThresholdNumerator/c.ThresholdDenominator + 1
}

// Outcome is the conclusion of a round evaluation: the updated synchronized
// data and exactly one event.
type Outcome struct {
	Data  *SynchronizedData
	Event Event
}

// Round is one step of the consensus state machine.
type Round interface {
	ID() RoundID
	// Process evaluates the payloads collected so far. It returns nil while
	// the round is still waiting for quorum.
	Process(data *SynchronizedData, collected map[string]*Payload) (*Outcome, error)
	// Timeout is the wall-clock deadline for the round; zero means the
	// engine's default applies.
	Timeout() time.Duration
	// Preconditions lists the synchronized data keys that must be present
	// before the round may run.
	Preconditions() []string
}

// PostProcessFunc lets specialized rounds re-route the done outcome to a
// different event based on side conditions of the agreed data.
type PostProcessFunc func(data *SynchronizedData, event Event) (*SynchronizedData, Event, error)

// CollectSameRound concludes once the same payload value has been submitted
// by at least a quorum of replicas. On quorum it projects the agreed
// selection keys into the synchronized data and emits its done event (or the
// none event when the agreed payload was explicitly null).
type CollectSameRound struct {
	Name          string
	Committee     Committee
	SelectionKeys []string
	NoneAllowed   bool
	Pre           []string
	Deadline      time.Duration
	PostProcess   PostProcessFunc
}

// ID implements Round.
func (r *CollectSameRound) ID() RoundID { return RoundID(r.Name) }

// Timeout implements Round.
func (r *CollectSameRound) Timeout() time.Duration { return r.Deadline }

// Preconditions implements Round.
func (r *CollectSameRound) Preconditions() []string { return r.Pre }

// Process implements Round. The done, none, no_majority, and round_timeout
// outcomes are mutually exclusive per evaluation; round_timeout is raised by
// the engine driving the round, never from here.
func (r *CollectSameRound) Process(data *SynchronizedData, collected map[string]*Payload) (*Outcome, error) {
	agreed, status := r.countQuorum(collected)
	switch status {
	case quorumWaiting:
		return nil, nil
	case quorumImpossible:
		return &Outcome{Data: data, Event: EventNoMajority}, nil
	}

	if agreed.IsNull() {
		if !r.NoneAllowed {
			return nil, fmt.Errorf("consensus: round %s: quorum on null payload but no none event defined", r.Name)
		}
		return &Outcome{Data: data, Event: EventNone}, nil
	}

	updated, err := r.project(data, agreed)
	if err != nil {
		return nil, err
	}

	event := EventDone
	if r.PostProcess != nil {
		updated, event, err = r.PostProcess(updated, event)
		if err != nil {
			return nil, err
		}
	}
	return &Outcome{Data: updated, Event: event}, nil
}

type quorumStatus int

const (
	quorumWaiting quorumStatus = iota
	quorumReached
	quorumImpossible
)

// countQuorum tallies payload fingerprints. The round keeps waiting while a
// quorum is still possible; once the missing submissions can no longer lift
// any value over the threshold, no_majority is unavoidable.
func (r *CollectSameRound) countQuorum(collected map[string]*Payload) (*Payload, quorumStatus) {
	counts := make(map[string]int, len(collected))
	byFingerprint := make(map[string]*Payload, len(collected))
	best := 0
	for _, payload := range collected {
		fp := payload.Fingerprint()
		counts[fp]++
		byFingerprint[fp] = payload
		if counts[fp] > best {
			best = counts[fp]
		}
	}

	quorum := r.Committee.Quorum()
	for fp, n := range counts {
		if n >= quorum {
			return byFingerprint[fp], quorumReached
		}
	}

	missing := r.Committee.Replicas - len(collected)
	if best+missing < quorum {
		return nil, quorumImpossible
	}
	return nil, quorumWaiting
}

// project merges the agreed payload's selection keys into the synchronized
// data, returning a new logical copy.
func (r *CollectSameRound) project(data *SynchronizedData, agreed *Payload) (*SynchronizedData, error) {
	updates := make(map[string]json.RawMessage, len(r.SelectionKeys))
	for _, key := range r.SelectionKeys {
		raw, ok := agreed.Values[key]
		if !ok {
			return nil, fmt.Errorf("consensus: round %s: agreed payload misses selection key %q", r.Name, key)
		}
		updates[key] = raw
	}
	return data.WithUpdates(updates), nil
}

// VotingRound concludes on a boolean majority instead of payload equality:
// a quorum of true votes emits the done event, a quorum of false votes the
// negative event.
type VotingRound struct {
	Name          string
	Committee     Committee
	NegativeEvent Event
	Pre           []string
	Deadline      time.Duration
}

// ID implements Round.
func (r *VotingRound) ID() RoundID { return RoundID(r.Name) }

// Timeout implements Round.
func (r *VotingRound) Timeout() time.Duration { return r.Deadline }

// Preconditions implements Round.
func (r *VotingRound) Preconditions() []string { return r.Pre }

// Process implements Round.
func (r *VotingRound) Process(data *SynchronizedData, collected map[string]*Payload) (*Outcome, error) {
	var yes, no int
	for _, payload := range collected {
		raw, ok := payload.Values["vote"]
		if !ok {
			return nil, fmt.Errorf("consensus: round %s: payload from %s misses the vote field", r.Name, payload.Sender)
		}
		switch string(raw) {
		case "true":
			yes++
		case "false":
			no++
		default:
			return nil, fmt.Errorf("consensus: round %s: payload from %s has a non-boolean vote", r.Name, payload.Sender)
		}
	}

	quorum := r.Committee.Quorum()
	switch {
	case yes >= quorum:
		return &Outcome{Data: data, Event: EventDone}, nil
	case no >= quorum:
		return &Outcome{Data: data, Event: r.NegativeEvent}, nil
	}

	missing := r.Committee.Replicas - len(collected)
	if yes+missing < quorum && no+missing < quorum {
		return &Outcome{Data: data, Event: EventNoMajority}, nil
	}
	return nil, nil
}
