// Package consensus implements the generic round engine the decision pipeline
// is built from: per-replica payload collection, quorum counting over payload
// equality, the replicated key/value store rounds agree through, and the state
// machine mapping (round, event) pairs to the next round.
package consensus

import (
	"encoding/json"
	"fmt"
)

// Payload is one replica's submission for a round. Values holds the fields
// the round's selection keys project into the synchronized data once quorum
// is reached.
type Payload struct {
	Sender string                     `json:"sender"`
	Round  RoundID                    `json:"round"`
	Values map[string]json.RawMessage `json:"values"`
}

// NewPayload builds a payload from plain Go values. A nil value marks the
// whole payload as explicitly null for its key.
func NewPayload(sender string, round RoundID, values map[string]any) (*Payload, error) {
	encoded := make(map[string]json.RawMessage, len(values))
	for key, value := range values {
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("consensus: encode payload value %q: %w", key, err)
		}
		encoded[key] = raw
	}
	return &Payload{Sender: sender, Round: round, Values: encoded}, nil
}

// Fingerprint is the canonical serialized form of the payload's values, used
// for quorum counting: two replicas agree iff their fingerprints are equal.
// encoding/json sorts map keys, which makes the form canonical.
func (p *Payload) Fingerprint() string {
	raw, err := json.Marshal(p.Values)
	if err != nil {
		// Values are RawMessages produced by json.Marshal; re-encoding them
		// cannot fail.
		panic(fmt.Sprintf("consensus: payload fingerprint: %v", err))
	}
	return string(raw)
}

// IsNull reports whether every value of the payload is an explicit JSON null.
// A quorum on a null payload triggers the round's none event.
func (p *Payload) IsNull() bool {
	if len(p.Values) == 0 {
		return true
	}
	for _, raw := range p.Values {
		if string(raw) != "null" {
			return false
		}
	}
	return true
}

// Marshal encodes the payload for the wire.
func (p *Payload) Marshal() ([]byte, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("consensus: marshal payload: %w", err)
	}
	return raw, nil
}

// UnmarshalPayload decodes a payload received from a peer replica.
func UnmarshalPayload(raw []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("consensus: unmarshal payload: %w", err)
	}
	return &p, nil
}
