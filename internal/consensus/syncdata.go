package consensus

import (
	"encoding/json"
	"fmt"

	"github.com/oddlane/traderd/internal/domain"
)

// Well-known synchronized data keys. A round may declare some of these as
// required-present preconditions and guarantees others as postconditions.
const (
	KeyBetsHash             = "bets_hash"
	KeySampledBetIndex      = "sampled_bet_index"
	KeyMechTool             = "mech_tool"
	KeyMechRequestID        = "mech_request_id"
	KeyMechResponse         = "mech_response"
	KeyVote                 = "vote"
	KeyDecisionType         = "decision_type"
	KeyConfidence           = "confidence"
	KeyIsProfitable         = "is_profitable"
	KeyBetAmount            = "bet_amount"
	KeyPolicy               = "policy"
	KeyTxSubmitter          = "tx_submitter"
	KeyFinalTxHash          = "final_tx_hash"
	KeyWalletBalance        = "wallet_balance"
	KeyTokenBalance         = "token_balance"
	KeyBenchmarkingFinished = "benchmarking_finished"
	KeyNextMockDataRow      = "next_mock_data_row"
)

// SynchronizedData is the append-only, quorum-replicated key/value store all
// rounds read and write through. Updates produce a new logical copy; the
// receiver is never mutated, so peers holding older copies stay valid.
type SynchronizedData struct {
	kv map[string]json.RawMessage
}

// NewSynchronizedData returns an empty store.
func NewSynchronizedData() *SynchronizedData {
	return &SynchronizedData{kv: make(map[string]json.RawMessage)}
}

// WithUpdates returns a copy of the store with the given raw values merged in.
func (s *SynchronizedData) WithUpdates(values map[string]json.RawMessage) *SynchronizedData {
	next := make(map[string]json.RawMessage, len(s.kv)+len(values))
	for k, v := range s.kv {
		next[k] = v
	}
	for k, v := range values {
		next[k] = v
	}
	return &SynchronizedData{kv: next}
}

// With returns a copy of the store with one plain Go value set.
func (s *SynchronizedData) With(key string, value any) (*SynchronizedData, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("consensus: encode %q: %w", key, err)
	}
	return s.WithUpdates(map[string]json.RawMessage{key: raw}), nil
}

// Has reports whether the key is present (an explicit null counts as absent).
func (s *SynchronizedData) Has(key string) bool {
	raw, ok := s.kv[key]
	return ok && string(raw) != "null"
}

// Raw returns the raw value stored under key.
func (s *SynchronizedData) Raw(key string) (json.RawMessage, error) {
	raw, ok := s.kv[key]
	if !ok {
		return nil, fmt.Errorf("consensus: %q: %w", key, domain.ErrMissingKey)
	}
	return raw, nil
}

func decode[T any](s *SynchronizedData, key string) (T, error) {
	var out T
	raw, err := s.Raw(key)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("consensus: decode %q: %w", key, err)
	}
	return out, nil
}

// String returns the string stored under key.
func (s *SynchronizedData) String(key string) (string, error) { return decode[string](s, key) }

// Int returns the integer stored under key.
func (s *SynchronizedData) Int(key string) (int64, error) { return decode[int64](s, key) }

// Float returns the float stored under key.
func (s *SynchronizedData) Float(key string) (float64, error) { return decode[float64](s, key) }

// Bool returns the boolean stored under key.
func (s *SynchronizedData) Bool(key string) (bool, error) { return decode[bool](s, key) }

// Vote returns the agreed vote index; ok is false when the agreed value was
// an explicit null (a tie).
func (s *SynchronizedData) Vote() (vote int64, ok bool, err error) {
	raw, err := s.Raw(KeyVote)
	if err != nil {
		return 0, false, err
	}
	if string(raw) == "null" {
		return 0, false, nil
	}
	if err := json.Unmarshal(raw, &vote); err != nil {
		return 0, false, fmt.Errorf("consensus: decode %q: %w", KeyVote, err)
	}
	return vote, true, nil
}

// CheckPresent verifies that every listed key is present, returning an error
// naming the first missing one. Rounds use it to check their precondition
// sets at entry.
func (s *SynchronizedData) CheckPresent(keys ...string) error {
	for _, key := range keys {
		if !s.Has(key) {
			return fmt.Errorf("consensus: precondition %q: %w", key, domain.ErrMissingKey)
		}
	}
	return nil
}
