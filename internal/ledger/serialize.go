package ledger

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/oddlane/traderd/internal/domain"
)

// Serialize encodes the full collection in a canonical form: a JSON array of
// bets in id order. Two replicas holding the same bets produce the same
// bytes, which makes the content hash usable for consensus.
func (l *Ledger) Serialize() ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	bets := make([]*domain.Bet, 0, len(l.bets))
	for _, id := range l.sortedIDs() {
		bets = append(bets, l.bets[id])
	}
	raw, err := json.Marshal(bets)
	if err != nil {
		return nil, fmt.Errorf("ledger: serialize: %w", err)
	}
	return raw, nil
}

// Hash is the keccak256 of the serialized collection, hex encoded with a 0x
// prefix. Rounds agree on bets by agreeing on this string.
func (l *Ledger) Hash() (string, error) {
	raw, err := l.Serialize()
	if err != nil {
		return "", err
	}
	return crypto.Keccak256Hash(raw).Hex(), nil
}

// Load replaces the collection with a previously serialized one.
func (l *Ledger) Load(raw []byte) error {
	var bets []*domain.Bet
	if err := json.Unmarshal(raw, &bets); err != nil {
		return fmt.Errorf("ledger: load: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.bets = make(map[string]*domain.Bet, len(bets))
	for _, bet := range bets {
		l.bets[bet.ID] = bet
	}
	return nil
}
