package ledger

import (
	"errors"

	"github.com/oddlane/traderd/internal/domain"
)

var (
	errTxOpen = errors.New("ledger: transaction already open")
	errNoTx   = errors.New("ledger: no open transaction")
)

// Begin snapshots the collection so a failing cycle can roll back to the
// state it started from. Only one transaction may be open at a time; the
// runtime drives cycles sequentially, nesting would hide a logic error.
func (l *Ledger) Begin() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.txSnap != nil {
		return errTxOpen
	}
	snap := make(map[string]*domain.Bet, len(l.bets))
	for id, bet := range l.bets {
		snap[id] = cloneBet(bet)
	}
	l.txSnap = snap
	return nil
}

// Commit discards the snapshot, keeping every mutation made since Begin.
func (l *Ledger) Commit() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.txSnap == nil {
		return errNoTx
	}
	l.txSnap = nil
	return nil
}

// Rollback restores the collection to the Begin snapshot.
func (l *Ledger) Rollback() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.txSnap == nil {
		return errNoTx
	}
	l.bets = l.txSnap
	l.txSnap = nil
	return nil
}
