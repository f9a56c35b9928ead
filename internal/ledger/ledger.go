// Package ledger holds the in-memory bet collection the agent trades from.
// The collection is rebuilt from market snapshots every cycle; in-flight
// processing state is carried forward by bet id. Replicas agree on the
// ledger only through the content hash of its serialized form.
package ledger

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/oddlane/traderd/internal/domain"
)

// Ledger is the bet collection keyed by market id. All operations take the
// internal lock; callers mutate entries only through Mutate so the lock
// discipline stays in one place.
type Ledger struct {
	mu     sync.RWMutex
	bets   map[string]*domain.Bet
	txSnap map[string]*domain.Bet
	logger *slog.Logger
}

// New returns an empty ledger.
func New(logger *slog.Logger) *Ledger {
	return &Ledger{
		bets:   make(map[string]*domain.Bet),
		logger: logger.With(slog.String("component", "ledger")),
	}
}

// Len is the number of tracked bets, blacklisted ones included.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.bets)
}

// Get returns a copy of the bet with the given id.
func (l *Ledger) Get(id string) (domain.Bet, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	bet, ok := l.bets[id]
	if !ok {
		return domain.Bet{}, false
	}
	return *cloneBet(bet), true
}

// Bets returns copies of all tracked bets in id order.
func (l *Ledger) Bets() []domain.Bet {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.Bet, 0, len(l.bets))
	for _, id := range l.sortedIDs() {
		out = append(out, *cloneBet(l.bets[id]))
	}
	return out
}

// Mutate applies fn to the bet with the given id under the ledger lock.
func (l *Ledger) Mutate(id string, fn func(*domain.Bet)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	bet, ok := l.bets[id]
	if !ok {
		return fmt.Errorf("ledger: bet %q: %w", id, domain.ErrNotFound)
	}
	fn(bet)
	return nil
}

// Upsert merges freshly fetched market snapshots into the collection by id.
// New markets enter as fresh; known markets only take the market-data fields
// so local processing state survives the refresh. A permanently blacklisted
// entry is never overwritten, whatever the snapshot says. Malformed
// snapshots are blacklisted instead of aborting the cycle.
func (l *Ledger) Upsert(snapshots []domain.Bet) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range snapshots {
		fresh := cloneBet(&snapshots[i])
		if err := fresh.Validate(); err != nil {
			l.logger.Warn("blacklisting malformed market snapshot",
				slog.String("bet_id", fresh.ID), slog.String("reason", err.Error()))
			fresh.BlacklistForever()
		}
		existing, ok := l.bets[fresh.ID]
		if !ok {
			if !fresh.BlacklistedForever() {
				fresh.QueueStatus = domain.QueueFresh
			}
			l.bets[fresh.ID] = fresh
			continue
		}
		existing.UpdateMarketInfo(fresh)
	}
}

// SweepFreshness promotes fresh bets to the processing queue. In single-bet
// mode every fresh bet is promoted on its own; in multi-bet mode promotion
// happens only when every non-expired bet is simultaneously fresh, keeping
// the cohort synchronized.
func (l *Ledger) SweepFreshness(multiBet bool) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if multiBet {
		for _, bet := range l.bets {
			if !bet.Expired() && !bet.QueueStatus.IsFresh() {
				return 0
			}
		}
	}

	promoted := 0
	for _, bet := range l.bets {
		if bet.QueueStatus.IsFresh() {
			bet.QueueStatus = bet.QueueStatus.MoveToProcess()
			promoted++
		}
	}
	return promoted
}

// Requeue moves a bet back to fresh so a later sweep reconsiders it, e.g.
// for repeat betting or selling an open position. Expired bets stay expired.
func (l *Ledger) Requeue(id string) error {
	return l.Mutate(id, func(bet *domain.Bet) {
		bet.QueueStatus = bet.QueueStatus.MoveToFresh()
	})
}

// BlacklistExpired permanently expires every bet whose opening time is
// within margin of now, and every bet whose price already signals a resolved
// market regardless of its opening time. It returns the number of bets
// removed from circulation.
func (l *Ledger) BlacklistExpired(now time.Time, margin time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(margin).Unix()
	expired := 0
	for _, bet := range l.bets {
		if bet.Expired() {
			continue
		}
		if bet.OpeningTimestamp > cutoff && !bet.Resolved() {
			continue
		}
		l.logger.Info("blacklisting bet",
			slog.String("bet_id", bet.ID),
			slog.Bool("resolved", bet.Resolved()),
			slog.Int64("opening_timestamp", bet.OpeningTimestamp))
		bet.BlacklistForever()
		expired++
	}
	return expired
}

// Sample selects the single best processable bet, or ok=false when nothing
// is eligible this cycle. An empty pick is an expected outcome, not an
// error. Selection is deterministic for a given ledger state and timestamp.
func (l *Ledger) Sample(now time.Time, margin time.Duration) (domain.Bet, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	cutoff := now.Add(margin).Unix()
	var candidates []*domain.Bet
	for _, id := range l.sortedIDs() {
		bet := l.bets[id]
		if bet.Expired() || !bet.QueueStatus.Processable() {
			continue
		}
		if bet.OpeningTimestamp <= cutoff {
			continue
		}
		if bet.ScaledLiquidity <= 0 {
			continue
		}
		candidates = append(candidates, bet)
	}
	if len(candidates) == 0 {
		return domain.Bet{}, false
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return sampleLess(candidates[j], candidates[i])
	})
	return *cloneBet(candidates[0]), true
}

// sampleLess ranks a below b. The sampling order prefers the highest-priority
// queue bucket, then the largest invested amount, the oldest processing
// timestamp, the deepest liquidity, and the latest opening time.
func sampleLess(a, b *domain.Bet) bool {
	if pa, pb := bucketPriority(a.QueueStatus), bucketPriority(b.QueueStatus); pa != pb {
		return pa < pb
	}
	if a.InvestedAmount() != b.InvestedAmount() {
		return a.InvestedAmount() < b.InvestedAmount()
	}
	if a.ProcessedTimestamp != b.ProcessedTimestamp {
		return a.ProcessedTimestamp > b.ProcessedTimestamp
	}
	if a.ScaledLiquidity != b.ScaledLiquidity {
		return a.ScaledLiquidity < b.ScaledLiquidity
	}
	if a.OpeningTimestamp != b.OpeningTimestamp {
		return a.OpeningTimestamp < b.OpeningTimestamp
	}
	return a.ID > b.ID
}

// NextProcessedTimestamp returns a logical processing time one past the
// newest non-expired bet. It is derived from ledger content alone, so
// replicas holding the same bets stamp the same value on the bet they agreed
// to process.
func (l *Ledger) NextProcessedTimestamp() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var newest int64
	for _, bet := range l.bets {
		if bet.Expired() {
			continue
		}
		if bet.ProcessedTimestamp > newest {
			newest = bet.ProcessedTimestamp
		}
	}
	return newest + 1
}

func bucketPriority(s domain.QueueStatus) int {
	switch s {
	case domain.QueueToProcess:
		return 3
	case domain.QueueProcessed:
		return 2
	case domain.QueueReprocessed:
		return 1
	}
	return 0
}

func (l *Ledger) sortedIDs() []string {
	ids := make([]string, 0, len(l.bets))
	for id := range l.bets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// cloneBet deep-copies a bet so callers never alias ledger-owned slices.
func cloneBet(b *domain.Bet) *domain.Bet {
	out := *b
	if b.Outcomes != nil {
		out.Outcomes = append([]string(nil), b.Outcomes...)
	}
	if b.OutcomeTokenAmounts != nil {
		out.OutcomeTokenAmounts = append([]int64(nil), b.OutcomeTokenAmounts...)
	}
	if b.OutcomePrices != nil {
		out.OutcomePrices = append([]float64(nil), b.OutcomePrices...)
	}
	if b.Investments.Yes != nil {
		out.Investments.Yes = append([]int64(nil), b.Investments.Yes...)
	}
	if b.Investments.No != nil {
		out.Investments.No = append([]int64(nil), b.Investments.No...)
	}
	if b.LastPrediction != nil {
		pred := *b.LastPrediction
		out.LastPrediction = &pred
	}
	return &out
}
