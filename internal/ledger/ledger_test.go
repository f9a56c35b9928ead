package ledger

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddlane/traderd/internal/domain"
)

func testLedger() *Ledger {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func marketBet(id string, opening time.Time) domain.Bet {
	return domain.Bet{
		ID:                  id,
		Title:               "Will it rain tomorrow?",
		CollateralToken:     "0x03",
		OpeningTimestamp:    opening.Unix(),
		OutcomeCount:        domain.BinaryOutcomeCount,
		Outcomes:            []string{"Yes", "No"},
		OutcomeTokenAmounts: []int64{100, 100},
		OutcomePrices:       []float64{0.5, 0.5},
		ScaledLiquidity:     10,
	}
}

func TestUpsert_NewBetsEnterFresh(t *testing.T) {
	l := testLedger()
	now := time.Now()

	l.Upsert([]domain.Bet{marketBet("a", now.Add(time.Hour))})

	bet, ok := l.Get("a")
	require.True(t, ok)
	assert.Equal(t, domain.QueueFresh, bet.QueueStatus)
}

func TestUpsert_KeepsProcessingState(t *testing.T) {
	l := testLedger()
	now := time.Now()
	l.Upsert([]domain.Bet{marketBet("a", now.Add(time.Hour))})
	require.NoError(t, l.Mutate("a", func(b *domain.Bet) {
		b.QueueStatus = domain.QueueProcessed
		b.Investments.Append(domain.OutcomeYes, 10)
	}))

	fresh := marketBet("a", now.Add(2*time.Hour))
	fresh.ScaledLiquidity = 25
	l.Upsert([]domain.Bet{fresh})

	bet, ok := l.Get("a")
	require.True(t, ok)
	assert.Equal(t, domain.QueueProcessed, bet.QueueStatus, "queue status survives a refresh")
	assert.Equal(t, int64(10), bet.InvestedAmount(), "investments survive a refresh")
	assert.Equal(t, float64(25), bet.ScaledLiquidity, "market data is taken from the snapshot")
}

func TestUpsert_NeverUnblacklists(t *testing.T) {
	l := testLedger()
	now := time.Now()
	l.Upsert([]domain.Bet{marketBet("a", now.Add(time.Hour))})
	require.NoError(t, l.Mutate("a", func(b *domain.Bet) { b.BlacklistForever() }))

	l.Upsert([]domain.Bet{marketBet("a", now.Add(time.Hour))})

	bet, ok := l.Get("a")
	require.True(t, ok)
	assert.True(t, bet.BlacklistedForever())
	assert.Nil(t, bet.Outcomes)
}

func TestUpsert_MalformedSnapshotIsBlacklisted(t *testing.T) {
	l := testLedger()
	bad := marketBet("a", time.Now().Add(time.Hour))
	bad.OutcomePrices = []float64{0.5}

	l.Upsert([]domain.Bet{bad})

	bet, ok := l.Get("a")
	require.True(t, ok)
	assert.True(t, bet.BlacklistedForever(), "a malformed snapshot must not abort the cycle")
}

func TestSweepFreshness_SingleBetMode(t *testing.T) {
	l := testLedger()
	now := time.Now()
	l.Upsert([]domain.Bet{marketBet("a", now.Add(time.Hour)), marketBet("b", now.Add(time.Hour))})
	require.NoError(t, l.Mutate("b", func(b *domain.Bet) { b.QueueStatus = domain.QueueProcessed }))

	assert.Equal(t, 1, l.SweepFreshness(false))

	a, _ := l.Get("a")
	assert.Equal(t, domain.QueueToProcess, a.QueueStatus)
}

func TestSweepFreshness_MultiBetModeWaitsForCohort(t *testing.T) {
	l := testLedger()
	now := time.Now()
	l.Upsert([]domain.Bet{marketBet("a", now.Add(time.Hour)), marketBet("b", now.Add(time.Hour))})
	require.NoError(t, l.Mutate("b", func(b *domain.Bet) { b.QueueStatus = domain.QueueProcessed }))

	assert.Equal(t, 0, l.SweepFreshness(true), "a non-fresh live bet holds the cohort back")

	require.NoError(t, l.Mutate("b", func(b *domain.Bet) { b.QueueStatus = domain.QueueFresh }))
	assert.Equal(t, 2, l.SweepFreshness(true))
}

func TestSweepFreshness_MultiBetModeIgnoresExpired(t *testing.T) {
	l := testLedger()
	now := time.Now()
	l.Upsert([]domain.Bet{marketBet("a", now.Add(time.Hour)), marketBet("b", now.Add(time.Hour))})
	require.NoError(t, l.Mutate("b", func(b *domain.Bet) { b.BlacklistForever() }))

	assert.Equal(t, 1, l.SweepFreshness(true))
}

func TestBlacklistExpired(t *testing.T) {
	l := testLedger()
	now := time.Now()
	margin := time.Hour

	opensSoon := marketBet("soon", now.Add(30*time.Minute))
	opensLater := marketBet("later", now.Add(3*time.Hour))
	resolved := marketBet("resolved", now.Add(300*time.Hour))
	resolved.OutcomePrices = []float64{0.995, 0.005}
	l.Upsert([]domain.Bet{opensSoon, opensLater, resolved})

	assert.Equal(t, 2, l.BlacklistExpired(now, margin))

	soon, _ := l.Get("soon")
	assert.True(t, soon.BlacklistedForever(), "opening inside the margin expires the bet")
	later, _ := l.Get("later")
	assert.False(t, later.BlacklistedForever())
	res, _ := l.Get("resolved")
	assert.True(t, res.BlacklistedForever(), "a resolved price expires the bet even when it opens far in the future")
}

func sampleFixture(t *testing.T, now time.Time) *Ledger {
	t.Helper()
	l := testLedger()
	opening := now.Add(24 * time.Hour)

	toProcess := marketBet("to_process", opening)
	toProcess.ScaledLiquidity = 1

	processed := marketBet("processed", opening)
	processed.ScaledLiquidity = 100

	invested := marketBet("invested", opening)
	invested.ScaledLiquidity = 50

	l.Upsert([]domain.Bet{toProcess, processed, invested})
	require.NoError(t, l.Mutate("to_process", func(b *domain.Bet) { b.QueueStatus = domain.QueueToProcess }))
	require.NoError(t, l.Mutate("processed", func(b *domain.Bet) {
		b.QueueStatus = domain.QueueProcessed
		b.ProcessedTimestamp = now.Unix()
	}))
	require.NoError(t, l.Mutate("invested", func(b *domain.Bet) {
		b.QueueStatus = domain.QueueProcessed
		b.ProcessedTimestamp = now.Add(-time.Hour).Unix()
		b.Investments.Append(domain.OutcomeYes, 500)
	}))
	return l
}

func TestSample_BucketPriority(t *testing.T) {
	now := time.Now()
	l := sampleFixture(t, now)

	bet, ok := l.Sample(now, time.Hour)
	require.True(t, ok)
	assert.Equal(t, "to_process", bet.ID, "the to-process bucket outranks invested processed bets")
}

func TestSample_WithinBucketOrdering(t *testing.T) {
	now := time.Now()
	l := sampleFixture(t, now)
	require.NoError(t, l.Mutate("to_process", func(b *domain.Bet) { b.QueueStatus = domain.QueueProcessed }))

	// All three are processed now: the invested bet wins despite lower
	// liquidity and fresher siblings.
	bet, ok := l.Sample(now, time.Hour)
	require.True(t, ok)
	assert.Equal(t, "invested", bet.ID)
}

func TestSample_OlderProcessedTimestampWins(t *testing.T) {
	now := time.Now()
	l := testLedger()
	opening := now.Add(24 * time.Hour)
	l.Upsert([]domain.Bet{marketBet("old", opening), marketBet("new", opening)})
	require.NoError(t, l.Mutate("old", func(b *domain.Bet) {
		b.QueueStatus = domain.QueueProcessed
		b.ProcessedTimestamp = now.Add(-2 * time.Hour).Unix()
	}))
	require.NoError(t, l.Mutate("new", func(b *domain.Bet) {
		b.QueueStatus = domain.QueueProcessed
		b.ProcessedTimestamp = now.Unix()
	}))

	bet, ok := l.Sample(now, time.Hour)
	require.True(t, ok)
	assert.Equal(t, "old", bet.ID)
}

func TestSample_LaterOpeningWinsTieBreak(t *testing.T) {
	now := time.Now()
	l := testLedger()
	l.Upsert([]domain.Bet{
		marketBet("near", now.Add(24*time.Hour)),
		marketBet("far", now.Add(48*time.Hour)),
	})
	for _, id := range []string{"near", "far"} {
		require.NoError(t, l.Mutate(id, func(b *domain.Bet) { b.QueueStatus = domain.QueueToProcess }))
	}

	// Equal on every other criterion: the market opening later wins.
	bet, ok := l.Sample(now, time.Hour)
	require.True(t, ok)
	assert.Equal(t, "far", bet.ID)
}

func TestNextProcessedTimestamp(t *testing.T) {
	now := time.Now()
	l := testLedger()
	assert.Equal(t, int64(1), l.NextProcessedTimestamp(), "an empty ledger starts the clock at one")

	l.Upsert([]domain.Bet{marketBet("a", now.Add(time.Hour)), marketBet("b", now.Add(time.Hour))})
	require.NoError(t, l.Mutate("a", func(b *domain.Bet) { b.ProcessedTimestamp = 5 }))
	assert.Equal(t, int64(6), l.NextProcessedTimestamp())

	// A blacklisted bet carries the expiry marker and must not move the clock.
	require.NoError(t, l.Mutate("b", func(b *domain.Bet) { b.BlacklistForever() }))
	assert.Equal(t, int64(6), l.NextProcessedTimestamp())
}

func TestSample_Deterministic(t *testing.T) {
	now := time.Now()
	l := sampleFixture(t, now)

	first, ok := l.Sample(now, time.Hour)
	require.True(t, ok)
	for i := 0; i < 5; i++ {
		again, ok := l.Sample(now, time.Hour)
		require.True(t, ok)
		assert.Equal(t, first.ID, again.ID)
	}
}

func TestSample_SkipsIneligible(t *testing.T) {
	now := time.Now()
	l := testLedger()

	illiquid := marketBet("illiquid", now.Add(24*time.Hour))
	illiquid.ScaledLiquidity = 0
	opensSoon := marketBet("opens_soon", now.Add(30*time.Minute))
	blacklisted := marketBet("blacklisted", now.Add(24*time.Hour))
	l.Upsert([]domain.Bet{illiquid, opensSoon, blacklisted})
	for _, id := range []string{"illiquid", "opens_soon", "blacklisted"} {
		require.NoError(t, l.Mutate(id, func(b *domain.Bet) { b.QueueStatus = domain.QueueToProcess }))
	}
	require.NoError(t, l.Mutate("blacklisted", func(b *domain.Bet) { b.BlacklistForever() }))

	_, ok := l.Sample(now, time.Hour)
	assert.False(t, ok, "an all-ineligible set yields no decision, not an error")
}

func TestSample_EmptyLedger(t *testing.T) {
	_, ok := testLedger().Sample(time.Now(), time.Hour)
	assert.False(t, ok)
}

func TestSerialize_HashIsDeterministic(t *testing.T) {
	now := time.Now()
	a := sampleFixture(t, now)
	b := sampleFixture(t, now)

	ha, err := a.Hash()
	require.NoError(t, err)
	hb, err := b.Hash()
	require.NoError(t, err)
	assert.Equal(t, ha, hb, "equal collections hash equally")
	assert.Regexp(t, "^0x[0-9a-f]{64}$", ha)

	require.NoError(t, b.Mutate("invested", func(bet *domain.Bet) { bet.Investments.Append(domain.OutcomeNo, 1) }))
	hb, err = b.Hash()
	require.NoError(t, err)
	assert.NotEqual(t, ha, hb)
}

func TestSerialize_LoadRoundTrip(t *testing.T) {
	now := time.Now()
	l := sampleFixture(t, now)

	raw, err := l.Serialize()
	require.NoError(t, err)

	restored := testLedger()
	require.NoError(t, restored.Load(raw))

	assert.Equal(t, l.Bets(), restored.Bets())
	h1, err := l.Hash()
	require.NoError(t, err)
	h2, err := restored.Hash()
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestTransaction_RollbackRestoresState(t *testing.T) {
	now := time.Now()
	l := sampleFixture(t, now)
	before, err := l.Hash()
	require.NoError(t, err)

	require.NoError(t, l.Begin())
	require.NoError(t, l.Mutate("invested", func(b *domain.Bet) { b.BlacklistForever() }))
	require.NoError(t, l.Rollback())

	after, err := l.Hash()
	require.NoError(t, err)
	assert.Equal(t, before, after)
	bet, _ := l.Get("invested")
	assert.False(t, bet.BlacklistedForever())
}

func TestTransaction_CommitKeepsMutations(t *testing.T) {
	now := time.Now()
	l := sampleFixture(t, now)

	require.NoError(t, l.Begin())
	require.NoError(t, l.Mutate("invested", func(b *domain.Bet) { b.BlacklistForever() }))
	require.NoError(t, l.Commit())

	bet, _ := l.Get("invested")
	assert.True(t, bet.BlacklistedForever())
}

func TestTransaction_Misuse(t *testing.T) {
	l := testLedger()
	assert.Error(t, l.Commit())
	assert.Error(t, l.Rollback())

	require.NoError(t, l.Begin())
	assert.Error(t, l.Begin(), "nested transactions are a logic error")
	require.NoError(t, l.Commit())
}
