package pipeline

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/oddlane/traderd/internal/chain"
	"github.com/oddlane/traderd/internal/consensus"
	"github.com/oddlane/traderd/internal/domain"
	"github.com/oddlane/traderd/internal/ledger"
	"github.com/oddlane/traderd/internal/txsubmit"
)

type stubChain struct {
	native     *big.Int
	collateral *big.Int
}

func (c *stubChain) GetBalances(context.Context, common.Address, common.Address) (*chain.Balances, error) {
	return &chain.Balances{Native: c.native, Collateral: c.collateral}, nil
}

func payloadValue[T any](t *testing.T, payload *consensus.Payload, key string) T {
	t.Helper()
	raw, ok := payload.Values[key]
	require.True(t, ok, "payload misses %q", key)
	var out T
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func seededLedger(t *testing.T, bets ...domain.Bet) *ledger.Ledger {
	t.Helper()
	l := ledger.New(discardLogger())
	l.Upsert(bets)
	l.SweepFreshness(false)
	return l
}

func TestSettlementAppliesInvestmentOnce(t *testing.T) {
	betID := "0x00000000000000000000000000000000000000aa"
	l := seededLedger(t, liquidMarket(betID))
	b := NewSettlementBehaviour(testParams(), Deps{Ledger: l, Logger: discardLogger()})

	data := dataWith(t, map[string]any{
		consensus.KeyTxSubmitter:     SubmitterBetPlacement,
		consensus.KeyFinalTxHash:     "0xdeadbeef",
		consensus.KeySampledBetIndex: betID,
		consensus.KeyVote:            0,
		consensus.KeyBetAmount:       int64(1000),
		consensus.KeyDecisionType:    DecisionBuy,
	})

	for range 3 {
		payload, err := b.Execute(context.Background(), data)
		require.NoError(t, err)
		require.Equal(t, SubmitterBetPlacement, payloadValue[string](t, payload, consensus.KeyTxSubmitter))
	}

	bet, ok := l.Get(betID)
	require.True(t, ok)
	require.Equal(t, []int64{1000}, bet.Investments.Yes)
	require.Empty(t, bet.Investments.No)
}

func TestSettlementSellFlattensOppositeSide(t *testing.T) {
	betID := "0x00000000000000000000000000000000000000aa"
	l := seededLedger(t, liquidMarket(betID))
	require.NoError(t, l.Mutate(betID, func(bet *domain.Bet) {
		bet.Investments.Append(domain.OutcomeNo, 500)
	}))
	b := NewSettlementBehaviour(testParams(), Deps{Ledger: l, Logger: discardLogger()})

	data := dataWith(t, map[string]any{
		consensus.KeyTxSubmitter:     SubmitterBetPlacement,
		consensus.KeyFinalTxHash:     "0xfeed",
		consensus.KeySampledBetIndex: betID,
		consensus.KeyVote:            0,
		consensus.KeyBetAmount:       int64(480),
		consensus.KeyDecisionType:    DecisionSell,
	})
	_, err := b.Execute(context.Background(), data)
	require.NoError(t, err)

	bet, ok := l.Get(betID)
	require.True(t, ok)
	require.Empty(t, bet.Investments.No)
}

func TestSamplingRestoresAgreedSnapshot(t *testing.T) {
	betID := "0x00000000000000000000000000000000000000aa"
	agreed := seededLedger(t, liquidMarket(betID))
	raw, err := agreed.Serialize()
	require.NoError(t, err)
	hash, err := agreed.Hash()
	require.NoError(t, err)

	blobs := newMemBlobs()
	require.NoError(t, blobs.Put(context.Background(), hash, raw))

	// This replica's copy drifted, so its hash no longer matches the one the
	// committee agreed on.
	local := seededLedger(t, liquidMarket(betID))
	require.NoError(t, local.Mutate(betID, func(bet *domain.Bet) {
		bet.OutcomePrices = []float64{0.9, 0.1}
	}))

	b := NewSamplingBehaviour(testParams(), Deps{Ledger: local, Blobs: blobs, Logger: discardLogger()})
	payload, err := b.Execute(context.Background(), dataWith(t, map[string]any{consensus.KeyBetsHash: hash}))
	require.NoError(t, err)
	require.Equal(t, betID, payloadValue[string](t, payload, consensus.KeySampledBetIndex))

	restored, err := local.Hash()
	require.NoError(t, err)
	require.Equal(t, hash, restored, "the local collection converges on the agreed snapshot")
}

func TestBlacklistingRequeuesAndRepublishesHash(t *testing.T) {
	betID := "0x00000000000000000000000000000000000000aa"
	l := seededLedger(t, liquidMarket(betID))
	blobs := newMemBlobs()
	b := NewBlacklistingBehaviour(testParams(), Deps{Ledger: l, Blobs: blobs, Logger: discardLogger()})

	data := dataWith(t, map[string]any{consensus.KeySampledBetIndex: betID})
	payload, err := b.Execute(context.Background(), data)
	require.NoError(t, err)

	hash := payloadValue[string](t, payload, consensus.KeyBetsHash)
	want, err := l.Hash()
	require.NoError(t, err)
	require.Equal(t, want, hash)
	stored, err := blobs.Get(context.Background(), hash)
	require.NoError(t, err)
	require.NotEmpty(t, stored)

	bet, ok := l.Get(betID)
	require.True(t, ok)
	require.True(t, bet.QueueStatus.IsFresh())
}

func TestHandleFailedTxVotesByPoolState(t *testing.T) {
	drained := liquidMarket("0x00000000000000000000000000000000000000aa")
	drained.OutcomeTokenAmounts = []int64{0, 0}
	healthy := liquidMarket("0x00000000000000000000000000000000000000bb")
	l := seededLedger(t, drained, healthy)
	b := NewHandleFailedTxBehaviour(testParams(), Deps{Ledger: l, Logger: discardLogger()})

	data := dataWith(t, map[string]any{consensus.KeySampledBetIndex: drained.ID})
	payload, err := b.Execute(context.Background(), data)
	require.NoError(t, err)
	require.True(t, payloadValue[bool](t, payload, consensus.KeyVote))
	bet, _ := l.Get(drained.ID)
	require.True(t, bet.BlacklistedForever())

	data = dataWith(t, map[string]any{consensus.KeySampledBetIndex: healthy.ID})
	payload, err = b.Execute(context.Background(), data)
	require.NoError(t, err)
	require.False(t, payloadValue[bool](t, payload, consensus.KeyVote))
	bet, _ = l.Get(healthy.ID)
	require.False(t, bet.BlacklistedForever())
}

func betPlacementData(t *testing.T, betID string) *consensus.SynchronizedData {
	return dataWith(t, map[string]any{
		consensus.KeySampledBetIndex: betID,
		consensus.KeyVote:            0,
		consensus.KeyBetAmount:       int64(1_000_000),
		consensus.KeyDecisionType:    DecisionBuy,
	})
}

func TestBetPlacementLowBalanceIsNullPayload(t *testing.T) {
	betID := "0x00000000000000000000000000000000000000aa"
	l := seededLedger(t, liquidMarket(betID))
	deps := Deps{
		Ledger: l,
		Chain:  &stubChain{native: big.NewInt(1e18), collateral: big.NewInt(10)},
		Logger: discardLogger(),
	}
	b := NewBetPlacementBehaviour(testParams(), deps)

	payload, err := b.Execute(context.Background(), betPlacementData(t, betID))
	require.NoError(t, err)
	require.True(t, payload.IsNull())
}

func TestBetPlacementUnpriceableTradeIsEmptyHash(t *testing.T) {
	betID := "0x00000000000000000000000000000000000000aa"
	bet := liquidMarket(betID)
	bet.OutcomeTokenAmounts = []int64{0, 0}
	l := seededLedger(t, bet)

	deps := Deps{
		Ledger: l,
		Chain:  &stubChain{native: big.NewInt(1e18), collateral: big.NewInt(1e18)},
		Logger: discardLogger(),
	}
	b := NewBetPlacementBehaviour(testParams(), deps)

	payload, err := b.Execute(context.Background(), betPlacementData(t, betID))
	require.NoError(t, err)
	require.Equal(t, "", payloadValue[string](t, payload, consensus.KeyFinalTxHash))
}

func TestBetPlacementSubmitsBuyBatch(t *testing.T) {
	betID := "0x00000000000000000000000000000000000000aa"
	l := seededLedger(t, liquidMarket(betID))

	var submitted txsubmit.Batch
	deps := Deps{
		Ledger: l,
		Chain:  &stubChain{native: big.NewInt(1e18), collateral: big.NewInt(1e18)},
		Submitter: txsubmit.Func(func(_ context.Context, batch txsubmit.Batch) (string, error) {
			submitted = batch
			return "0xabc123", nil
		}),
		Logger: discardLogger(),
	}
	b := NewBetPlacementBehaviour(testParams(), deps)

	payload, err := b.Execute(context.Background(), betPlacementData(t, betID))
	require.NoError(t, err)
	require.Equal(t, "0xabc123", payloadValue[string](t, payload, consensus.KeyFinalTxHash))

	// Approve the collateral spend, then buy on the market maker.
	require.Len(t, submitted.Requests, 2)
	require.Equal(t, common.HexToAddress(betID), submitted.Requests[1].To)
}
