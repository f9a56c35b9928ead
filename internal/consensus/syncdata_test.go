package consensus

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddlane/traderd/internal/domain"
)

func TestSynchronizedData_CopyOnWrite(t *testing.T) {
	base := NewSynchronizedData()

	next, err := base.With(KeyBetAmount, 42)
	require.NoError(t, err)

	assert.False(t, base.Has(KeyBetAmount), "the original copy must stay untouched")
	amount, err := next.Int(KeyBetAmount)
	require.NoError(t, err)
	assert.Equal(t, int64(42), amount)
}

func TestSynchronizedData_TypedAccessors(t *testing.T) {
	data := NewSynchronizedData().WithUpdates(map[string]json.RawMessage{
		KeyMechTool:     json.RawMessage(`"prediction-online"`),
		KeyConfidence:   json.RawMessage(`0.8`),
		KeyIsProfitable: json.RawMessage(`true`),
	})

	tool, err := data.String(KeyMechTool)
	require.NoError(t, err)
	assert.Equal(t, "prediction-online", tool)

	conf, err := data.Float(KeyConfidence)
	require.NoError(t, err)
	assert.InDelta(t, 0.8, conf, 1e-12)

	profitable, err := data.Bool(KeyIsProfitable)
	require.NoError(t, err)
	assert.True(t, profitable)

	_, err = data.Int(KeyBetAmount)
	assert.ErrorIs(t, err, domain.ErrMissingKey)
}

func TestSynchronizedData_NullCountsAsAbsent(t *testing.T) {
	data := NewSynchronizedData().WithUpdates(map[string]json.RawMessage{
		KeyVote: json.RawMessage(`null`),
	})

	assert.False(t, data.Has(KeyVote))

	// Raw still sees the key, only Has treats null as absent.
	raw, err := data.Raw(KeyVote)
	require.NoError(t, err)
	assert.Equal(t, "null", string(raw))
}

func TestSynchronizedData_Vote(t *testing.T) {
	data, err := NewSynchronizedData().With(KeyVote, 1)
	require.NoError(t, err)

	vote, ok, err := data.Vote()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1), vote)

	tied := NewSynchronizedData().WithUpdates(map[string]json.RawMessage{
		KeyVote: json.RawMessage(`null`),
	})
	_, ok, err = tied.Vote()
	require.NoError(t, err)
	assert.False(t, ok, "a null vote is a tie, not an error")

	_, _, err = NewSynchronizedData().Vote()
	assert.ErrorIs(t, err, domain.ErrMissingKey)
}

func TestSynchronizedData_CheckPresent(t *testing.T) {
	data, err := NewSynchronizedData().With(KeyBetsHash, "abc")
	require.NoError(t, err)

	require.NoError(t, data.CheckPresent(KeyBetsHash))

	err = data.CheckPresent(KeyBetsHash, KeySampledBetIndex)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMissingKey)
	assert.Contains(t, err.Error(), KeySampledBetIndex)
}

func TestPayload_Fingerprint(t *testing.T) {
	a, err := NewPayload("a", "sampling", map[string]any{"x": 1, "y": "z"})
	require.NoError(t, err)
	b, err := NewPayload("b", "sampling", map[string]any{"y": "z", "x": 1})
	require.NoError(t, err)

	assert.Equal(t, a.Fingerprint(), b.Fingerprint(), "fingerprints ignore sender and field order")

	c, err := NewPayload("c", "sampling", map[string]any{"x": 2, "y": "z"})
	require.NoError(t, err)
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
}

func TestPayload_IsNull(t *testing.T) {
	null, err := NewPayload("a", "sampling", map[string]any{"x": nil, "y": nil})
	require.NoError(t, err)
	assert.True(t, null.IsNull())

	empty, err := NewPayload("a", "sampling", nil)
	require.NoError(t, err)
	assert.True(t, empty.IsNull())

	mixed, err := NewPayload("a", "sampling", map[string]any{"x": nil, "y": 1})
	require.NoError(t, err)
	assert.False(t, mixed.IsNull())
}

func TestPayload_WireRoundTrip(t *testing.T) {
	p, err := NewPayload("replica-1", "sampling", map[string]any{KeySampledBetIndex: 3})
	require.NoError(t, err)

	raw, err := p.Marshal()
	require.NoError(t, err)

	got, err := UnmarshalPayload(raw)
	require.NoError(t, err)
	assert.Equal(t, p.Sender, got.Sender)
	assert.Equal(t, p.Round, got.Round)
	assert.Equal(t, p.Fingerprint(), got.Fingerprint())
}
