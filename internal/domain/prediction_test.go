package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPredictionResponse(t *testing.T) {
	p, err := NewPredictionResponse(0.7, 0.3, 0.8, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 0.7, p.PYes)

	_, err = NewPredictionResponse(0.7, 0.2, 0.8, 0.5)
	assert.ErrorIs(t, err, ErrInvalidPrediction)

	_, err = NewPredictionResponse(1.2, -0.2, 0.8, 0.5)
	assert.ErrorIs(t, err, ErrInvalidPrediction)

	_, err = NewPredictionResponse(0.7, 0.3, 1.1, 0.5)
	assert.ErrorIs(t, err, ErrInvalidPrediction)
}

func TestPredictionResponse_Vote(t *testing.T) {
	p := &PredictionResponse{PYes: 0.7, PNo: 0.3}
	vote, ok := p.Vote()
	require.True(t, ok)
	assert.Equal(t, OutcomeYes, vote)

	p = &PredictionResponse{PYes: 0.2, PNo: 0.8}
	vote, ok = p.Vote()
	require.True(t, ok)
	assert.Equal(t, OutcomeNo, vote)

	p = &PredictionResponse{PYes: 0.5, PNo: 0.5}
	_, ok = p.Vote()
	assert.False(t, ok, "tied probabilities derive no vote")
}

func TestPredictionResponse_WinProbability(t *testing.T) {
	assert.Equal(t, 0.7, (&PredictionResponse{PYes: 0.7, PNo: 0.3}).WinProbability())
	assert.Equal(t, 0.8, (&PredictionResponse{PYes: 0.2, PNo: 0.8}).WinProbability())
}
