package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleDataset = `tool,p_yes,p_no,confidence,info_utility
prediction-online,0.7,0.3,0.9,0.5
prediction-offline,0.4,0.6,0.6,0.4
`

func TestReadDataset(t *testing.T) {
	ds, err := ReadDataset(strings.NewReader(sampleDataset))
	require.NoError(t, err)
	require.Equal(t, 2, ds.Len())

	row, ok := ds.Row(0)
	require.True(t, ok)
	require.Equal(t, "prediction-online", row.Tool)
	require.Equal(t, 0.7, row.PYes)
	require.Equal(t, 0.9, row.Confidence)

	prediction, err := row.Prediction()
	require.NoError(t, err)
	vote, voted := prediction.Vote()
	require.True(t, voted)
	require.Equal(t, 0, vote)
}

func TestReadDatasetRejectsWrongHeader(t *testing.T) {
	_, err := ReadDataset(strings.NewReader("tool,p_yes,p_no,conf,info_utility\n"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "confidence")
}

func TestReadDatasetRejectsBadNumber(t *testing.T) {
	raw := "tool,p_yes,p_no,confidence,info_utility\nsome-tool,high,0.3,0.9,0.5\n"
	_, err := ReadDataset(strings.NewReader(raw))
	require.Error(t, err)
	require.Contains(t, err.Error(), "line 2")
}

func TestDatasetRowOutOfRange(t *testing.T) {
	ds, err := ReadDataset(strings.NewReader(sampleDataset))
	require.NoError(t, err)

	_, ok := ds.Row(2)
	require.False(t, ok)
	_, ok = ds.Row(-1)
	require.False(t, ok)
}
