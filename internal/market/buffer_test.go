package market

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateBuffer_KeepsLatestPerMarket(t *testing.T) {
	buf := NewUpdateBuffer()
	handle := buf.Handler()

	handle(context.Background(), PriceUpdate{MarketID: "0xaa", ScaledLiquidity: 1})
	handle(context.Background(), PriceUpdate{MarketID: "0xaa", ScaledLiquidity: 2})
	handle(context.Background(), PriceUpdate{MarketID: "0xbb", ScaledLiquidity: 3})

	updates := buf.Drain()
	require.Len(t, updates, 2)
	byID := make(map[string]PriceUpdate, len(updates))
	for _, update := range updates {
		byID[update.MarketID] = update
	}
	assert.Equal(t, 2.0, byID["0xaa"].ScaledLiquidity, "only the newest price per market survives")
	assert.Equal(t, 3.0, byID["0xbb"].ScaledLiquidity)
}

func TestUpdateBuffer_DrainEmpties(t *testing.T) {
	buf := NewUpdateBuffer()
	buf.Handler()(context.Background(), PriceUpdate{MarketID: "0xaa"})

	require.Len(t, buf.Drain(), 1)
	assert.Nil(t, buf.Drain())
}
