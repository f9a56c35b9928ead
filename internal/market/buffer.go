package market

import (
	"context"
	"sync"
)

// UpdateBuffer queues stream refreshes so the trade loop can fold them into
// the ledger between cycles. Applying them mid-round would move the ledger
// under an in-flight consensus hash.
type UpdateBuffer struct {
	mu      sync.Mutex
	pending map[string]PriceUpdate
}

// NewUpdateBuffer returns an empty buffer.
func NewUpdateBuffer() *UpdateBuffer {
	return &UpdateBuffer{pending: make(map[string]PriceUpdate)}
}

// Handler returns a stream handler that records the latest update per market.
func (b *UpdateBuffer) Handler() PriceUpdateHandler {
	return func(_ context.Context, update PriceUpdate) {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.pending[update.MarketID] = update
	}
}

// Drain returns the buffered updates and empties the buffer. Only the most
// recent update per market survives; stale intermediate prices are dropped.
func (b *UpdateBuffer) Drain() []PriceUpdate {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 {
		return nil
	}
	out := make([]PriceUpdate, 0, len(b.pending))
	for _, update := range b.pending {
		out = append(out, update)
	}
	b.pending = make(map[string]PriceUpdate)
	return out
}
