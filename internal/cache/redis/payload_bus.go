package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/oddlane/traderd/internal/consensus"
)

// payloadChannel is the pub/sub channel all replicas gossip round payloads
// through.
const payloadChannel = "traderd:payloads"

// PayloadBus gossips consensus payloads between replicas over Redis pub/sub
// and accumulates the ones received per round. One payload per sender per
// round is kept; a replica re-publishing overwrites its previous submission.
type PayloadBus struct {
	rdb    *redis.Client
	logger *slog.Logger

	mu        sync.Mutex
	collected map[consensus.RoundID]map[string]*consensus.Payload
}

// NewPayloadBus creates a PayloadBus backed by the given Client.
func NewPayloadBus(c *Client, logger *slog.Logger) *PayloadBus {
	return &PayloadBus{
		rdb:       c.Underlying(),
		logger:    logger.With(slog.String("component", "payload_bus")),
		collected: make(map[consensus.RoundID]map[string]*consensus.Payload),
	}
}

// Start subscribes to the payload channel and accumulates incoming payloads
// until the context is cancelled. It blocks and is meant to run in its own
// goroutine.
func (b *PayloadBus) Start(ctx context.Context) error {
	pubsub := b.rdb.Subscribe(ctx, payloadChannel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis: subscribe %s: %w", payloadChannel, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			payload, err := consensus.UnmarshalPayload([]byte(msg.Payload))
			if err != nil {
				b.logger.Warn("dropping undecodable payload", slog.String("error", err.Error()))
				continue
			}
			b.record(payload)
		}
	}
}

func (b *PayloadBus) record(payload *consensus.Payload) {
	b.mu.Lock()
	defer b.mu.Unlock()
	byRound, ok := b.collected[payload.Round]
	if !ok {
		byRound = make(map[string]*consensus.Payload)
		b.collected[payload.Round] = byRound
	}
	byRound[payload.Sender] = payload
}

// Publish broadcasts this replica's payload. The local copy is recorded
// directly so collection does not depend on the pub/sub loopback.
func (b *PayloadBus) Publish(ctx context.Context, payload *consensus.Payload) error {
	raw, err := payload.Marshal()
	if err != nil {
		return err
	}
	b.record(payload)
	if err := b.rdb.Publish(ctx, payloadChannel, raw).Err(); err != nil {
		return fmt.Errorf("redis: publish payload: %w", err)
	}
	return nil
}

// Collect returns the payloads received so far for the round, keyed by
// sender.
func (b *PayloadBus) Collect(_ context.Context, round consensus.RoundID) (map[string]*consensus.Payload, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]*consensus.Payload, len(b.collected[round]))
	for sender, payload := range b.collected[round] {
		out[sender] = payload
	}
	return out, nil
}

// Reset clears the collected payloads for the round.
func (b *PayloadBus) Reset(_ context.Context, round consensus.RoundID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.collected, round)
	return nil
}
