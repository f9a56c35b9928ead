package pipeline

import (
	"context"
	"time"

	"github.com/oddlane/traderd/internal/consensus"
)

// Behaviour performs the local work of one round and produces this replica's
// payload. Execute runs under the round's deadline context; long or flaky
// sub-steps are expected to wait-and-retry inside it rather than fail fast.
type Behaviour interface {
	RoundID() consensus.RoundID
	Execute(ctx context.Context, data *consensus.SynchronizedData) (*consensus.Payload, error)
}

// Transport gossips payloads between replicas.
type Transport interface {
	// Publish broadcasts this replica's payload for its round.
	Publish(ctx context.Context, payload *consensus.Payload) error
	// Collect returns the payloads received so far for the round, keyed by
	// sender.
	Collect(ctx context.Context, round consensus.RoundID) (map[string]*consensus.Payload, error)
	// Reset clears collected payloads for the round, so a re-run starts
	// from a clean slate.
	Reset(ctx context.Context, round consensus.RoundID) error
}

// BlobStore persists content-addressed ledger snapshots. The key is the
// keccak hash the replicas agreed on.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// waitFor retries fn at the given interval until it succeeds or the context
// deadline expires. Side-effecting steps stay idempotent so re-running them
// after a partial failure is safe.
func waitFor(ctx context.Context, interval time.Duration, fn func(context.Context) error) error {
	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}
