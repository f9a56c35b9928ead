package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PolicyStore keeps each replica's serialized selection policy. Replicas read
// back their peers' snapshots to merge remote accuracy counters.
type PolicyStore struct {
	pool *pgxpool.Pool
}

// NewPolicyStore creates a PolicyStore backed by the given connection pool.
func NewPolicyStore(pool *pgxpool.Pool) *PolicyStore {
	return &PolicyStore{pool: pool}
}

// SaveSnapshot upserts the serialized policy of one replica.
func (s *PolicyStore) SaveSnapshot(ctx context.Context, sender string, snapshot []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO policy_snapshots (sender, snapshot, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (sender) DO UPDATE SET
			snapshot = EXCLUDED.snapshot,
			updated_at = NOW()`,
		sender, snapshot)
	if err != nil {
		return fmt.Errorf("postgres: save policy snapshot for %q: %w", sender, err)
	}
	return nil
}

// LoadSnapshots returns every stored snapshot keyed by sender.
func (s *PolicyStore) LoadSnapshots(ctx context.Context) (map[string][]byte, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT sender, snapshot FROM policy_snapshots")
	if err != nil {
		return nil, fmt.Errorf("postgres: load policy snapshots: %w", err)
	}
	defer rows.Close()

	snapshots := make(map[string][]byte)
	for rows.Next() {
		var sender string
		var snapshot []byte
		if err := rows.Scan(&sender, &snapshot); err != nil {
			return nil, fmt.Errorf("postgres: scan policy snapshot: %w", err)
		}
		snapshots[sender] = snapshot
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load policy snapshots: %w", err)
	}
	return snapshots, nil
}
