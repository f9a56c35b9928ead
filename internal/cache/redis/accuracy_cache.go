package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oddlane/traderd/internal/policy"
)

// accuracyKey is the hash holding one serialized accuracy snapshot per
// replica.
const accuracyKey = "traderd:tool_accuracy"

// AccuracyCache shares per-tool accuracy counters between replicas so a
// restarted or lagging replica can merge the counters its peers collected.
type AccuracyCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewAccuracyCache creates an AccuracyCache backed by the given Client. The
// whole hash expires after ttl of inactivity so stale clusters do not leak
// ancient counters into fresh runs.
func NewAccuracyCache(c *Client, ttl time.Duration) *AccuracyCache {
	return &AccuracyCache{rdb: c.Underlying(), ttl: ttl}
}

// Put stores this replica's accuracy snapshot.
func (c *AccuracyCache) Put(ctx context.Context, sender string, snapshot map[string]policy.AccuracyInfo) error {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("redis: encode accuracy snapshot: %w", err)
	}
	if err := c.rdb.HSet(ctx, accuracyKey, sender, raw).Err(); err != nil {
		return fmt.Errorf("redis: store accuracy snapshot for %q: %w", sender, err)
	}
	if c.ttl > 0 {
		if err := c.rdb.Expire(ctx, accuracyKey, c.ttl).Err(); err != nil {
			return fmt.Errorf("redis: refresh accuracy ttl: %w", err)
		}
	}
	return nil
}

// All returns every replica's snapshot keyed by sender.
func (c *AccuracyCache) All(ctx context.Context) (map[string]map[string]policy.AccuracyInfo, error) {
	entries, err := c.rdb.HGetAll(ctx, accuracyKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: load accuracy snapshots: %w", err)
	}
	out := make(map[string]map[string]policy.AccuracyInfo, len(entries))
	for sender, raw := range entries {
		var snapshot map[string]policy.AccuracyInfo
		if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
			return nil, fmt.Errorf("redis: decode accuracy snapshot of %q: %w", sender, err)
		}
		out[sender] = snapshot
	}
	return out, nil
}
