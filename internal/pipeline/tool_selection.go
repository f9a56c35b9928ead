package pipeline

import (
	"context"
	"encoding/binary"
	"log/slog"
	"math"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/oddlane/traderd/internal/consensus"
	"github.com/oddlane/traderd/internal/policy"
)

// ToolSelectionBehaviour runs the epsilon-greedy policy. The exploration
// draw is derived from the agreed bets hash, so every replica draws the same
// number and the selection reaches quorum without extra coordination.
type ToolSelectionBehaviour struct {
	params Params
	policy *policy.Policy
	logger *slog.Logger
}

// NewToolSelectionBehaviour builds the behaviour.
func NewToolSelectionBehaviour(p Params, deps Deps) *ToolSelectionBehaviour {
	return &ToolSelectionBehaviour{
		params: p,
		policy: deps.Policy,
		logger: deps.Logger.With(slog.String("component", "tool_selection")),
	}
}

// RoundID implements Behaviour.
func (b *ToolSelectionBehaviour) RoundID() consensus.RoundID { return RoundToolSelection }

// Execute implements Behaviour. A policy with zero available tools is a hard
// failure: the null payload routes the run to the impossible terminal.
func (b *ToolSelectionBehaviour) Execute(_ context.Context, data *consensus.SynchronizedData) (*consensus.Payload, error) {
	hash, err := data.String(consensus.KeyBetsHash)
	if err != nil {
		return nil, err
	}

	draw := deterministicDraw(hash, string(RoundToolSelection))
	tool, err := b.policy.Select(draw, time.Now())
	if err != nil {
		b.logger.Error("tool selection failed", slog.String("error", err.Error()))
		return consensus.NewPayload(b.params.Sender, RoundToolSelection, map[string]any{
			consensus.KeyMechTool: nil,
			consensus.KeyPolicy:   nil,
		})
	}
	if err := b.policy.RecordRequest(tool); err != nil {
		return nil, err
	}

	serialized, err := b.policy.Canonical()
	if err != nil {
		return nil, err
	}
	b.logger.Info("selected tool", slog.String("tool", tool), slog.Float64("draw", draw))

	return consensus.NewPayload(b.params.Sender, RoundToolSelection, map[string]any{
		consensus.KeyMechTool: tool,
		consensus.KeyPolicy:   string(serialized),
	})
}

// deterministicDraw maps a hash and a salt to a uniform draw in [0, 1).
// Replicas sharing the hash share the draw.
func deterministicDraw(hash, salt string) float64 {
	digest := crypto.Keccak256([]byte(hash), []byte(salt))
	v := binary.BigEndian.Uint64(digest[:8])
	return float64(v) / math.MaxUint64
}
