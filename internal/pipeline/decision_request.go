package pipeline

import (
	"context"
	"log/slog"

	"github.com/oddlane/traderd/internal/consensus"
	"github.com/oddlane/traderd/internal/ledger"
	"github.com/oddlane/traderd/internal/mech"
)

// DecisionRequestBehaviour submits the sampled market's question to the
// agreed tool. Submission is retried until the round deadline; a request
// that cannot be placed at all publishes null, which blacklists the bet for
// this cycle.
type DecisionRequestBehaviour struct {
	params Params
	ledger *ledger.Ledger
	mech   mech.Client
	logger *slog.Logger
}

// NewDecisionRequestBehaviour builds the behaviour.
func NewDecisionRequestBehaviour(p Params, deps Deps) *DecisionRequestBehaviour {
	return &DecisionRequestBehaviour{
		params: p,
		ledger: deps.Ledger,
		mech:   deps.Mech,
		logger: deps.Logger.With(slog.String("component", "decision_request")),
	}
}

// RoundID implements Behaviour.
func (b *DecisionRequestBehaviour) RoundID() consensus.RoundID { return RoundDecisionRequest }

// Execute implements Behaviour.
func (b *DecisionRequestBehaviour) Execute(ctx context.Context, data *consensus.SynchronizedData) (*consensus.Payload, error) {
	betID, err := data.String(consensus.KeySampledBetIndex)
	if err != nil {
		return nil, err
	}
	tool, err := data.String(consensus.KeyMechTool)
	if err != nil {
		return nil, err
	}
	bet, ok := b.ledger.Get(betID)
	if !ok {
		b.logger.Error("sampled bet disappeared from the ledger", slog.String("bet_id", betID))
		return consensus.NewPayload(b.params.Sender, RoundDecisionRequest, map[string]any{
			consensus.KeyMechRequestID: nil,
		})
	}

	hash, err := data.String(consensus.KeyBetsHash)
	if err != nil {
		return nil, err
	}
	req := mech.Request{
		ID:       mech.NewRequestID(hash, betID, tool),
		Tool:     tool,
		Question: bet.Title,
	}
	requestID := req.ID
	err = waitFor(ctx, b.params.RetryInterval, func(ctx context.Context) error {
		if rerr := b.mech.RequestPrediction(ctx, req); rerr != nil {
			b.logger.Warn("prediction request failed, retrying", slog.String("error", rerr.Error()))
			return rerr
		}
		return nil
	})
	if err != nil {
		return consensus.NewPayload(b.params.Sender, RoundDecisionRequest, map[string]any{
			consensus.KeyMechRequestID: nil,
		})
	}

	b.logger.Info("prediction requested",
		slog.String("bet_id", betID),
		slog.String("tool", tool),
		slog.String("request_id", requestID))

	return consensus.NewPayload(b.params.Sender, RoundDecisionRequest, map[string]any{
		consensus.KeyMechRequestID: requestID,
	})
}
