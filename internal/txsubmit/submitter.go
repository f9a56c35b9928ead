// Package txsubmit carries prepared transactions to the settlement layer.
// Rounds retry their side-effecting steps until a deadline, so submission
// must be idempotent: resubmitting an already-settled batch returns the
// original settlement hash instead of spending twice.
package txsubmit

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

// TxRequest is one call of a settlement batch.
type TxRequest struct {
	To    common.Address
	Data  []byte
	Value *big.Int
}

// Batch groups the requests of one logical settlement, e.g. an approval plus
// the buy it enables. The id exists for logging and correlation only; the
// fingerprint identifies the batch content.
type Batch struct {
	ID       string
	Requests []TxRequest
}

// NewBatch builds a batch with a fresh correlation id.
func NewBatch(requests ...TxRequest) Batch {
	return Batch{ID: uuid.NewString(), Requests: requests}
}

// Fingerprint hashes the batch content. Two batches with the same requests
// fingerprint identically regardless of their correlation ids.
func (b Batch) Fingerprint() string {
	h := make([]byte, 0, 64*len(b.Requests))
	for _, req := range b.Requests {
		h = append(h, req.To.Bytes()...)
		h = append(h, req.Data...)
		if req.Value != nil {
			h = append(h, common.LeftPadBytes(req.Value.Bytes(), 32)...)
		}
	}
	return crypto.Keccak256Hash(h).Hex()
}

// Submitter settles a batch and returns the settlement transaction hash. An
// empty hash with a nil error never occurs; failures come back as errors so
// the calling round can route them.
type Submitter interface {
	Submit(ctx context.Context, batch Batch) (string, error)
}

// Func adapts a function to the Submitter interface.
type Func func(ctx context.Context, batch Batch) (string, error)

// Submit implements Submitter.
func (f Func) Submit(ctx context.Context, batch Batch) (string, error) {
	return f(ctx, batch)
}
