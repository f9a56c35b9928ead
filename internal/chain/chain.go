// Package chain talks to the settlement chain: balances, trade calldata for
// the fixed-product market maker, and redemption of resolved positions.
// Signing and submission live elsewhere; this package only reads state and
// builds transactions.
package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Balances is the agent's spendable state: the native balance pays for gas,
// the collateral balance funds bets.
type Balances struct {
	Native     *big.Int
	Collateral *big.Int
}

// Client reads chain state. Calls are transient-failure-prone; callers retry
// with backoff up to their round deadline.
type Client interface {
	// GetBalances returns the native and collateral token balances of owner.
	GetBalances(ctx context.Context, owner, collateralToken common.Address) (*Balances, error)
}
