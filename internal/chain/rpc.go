package chain

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// RPCClient implements Client over a JSON-RPC endpoint.
type RPCClient struct {
	eth    *ethclient.Client
	logger *slog.Logger
}

// NewRPCClient dials the JSON-RPC endpoint.
func NewRPCClient(ctx context.Context, rpcURL string, logger *slog.Logger) (*RPCClient, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", rpcURL, err)
	}
	return &RPCClient{
		eth:    eth,
		logger: logger.With(slog.String("component", "chain_rpc")),
	}, nil
}

// Close releases the underlying connection.
func (c *RPCClient) Close() {
	c.eth.Close()
}

// Eth exposes the underlying connection for components that broadcast
// transactions over the same endpoint.
func (c *RPCClient) Eth() *ethclient.Client {
	return c.eth
}

// GetBalances implements Client.
func (c *RPCClient) GetBalances(ctx context.Context, owner, collateralToken common.Address) (*Balances, error) {
	native, err := c.eth.BalanceAt(ctx, owner, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: native balance of %s: %w", owner, err)
	}

	calldata, err := PackBalanceOf(owner)
	if err != nil {
		return nil, err
	}
	raw, err := c.eth.CallContract(ctx, ethereum.CallMsg{
		To:   &collateralToken,
		Data: calldata,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: collateral balance of %s: %w", owner, err)
	}
	collateral, err := UnpackBalanceOf(raw)
	if err != nil {
		return nil, err
	}

	return &Balances{Native: native, Collateral: collateral}, nil
}
