package txsubmit

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/oddlane/traderd/internal/domain"
)

// receiptPollInterval is how often a pending settlement is re-checked.
const receiptPollInterval = 2 * time.Second

// EthSubmitter signs batches with a local key and broadcasts them through a
// JSON-RPC endpoint. Requests of a batch get consecutive nonces; the hash of
// the last transaction identifies the settlement. Submit blocks until that
// transaction is mined or the context expires.
type EthSubmitter struct {
	eth     *ethclient.Client
	key     *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int
	logger  *slog.Logger
}

// NewEthSubmitter parses the hex private key and binds the submitter to the
// given chain.
func NewEthSubmitter(eth *ethclient.Client, privateKeyHex string, chainID int64, logger *slog.Logger) (*EthSubmitter, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("txsubmit: parse private key: %w", err)
	}
	return &EthSubmitter{
		eth:     eth,
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		chainID: big.NewInt(chainID),
		logger:  logger.With(slog.String("component", "eth_submitter")),
	}, nil
}

// From returns the submitting address.
func (s *EthSubmitter) From() common.Address { return s.from }

// Submit implements Submitter.
func (s *EthSubmitter) Submit(ctx context.Context, batch Batch) (string, error) {
	nonce, err := s.eth.PendingNonceAt(ctx, s.from)
	if err != nil {
		return "", fmt.Errorf("txsubmit: pending nonce: %w", err)
	}
	gasPrice, err := s.eth.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("txsubmit: gas price: %w", err)
	}

	signer := types.LatestSignerForChainID(s.chainID)
	var last common.Hash
	for i, req := range batch.Requests {
		value := req.Value
		if value == nil {
			value = new(big.Int)
		}
		to := req.To
		gas, err := s.eth.EstimateGas(ctx, ethereum.CallMsg{
			From:  s.from,
			To:    &to,
			Value: value,
			Data:  req.Data,
		})
		if err != nil {
			return "", fmt.Errorf("txsubmit: estimate gas for %s: %w", to, err)
		}
		tx, err := types.SignNewTx(s.key, signer, &types.LegacyTx{
			Nonce:    nonce + uint64(i),
			To:       &to,
			Value:    value,
			Gas:      gas,
			GasPrice: gasPrice,
			Data:     req.Data,
		})
		if err != nil {
			return "", fmt.Errorf("txsubmit: sign: %w", err)
		}
		if err := s.eth.SendTransaction(ctx, tx); err != nil {
			return "", fmt.Errorf("txsubmit: send: %w", err)
		}
		last = tx.Hash()
		s.logger.DebugContext(ctx, "transaction broadcast",
			slog.String("batch_id", batch.ID),
			slog.String("tx_hash", last.Hex()),
			slog.String("to", to.Hex()),
		)
	}

	if err := s.waitMined(ctx, last); err != nil {
		return "", err
	}
	return last.Hex(), nil
}

// waitMined polls for the receipt of hash until it lands or ctx expires.
func (s *EthSubmitter) waitMined(ctx context.Context, hash common.Hash) error {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()
	for {
		receipt, err := s.eth.TransactionReceipt(ctx, hash)
		if err == nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return fmt.Errorf("txsubmit: %s reverted: %w", hash.Hex(), domain.ErrTxFailed)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("txsubmit: wait for %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}
