package chain

import (
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func selector(signature string) string {
	return hex.EncodeToString(crypto.Keccak256([]byte(signature))[:4])
}

func TestPackBuy(t *testing.T) {
	data, err := PackBuy(big.NewInt(1e6), 1, big.NewInt(2e6))
	require.NoError(t, err)

	assert.Equal(t, selector("buy(uint256,uint256,uint256)"), hex.EncodeToString(data[:4]))
	assert.Len(t, data, 4+3*32)
	// Arguments in order: investment amount, outcome index, min tokens.
	assert.Equal(t, big.NewInt(1e6), new(big.Int).SetBytes(data[4:36]))
	assert.Equal(t, big.NewInt(1), new(big.Int).SetBytes(data[36:68]))
	assert.Equal(t, big.NewInt(2e6), new(big.Int).SetBytes(data[68:100]))
}

func TestPackSell(t *testing.T) {
	data, err := PackSell(big.NewInt(5e5), 0, big.NewInt(1e6))
	require.NoError(t, err)

	assert.Equal(t, selector("sell(uint256,uint256,uint256)"), hex.EncodeToString(data[:4]))
	assert.Len(t, data, 4+3*32)
}

func TestPackApprove(t *testing.T) {
	spender := common.HexToAddress("0x1111111111111111111111111111111111111111")
	data, err := PackApprove(spender, big.NewInt(1e18))
	require.NoError(t, err)

	assert.Equal(t, selector("approve(address,uint256)"), hex.EncodeToString(data[:4]))
	assert.Equal(t, spender, common.BytesToAddress(data[4:36]))
}

func TestPackRedeem(t *testing.T) {
	collateral := common.HexToAddress("0x2222222222222222222222222222222222222222")
	condition := common.HexToHash("0xabcdef")

	data, err := PackRedeem(collateral, condition)
	require.NoError(t, err)

	assert.Equal(t,
		selector("redeemPositions(address,bytes32,bytes32,uint256[])"),
		hex.EncodeToString(data[:4]))
}

func TestBalanceOfRoundTrip(t *testing.T) {
	owner := common.HexToAddress("0x3333333333333333333333333333333333333333")
	data, err := PackBalanceOf(owner)
	require.NoError(t, err)
	assert.Equal(t, selector("balanceOf(address)"), hex.EncodeToString(data[:4]))

	balance, err := UnpackBalanceOf(common.LeftPadBytes(big.NewInt(42).Bytes(), 32))
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(42), balance)
}
