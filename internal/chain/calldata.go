package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Minimal ABI fragments for the contracts the agent touches: the
// fixed-product market maker, the collateral ERC-20, and the conditional
// tokens contract.
const (
	marketMakerABI = `[
		{"name":"buy","type":"function","inputs":[
			{"name":"investmentAmount","type":"uint256"},
			{"name":"outcomeIndex","type":"uint256"},
			{"name":"minOutcomeTokensToBuy","type":"uint256"}]},
		{"name":"sell","type":"function","inputs":[
			{"name":"returnAmount","type":"uint256"},
			{"name":"outcomeIndex","type":"uint256"},
			{"name":"maxOutcomeTokensToSell","type":"uint256"}]}
	]`
	erc20ABI = `[
		{"name":"approve","type":"function","inputs":[
			{"name":"spender","type":"address"},
			{"name":"amount","type":"uint256"}]},
		{"name":"balanceOf","type":"function","stateMutability":"view",
			"inputs":[{"name":"owner","type":"address"}],
			"outputs":[{"name":"","type":"uint256"}]}
	]`
	conditionalTokensABI = `[
		{"name":"redeemPositions","type":"function","inputs":[
			{"name":"collateralToken","type":"address"},
			{"name":"parentCollectionId","type":"bytes32"},
			{"name":"conditionId","type":"bytes32"},
			{"name":"indexSets","type":"uint256[]"}]}
	]`
)

var (
	marketMaker       = mustParseABI(marketMakerABI)
	erc20             = mustParseABI(erc20ABI)
	conditionalTokens = mustParseABI(conditionalTokensABI)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("chain: parse abi: %v", err))
	}
	return parsed
}

// PackBuy builds the calldata funding a bet on the given outcome.
func PackBuy(investmentAmount *big.Int, outcomeIndex int, minOutcomeTokens *big.Int) ([]byte, error) {
	data, err := marketMaker.Pack("buy", investmentAmount, big.NewInt(int64(outcomeIndex)), minOutcomeTokens)
	if err != nil {
		return nil, fmt.Errorf("chain: pack buy: %w", err)
	}
	return data, nil
}

// PackSell builds the calldata closing a position on the given outcome.
func PackSell(returnAmount *big.Int, outcomeIndex int, maxOutcomeTokens *big.Int) ([]byte, error) {
	data, err := marketMaker.Pack("sell", returnAmount, big.NewInt(int64(outcomeIndex)), maxOutcomeTokens)
	if err != nil {
		return nil, fmt.Errorf("chain: pack sell: %w", err)
	}
	return data, nil
}

// PackApprove builds the ERC-20 approval for the market maker to pull the
// bet amount.
func PackApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	data, err := erc20.Pack("approve", spender, amount)
	if err != nil {
		return nil, fmt.Errorf("chain: pack approve: %w", err)
	}
	return data, nil
}

// PackRedeem builds the calldata redeeming a resolved binary position.
func PackRedeem(collateralToken common.Address, conditionID common.Hash) ([]byte, error) {
	// Binary outcome index sets: 0b01 and 0b10.
	indexSets := []*big.Int{big.NewInt(1), big.NewInt(2)}
	data, err := conditionalTokens.Pack("redeemPositions",
		collateralToken, [32]byte{}, [32]byte(conditionID), indexSets)
	if err != nil {
		return nil, fmt.Errorf("chain: pack redeem: %w", err)
	}
	return data, nil
}

// PackBalanceOf builds the ERC-20 balance query for owner.
func PackBalanceOf(owner common.Address) ([]byte, error) {
	data, err := erc20.Pack("balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("chain: pack balanceOf: %w", err)
	}
	return data, nil
}

// UnpackBalanceOf decodes the ERC-20 balance query result.
func UnpackBalanceOf(raw []byte) (*big.Int, error) {
	out, err := erc20.Unpack("balanceOf", raw)
	if err != nil {
		return nil, fmt.Errorf("chain: unpack balanceOf: %w", err)
	}
	balance, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("chain: unpack balanceOf: unexpected type %T", out[0])
	}
	return balance, nil
}
