package evm

import (
	"context"
	"fmt"
	"math/big"

	x402evm "github.com/tlguszz1010/Pixel-Pay/mechanisms/evm"
)

// RewardTokenABI is the ERC-20 subset used for buyer rewards.
var RewardTokenABI = []byte(`[
	{
		"inputs": [
			{"name": "to", "type": "address"},
			{"name": "amount", "type": "uint256"}
		],
		"name": "transfer",
		"outputs": [{"name": "", "type": "bool"}],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [{"name": "account", "type": "address"}],
		"name": "balanceOf",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "totalSupply",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "decimals",
		"outputs": [{"name": "", "type": "uint8"}],
		"stateMutability": "view",
		"type": "function"
	}
]`)

// RewardToken transfers an ERC-20 reward token from the operator account.
type RewardToken struct {
	operator *OperatorClient
	address  string
}

// NewRewardToken binds an ERC-20 at address.
func NewRewardToken(operator *OperatorClient, address string) *RewardToken {
	return &RewardToken{operator: operator, address: address}
}

// Address returns the token address.
func (t *RewardToken) Address() string {
	return t.address
}

// Holder returns the operator account rewards are paid from.
func (t *RewardToken) Holder() string {
	return t.operator.Address()
}

// Decimals returns the token's decimals.
func (t *RewardToken) Decimals(ctx context.Context) (uint8, error) {
	result, err := t.operator.ReadContract(ctx, t.address, RewardTokenABI, "decimals")
	if err != nil {
		return 0, err
	}
	decimals, ok := result.(uint8)
	if !ok {
		return 0, fmt.Errorf("unexpected decimals result %T", result)
	}
	return decimals, nil
}

// BalanceOf returns the token balance of account.
func (t *RewardToken) BalanceOf(ctx context.Context, account string) (*big.Int, error) {
	return t.readBig(ctx, "balanceOf", account)
}

// TotalSupply returns the token's total supply.
func (t *RewardToken) TotalSupply(ctx context.Context) (*big.Int, error) {
	return t.readBig(ctx, "totalSupply")
}

// Transfer sends amount to to and waits for the transaction to be mined.
func (t *RewardToken) Transfer(ctx context.Context, to string, amount *big.Int) (string, error) {
	txHash, err := t.operator.WriteContract(ctx, t.address, RewardTokenABI, "transfer", to, amount)
	if err != nil {
		return "", fmt.Errorf("transfer failed: %w", err)
	}

	receipt, err := t.operator.WaitForTransactionReceipt(ctx, txHash)
	if err != nil {
		return txHash, fmt.Errorf("transfer receipt: %w", err)
	}
	if receipt.Status != x402evm.TxStatusSuccess {
		return txHash, fmt.Errorf("transfer transaction %s reverted", txHash)
	}
	return txHash, nil
}

func (t *RewardToken) readBig(ctx context.Context, fn string, args ...interface{}) (*big.Int, error) {
	result, err := t.operator.ReadContract(ctx, t.address, RewardTokenABI, fn, args...)
	if err != nil {
		return nil, err
	}
	value, ok := result.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected %s result %T", fn, result)
	}
	return value, nil
}
