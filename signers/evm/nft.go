package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	x402evm "github.com/tlguszz1010/Pixel-Pay/mechanisms/evm"
)

// TransferEventTopic is keccak256("Transfer(address,address,uint256)").
const TransferEventTopic = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"

// ProvenanceNFTABI covers the mint and supply functions of the PixelPay ERC-721.
var ProvenanceNFTABI = []byte(`[
	{
		"inputs": [
			{"name": "to", "type": "address"},
			{"name": "uri", "type": "string"}
		],
		"name": "mint",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "totalSupply",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	}
]`)

// NFTContract mints provenance tokens through an operator.
type NFTContract struct {
	operator *OperatorClient
	address  string
}

// NewNFTContract binds an ERC-721 at address.
func NewNFTContract(operator *OperatorClient, address string) *NFTContract {
	return &NFTContract{operator: operator, address: address}
}

// Address returns the contract address.
func (n *NFTContract) Address() string {
	return n.address
}

// Mint mints a token for to with metadata uri, waits for the receipt and
// returns the token id read from the Transfer event.
func (n *NFTContract) Mint(ctx context.Context, to, uri string) (*big.Int, string, error) {
	txHash, err := n.operator.WriteContract(ctx, n.address, ProvenanceNFTABI, "mint", to, uri)
	if err != nil {
		return nil, "", fmt.Errorf("mint failed: %w", err)
	}

	receipt, err := n.operator.WaitForTransactionReceipt(ctx, txHash)
	if err != nil {
		return nil, txHash, fmt.Errorf("mint receipt: %w", err)
	}
	if receipt.Status != x402evm.TxStatusSuccess {
		return nil, txHash, fmt.Errorf("mint transaction %s reverted", txHash)
	}

	tokenID, err := mintedTokenID(receipt, n.address)
	if err != nil {
		return nil, txHash, err
	}
	return tokenID, txHash, nil
}

// TotalSupply returns the number of minted tokens.
func (n *NFTContract) TotalSupply(ctx context.Context) (*big.Int, error) {
	result, err := n.operator.ReadContract(ctx, n.address, ProvenanceNFTABI, "totalSupply")
	if err != nil {
		return nil, err
	}
	supply, ok := result.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected totalSupply result %T", result)
	}
	return supply, nil
}

// mintedTokenID finds the Transfer log emitted by contract; the token id is
// its third indexed topic.
func mintedTokenID(receipt *x402evm.TransactionReceipt, contract string) (*big.Int, error) {
	for _, l := range receipt.Logs {
		if !strings.EqualFold(l.Address, contract) {
			continue
		}
		if len(l.Topics) < 4 || !strings.EqualFold(l.Topics[0], TransferEventTopic) {
			continue
		}
		return common.HexToHash(l.Topics[3]).Big(), nil
	}
	return nil, fmt.Errorf("no Transfer event in mint receipt %s", receipt.TxHash)
}
