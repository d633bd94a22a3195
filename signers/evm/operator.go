package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	x402evm "github.com/tlguszz1010/Pixel-Pay/mechanisms/evm"
)

// Backend is the subset of *ethclient.Client the operator needs.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// DefaultReceiptPollInterval is how often WaitForTransactionReceipt polls.
const DefaultReceiptPollInterval = time.Second

// OperatorClient sends contract transactions from one key. It implements
// x402evm.FacilitatorEvmSigner and backs the NFT and reward token clients.
type OperatorClient struct {
	backend    Backend
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int

	// Serializes nonce allocation so concurrent mint and reward
	// transactions from the same key do not collide.
	sendMu       sync.Mutex
	pollInterval time.Duration
}

// NewOperatorClient creates an operator for chainID. A nil privateKey gives
// a read-only client.
func NewOperatorClient(backend Backend, privateKey *ecdsa.PrivateKey, chainID *big.Int) *OperatorClient {
	op := &OperatorClient{
		backend:      backend,
		privateKey:   privateKey,
		chainID:      chainID,
		pollInterval: DefaultReceiptPollInterval,
	}
	if privateKey != nil {
		op.address = crypto.PubkeyToAddress(privateKey.PublicKey)
	}
	return op
}

// Address returns the operator account, or the zero address when read-only.
func (o *OperatorClient) Address() string {
	return o.address.Hex()
}

// CanWrite reports whether the operator holds a key.
func (o *OperatorClient) CanWrite() bool {
	return o.privateKey != nil
}

// ReadContract calls a view function and returns its single output, or the
// output slice when there are several. String arguments are converted to
// addresses where the ABI expects one.
func (o *OperatorClient) ReadContract(ctx context.Context, contractAddress string, abiBytes []byte, functionName string, args ...interface{}) (interface{}, error) {
	contractABI, data, err := packCall(abiBytes, functionName, args)
	if err != nil {
		return nil, err
	}

	addr := common.HexToAddress(contractAddress)
	result, err := o.backend.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("contract call failed: %w", err)
	}

	outputs, err := contractABI.Unpack(functionName, result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack result: %w", err)
	}

	if len(outputs) == 0 {
		return nil, nil
	}
	if len(outputs) == 1 {
		return outputs[0], nil
	}
	return outputs, nil
}

// WriteContract signs and sends a contract transaction and returns its hash
// without waiting for it to be mined.
func (o *OperatorClient) WriteContract(ctx context.Context, contractAddress string, abiBytes []byte, functionName string, args ...interface{}) (string, error) {
	if o.privateKey == nil {
		return "", fmt.Errorf("operator has no private key")
	}

	_, data, err := packCall(abiBytes, functionName, args)
	if err != nil {
		return "", err
	}
	to := common.HexToAddress(contractAddress)

	o.sendMu.Lock()
	defer o.sendMu.Unlock()

	nonce, err := o.backend.PendingNonceAt(ctx, o.address)
	if err != nil {
		return "", fmt.Errorf("failed to get nonce: %w", err)
	}
	gasPrice, err := o.backend.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get gas price: %w", err)
	}
	gas, err := o.backend.EstimateGas(ctx, ethereum.CallMsg{From: o.address, To: &to, Data: data})
	if err != nil {
		return "", fmt.Errorf("failed to estimate gas for %s: %w", functionName, err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(o.chainID), o.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := o.backend.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}
	return signed.Hash().Hex(), nil
}

// WaitForTransactionReceipt polls until the transaction is mined or ctx ends.
func (o *OperatorClient) WaitForTransactionReceipt(ctx context.Context, txHash string) (*x402evm.TransactionReceipt, error) {
	hash := common.HexToHash(txHash)
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := o.backend.TransactionReceipt(ctx, hash)
		if err == nil {
			return convertReceipt(receipt), nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("failed to get receipt: %w", err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// GetBalance returns the ERC-20 balance of address, or the native balance
// when tokenAddress is empty.
func (o *OperatorClient) GetBalance(ctx context.Context, address string, tokenAddress string) (*big.Int, error) {
	if tokenAddress == "" {
		return o.backend.BalanceAt(ctx, common.HexToAddress(address), nil)
	}

	result, err := o.ReadContract(ctx, tokenAddress, x402evm.ERC20BalanceOfABI, x402evm.FunctionBalanceOf, address)
	if err != nil {
		return nil, err
	}
	balance, ok := result.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf result %T", result)
	}
	return balance, nil
}

func packCall(abiBytes []byte, functionName string, args []interface{}) (abi.ABI, []byte, error) {
	contractABI, err := abi.JSON(strings.NewReader(string(abiBytes)))
	if err != nil {
		return abi.ABI{}, nil, fmt.Errorf("failed to parse ABI: %w", err)
	}

	method, ok := contractABI.Methods[functionName]
	if !ok {
		return abi.ABI{}, nil, fmt.Errorf("method %s not found in ABI", functionName)
	}
	if len(args) != len(method.Inputs) {
		return abi.ABI{}, nil, fmt.Errorf("method %s takes %d arguments, got %d", functionName, len(method.Inputs), len(args))
	}

	converted := make([]interface{}, len(args))
	for i, arg := range args {
		converted[i] = arg
		if s, ok := arg.(string); ok && method.Inputs[i].Type.T == abi.AddressTy {
			converted[i] = common.HexToAddress(s)
		}
	}

	data, err := contractABI.Pack(functionName, converted...)
	if err != nil {
		return abi.ABI{}, nil, fmt.Errorf("failed to pack method call: %w", err)
	}
	return contractABI, data, nil
}

func convertReceipt(receipt *types.Receipt) *x402evm.TransactionReceipt {
	result := &x402evm.TransactionReceipt{
		Status: receipt.Status,
		TxHash: receipt.TxHash.Hex(),
	}
	if receipt.BlockNumber != nil {
		result.BlockNumber = receipt.BlockNumber.Uint64()
	}
	for _, l := range receipt.Logs {
		if l == nil {
			continue
		}
		topics := make([]string, len(l.Topics))
		for i, topic := range l.Topics {
			topics[i] = topic.Hex()
		}
		result.Logs = append(result.Logs, x402evm.ReceiptLog{
			Address: l.Address.Hex(),
			Topics:  topics,
			Data:    l.Data,
		})
	}
	return result
}
