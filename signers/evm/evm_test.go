package evm

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402evm "github.com/tlguszz1010/Pixel-Pay/mechanisms/evm"
)

const testKeyHex = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

type fakeBackend struct {
	mu       sync.Mutex
	nonce    uint64
	sent     []*types.Transaction
	calls    [][]byte
	callResp []byte
	status   uint64
	logs     []*types.Log
	pending  int
	native   *big.Int
}

func (b *fakeBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, msg.Data)
	return b.callResp, nil
}

func (b *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nonce, nil
}

func (b *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(50_000_000_000), nil
}

func (b *fakeBackend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return 120_000, nil
}

func (b *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, tx)
	b.nonce++
	return nil
}

func (b *fakeBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending > 0 {
		b.pending--
		return nil, ethereum.NotFound
	}
	return &types.Receipt{
		Status:      b.status,
		TxHash:      txHash,
		BlockNumber: big.NewInt(42),
		Logs:        b.logs,
	}, nil
}

func (b *fakeBackend) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return b.native, nil
}

func uint256Word(v int64) []byte {
	return common.LeftPadBytes(big.NewInt(v).Bytes(), 32)
}

func newTestOperator(t *testing.T, backend Backend) *OperatorClient {
	t.Helper()
	key, err := ParsePrivateKey(testKeyHex)
	require.NoError(t, err)
	op := NewOperatorClient(backend, key, x402evm.ChainIDMonadTestnet)
	op.pollInterval = time.Millisecond
	return op
}

func TestClientSignerRecoversToAddress(t *testing.T) {
	signer, err := NewClientSignerFromPrivateKey(testKeyHex)
	require.NoError(t, err)

	key, err := ParsePrivateKey(testKeyHex)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey).Hex(), signer.Address())

	auth := x402evm.ExactEIP3009Authorization{
		From:        signer.Address(),
		To:          "0x1111111111111111111111111111111111111111",
		Value:       "10000",
		ValidAfter:  "0",
		ValidBefore: "9999999999",
		Nonce:       "0x" + common.Bytes2Hex(make([]byte, 32)),
	}
	domain := x402evm.TypedDataDomain{
		Name:              "USDC",
		Version:           "2",
		ChainID:           x402evm.ChainIDMonad,
		VerifyingContract: x402evm.MonadUSDCAddress,
	}

	message, err := x402evm.EIP3009Message(auth)
	require.NoError(t, err)
	sig, err := signer.SignTypedData(context.Background(), domain, x402evm.GetEIP3009Types(), "TransferWithAuthorization", message)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	assert.Contains(t, []byte{27, 28}, sig[64])

	hash, err := x402evm.HashEIP3009Authorization(auth, x402evm.ChainIDMonad, x402evm.MonadUSDCAddress, "USDC", "2")
	require.NoError(t, err)
	recovered, err := x402evm.RecoverAddress(hash, sig)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), recovered)
}

func TestParsePrivateKeyRejectsGarbage(t *testing.T) {
	_, err := ParsePrivateKey("0xnothex")
	assert.Error(t, err)

	_, err = NewClientSignerFromPrivateKey("")
	assert.Error(t, err)
}

func TestOperatorWriteContractSignsForChain(t *testing.T) {
	backend := &fakeBackend{nonce: 7, status: 1}
	op := newTestOperator(t, backend)

	txHash, err := op.WriteContract(context.Background(), "0x2222222222222222222222222222222222222222", RewardTokenABI, "transfer", "0x3333333333333333333333333333333333333333", big.NewInt(100))
	require.NoError(t, err)

	require.Len(t, backend.sent, 1)
	tx := backend.sent[0]
	assert.Equal(t, txHash, tx.Hash().Hex())
	assert.Equal(t, uint64(7), tx.Nonce())
	assert.Equal(t, uint64(120_000), tx.Gas())

	sender, err := types.Sender(types.LatestSignerForChainID(x402evm.ChainIDMonadTestnet), tx)
	require.NoError(t, err)
	assert.Equal(t, op.Address(), sender.Hex())
}

func TestOperatorWithoutKeyCannotWrite(t *testing.T) {
	op := NewOperatorClient(&fakeBackend{}, nil, x402evm.ChainIDMonad)
	assert.False(t, op.CanWrite())

	_, err := op.WriteContract(context.Background(), "0x2222222222222222222222222222222222222222", RewardTokenABI, "transfer", "0x3333333333333333333333333333333333333333", big.NewInt(1))
	assert.Error(t, err)
}

func TestOperatorRejectsWrongArgumentCount(t *testing.T) {
	op := newTestOperator(t, &fakeBackend{})
	_, err := op.ReadContract(context.Background(), "0x2222222222222222222222222222222222222222", RewardTokenABI, "balanceOf")
	assert.Error(t, err)
}

func TestOperatorWaitsForReceipt(t *testing.T) {
	backend := &fakeBackend{status: 1, pending: 2}
	op := newTestOperator(t, backend)

	receipt, err := op.WaitForTransactionReceipt(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), receipt.Status)
	assert.Equal(t, uint64(42), receipt.BlockNumber)
	assert.Equal(t, 0, backend.pending)
}

func TestOperatorGetBalance(t *testing.T) {
	backend := &fakeBackend{native: big.NewInt(5), callResp: uint256Word(1_000_000)}
	op := newTestOperator(t, backend)
	ctx := context.Background()

	native, err := op.GetBalance(ctx, op.Address(), "")
	require.NoError(t, err)
	assert.Equal(t, int64(5), native.Int64())

	usdc, err := op.GetBalance(ctx, op.Address(), x402evm.MonadUSDCAddress)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), usdc.Int64())
}

func TestNFTMintReadsTokenIDFromTransferLog(t *testing.T) {
	contract := common.HexToAddress("0x4444444444444444444444444444444444444444")
	owner := common.HexToAddress("0x5555555555555555555555555555555555555555")
	backend := &fakeBackend{
		status: 1,
		logs: []*types.Log{
			{
				Address: common.HexToAddress("0x9999999999999999999999999999999999999999"),
				Topics:  []common.Hash{common.HexToHash(TransferEventTopic)},
			},
			{
				Address: contract,
				Topics: []common.Hash{
					common.HexToHash(TransferEventTopic),
					{},
					common.BytesToHash(owner.Bytes()),
					common.BigToHash(big.NewInt(17)),
				},
			},
		},
	}
	nft := NewNFTContract(newTestOperator(t, backend), contract.Hex())

	tokenID, txHash, err := nft.Mint(context.Background(), owner.Hex(), "http://localhost:4001/api/nft/17")
	require.NoError(t, err)
	assert.Equal(t, int64(17), tokenID.Int64())
	assert.NotEmpty(t, txHash)
}

func TestNFTMintWithoutTransferLog(t *testing.T) {
	backend := &fakeBackend{status: 1}
	nft := NewNFTContract(newTestOperator(t, backend), "0x4444444444444444444444444444444444444444")

	_, txHash, err := nft.Mint(context.Background(), "0x5555555555555555555555555555555555555555", "uri")
	assert.Error(t, err)
	assert.NotEmpty(t, txHash)
}

func TestRewardTokenTransferReverted(t *testing.T) {
	backend := &fakeBackend{status: 0}
	token := NewRewardToken(newTestOperator(t, backend), "0x2222222222222222222222222222222222222222")

	txHash, err := token.Transfer(context.Background(), "0x3333333333333333333333333333333333333333", big.NewInt(100))
	assert.Error(t, err)
	assert.NotEmpty(t, txHash)
}

func TestRewardTokenReads(t *testing.T) {
	backend := &fakeBackend{callResp: uint256Word(18)}
	token := NewRewardToken(newTestOperator(t, backend), "0x2222222222222222222222222222222222222222")
	ctx := context.Background()

	decimals, err := token.Decimals(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint8(18), decimals)

	supply, err := token.TotalSupply(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(18), supply.Int64())
	assert.Equal(t, token.Holder(), token.operator.Address())
}
