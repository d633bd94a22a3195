package evm

import (
	"math/big"
)

const (
	// Scheme identifier
	SchemeExact = "exact"

	// Default token decimals for USDC
	DefaultDecimals = 6

	// EIP-3009 function names
	FunctionTransferWithAuthorization = "transferWithAuthorization"
	FunctionAuthorizationState        = "authorizationState"
	FunctionBalanceOf                 = "balanceOf"

	// Transaction status
	TxStatusSuccess = 1
	TxStatusFailed  = 0

	// ValidAfterSkew backdates validAfter so a payee clock running slightly
	// behind the payer still accepts the authorization.
	ValidAfterSkew = 600 // seconds

	// Invalid reasons reported by the local facilitator
	ErrInvalidSignature       = "invalid_exact_evm_payload_signature"
	ErrRecipientMismatch      = "invalid_exact_evm_payload_recipient_mismatch"
	ErrInsufficientValue      = "invalid_exact_evm_payload_authorization_value"
	ErrAuthorizationExpired   = "invalid_exact_evm_payload_authorization_valid_before"
	ErrAuthorizationNotActive = "invalid_exact_evm_payload_authorization_valid_after"
	ErrNonceUsed              = "invalid_exact_evm_payload_authorization_nonce_used"
	ErrInsufficientBalance    = "insufficient_funds"
	ErrUnsupportedPayloadType = "unsupported_payload_type"
	ErrUnsupportedNetwork     = "unsupported_network"
	ErrSchemeMismatch         = "unsupported_scheme"
	ErrNetworkMismatch        = "invalid_network"
	ErrTransactionFailed      = "transaction_failed"
)

// Monad USDC is deployed at the same address on mainnet and testnet.
const MonadUSDCAddress = "0x754704Bc059F8C67012fEd69BC8a327a5aafb603"

var (
	// Network chain IDs
	ChainIDMonad        = big.NewInt(143)
	ChainIDMonadTestnet = big.NewInt(10143)

	// NetworkConfigs lists the networks this package can sign and settle on.
	// Only EIP-3009 stablecoins can be used as the default asset.
	NetworkConfigs = map[string]NetworkConfig{
		"eip155:143": {
			Name:        "Monad",
			ChainID:     ChainIDMonad,
			RPCURL:      "https://rpc.monad.xyz",
			ExplorerURL: "https://monadscan.com",
			DefaultAsset: AssetInfo{
				Address:  MonadUSDCAddress,
				Name:     "USDC",
				Version:  "2",
				Decimals: DefaultDecimals,
			},
		},
		"eip155:10143": {
			Name:        "Monad Testnet",
			ChainID:     ChainIDMonadTestnet,
			RPCURL:      "https://testnet-rpc.monad.xyz",
			ExplorerURL: "https://testnet.monadexplorer.com",
			DefaultAsset: AssetInfo{
				Address:  MonadUSDCAddress,
				Name:     "USDC",
				Version:  "2",
				Decimals: DefaultDecimals,
			},
		},
	}

	// EIP-3009 ABI for transferWithAuthorization with v,r,s (EOA signatures)
	TransferWithAuthorizationVRSABI = []byte(`[
		{
			"inputs": [
				{"name": "from", "type": "address"},
				{"name": "to", "type": "address"},
				{"name": "value", "type": "uint256"},
				{"name": "validAfter", "type": "uint256"},
				{"name": "validBefore", "type": "uint256"},
				{"name": "nonce", "type": "bytes32"},
				{"name": "v", "type": "uint8"},
				{"name": "r", "type": "bytes32"},
				{"name": "s", "type": "bytes32"}
			],
			"name": "transferWithAuthorization",
			"outputs": [],
			"stateMutability": "nonpayable",
			"type": "function"
		}
	]`)

	// ABI for authorizationState check
	AuthorizationStateABI = []byte(`[
		{
			"inputs": [
				{"name": "authorizer", "type": "address"},
				{"name": "nonce", "type": "bytes32"}
			],
			"name": "authorizationState",
			"outputs": [{"name": "", "type": "bool"}],
			"stateMutability": "view",
			"type": "function"
		}
	]`)

	// ERC20BalanceOfABI for checking token balance
	ERC20BalanceOfABI = []byte(`[
		{
			"inputs": [
				{"name": "account", "type": "address"}
			],
			"name": "balanceOf",
			"outputs": [{"name": "", "type": "uint256"}],
			"stateMutability": "view",
			"type": "function"
		}
	]`)

	// EIP712DomainTypes is the domain used by EIP-3009 tokens.
	EIP712DomainTypes = []TypedDataField{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	}

	// TransferWithAuthorizationTypes is the EIP-3009 message type.
	TransferWithAuthorizationTypes = []TypedDataField{
		{Name: "from", Type: "address"},
		{Name: "to", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "validAfter", Type: "uint256"},
		{Name: "validBefore", Type: "uint256"},
		{Name: "nonce", Type: "bytes32"},
	}
)

// GetEIP3009Types returns the complete EIP-712 types map for
// TransferWithAuthorization signing.
func GetEIP3009Types() map[string][]TypedDataField {
	return map[string][]TypedDataField{
		"EIP712Domain":              EIP712DomainTypes,
		"TransferWithAuthorization": TransferWithAuthorizationTypes,
	}
}
