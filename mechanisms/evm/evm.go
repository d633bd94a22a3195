// Package evm implements the exact payment scheme on EVM networks using
// EIP-3009 TransferWithAuthorization. Monad mainnet and testnet are
// configured out of the box.
package evm

import (
	"fmt"
	"strings"

	x402 "github.com/tlguszz1010/Pixel-Pay"
)

// RegisterClient registers a signing client for the given networks, or for
// every configured network when none are given.
func RegisterClient(client *x402.X402Client, signer ClientEvmSigner, networks ...string) error {
	if signer == nil {
		return fmt.Errorf("signer is required")
	}

	networks, err := resolveNetworks(networks)
	if err != nil {
		return err
	}

	evmClient := NewExactEvmClient(signer)
	for _, network := range networks {
		client.Register(x402.Network(network), evmClient)
	}
	return nil
}

// RegisterService registers the price parser for the given networks, or
// for every configured network when none are given.
func RegisterService(service *x402.X402ResourceService, evmService *ExactEvmService, networks ...string) error {
	if evmService == nil {
		evmService = NewExactEvmService()
	}

	networks, err := resolveNetworks(networks)
	if err != nil {
		return err
	}

	for _, network := range networks {
		service.RegisterScheme(x402.Network(network), evmService)
	}
	return nil
}

func resolveNetworks(networks []string) ([]string, error) {
	if len(networks) == 0 {
		for network := range NetworkConfigs {
			networks = append(networks, network)
		}
		return networks, nil
	}
	for _, network := range networks {
		if !IsValidNetwork(network) {
			return nil, fmt.Errorf("unsupported network: %s", network)
		}
	}
	return networks, nil
}

// ExplorerTxURL links a transaction on the network's block explorer. It
// returns "" for unknown networks.
func ExplorerTxURL(network string, txHash string) string {
	config, err := GetNetworkConfig(network)
	if err != nil || txHash == "" {
		return ""
	}
	return strings.TrimSuffix(config.ExplorerURL, "/") + "/tx/" + txHash
}
