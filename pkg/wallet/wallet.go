// Package wallet manages the buyer's signing key: load, rotate and clear,
// backed by the settings store with an optional environment override.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	x402 "github.com/tlguszz1010/Pixel-Pay"
	"github.com/tlguszz1010/Pixel-Pay/pkg/store"
	evmsigner "github.com/tlguszz1010/Pixel-Pay/signers/evm"
)

// SettingPrivateKey is the settings key holding the buyer's private key.
const SettingPrivateKey = "privateKey"

// Source says where a loaded key came from.
type Source string

const (
	SourceEnv      Source = "env"
	SourceSettings Source = "settings"
)

// ErrInvalidKey is returned by Rotate for keys that do not parse.
var ErrInvalidKey = errors.New("invalid private key")

// Wallet is a loaded signing key.
type Wallet struct {
	Address string
	Source  Source
	Signer  *evmsigner.ClientSigner
}

// SecretProvider resolves the buyer's key on every Load, so a rotation or
// removal takes effect on the next run without a restart.
type SecretProvider struct {
	settings store.Settings
	envKey   string

	mu sync.Mutex
}

// Option configures a SecretProvider
type Option func(*SecretProvider)

// WithEnvOverride makes key take precedence over the settings store.
func WithEnvOverride(key string) Option {
	return func(p *SecretProvider) {
		p.envKey = strings.TrimSpace(key)
	}
}

// NewSecretProvider creates a provider over settings.
func NewSecretProvider(settings store.Settings, opts ...Option) *SecretProvider {
	p := &SecretProvider{settings: settings}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Load returns the active wallet or x402.ErrWalletNotConfigured.
func (p *SecretProvider) Load(ctx context.Context) (*Wallet, error) {
	if p.envKey != "" {
		return newWallet(p.envKey, SourceEnv)
	}

	key, ok, err := p.settings.GetSetting(ctx, SettingPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrUpstreamUnavailable, err)
	}
	if !ok || key == "" {
		return nil, x402.ErrWalletNotConfigured
	}
	return newWallet(key, SourceSettings)
}

// Configured reports whether Load would find a key.
func (p *SecretProvider) Configured(ctx context.Context) bool {
	_, err := p.Load(ctx)
	return err == nil
}

// Rotate validates and stores privateKey, replacing any previous key.
func (p *SecretProvider) Rotate(ctx context.Context, privateKey string) (*Wallet, error) {
	privateKey = strings.TrimSpace(privateKey)
	if !strings.HasPrefix(privateKey, "0x") {
		privateKey = "0x" + privateKey
	}

	w, err := newWallet(privateKey, SourceSettings)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.settings.SetSetting(ctx, SettingPrivateKey, privateKey); err != nil {
		return nil, err
	}
	return w, nil
}

// Clear removes the stored key. An environment override stays active.
func (p *SecretProvider) Clear(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.settings.DeleteSetting(ctx, SettingPrivateKey)
}

func newWallet(key string, source Source) (*Wallet, error) {
	signer, err := evmsigner.NewClientSignerFromPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return &Wallet{Address: signer.Address(), Source: source, Signer: signer}, nil
}
