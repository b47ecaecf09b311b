// Package wallet defines the capability interface shared by the chain
// backends. A backend generates key material, rebuilds signers from stored
// secrets, and moves funds on its chain.
package wallet

import (
	"context"

	"github.com/tokenswallet/wallet-backend/internal/secretstore"
	apperrors "github.com/tokenswallet/wallet-backend/pkg/errors"
	"github.com/tokenswallet/wallet-backend/pkg/types"
)

// Payload keys used in the secret store
const (
	PayloadPrivateKey = "privateKey"
	PayloadMnemonic   = "mnemonic"
)

// Signer is a chain-specific signing object rebuilt from a stored secret.
// It lives for one request and is never persisted.
type Signer interface {
	Chain() types.Chain
	Address() string
}

// GeneratedWallet is a freshly generated keypair
type GeneratedWallet struct {
	Address string
	Secret  secretstore.Payload
}

// Transfer describes a submitted value transfer
type Transfer struct {
	Hash      string
	BlockHash *string // set once the transfer was observed in a block
	From      string
	To        string
	Amount    string
	AssetID   *string
}

// Backend is implemented once per chain family.
//
// All chain and store failures are returned as *apperrors.AppError of the
// taxonomy kinds (invalid input, insufficient funds, chain dispatch,
// transport, configuration).
type Backend interface {
	Chain() types.Chain

	// GenerateWallet creates a new keypair locally. No chain interaction.
	GenerateWallet(ctx context.Context) (*GeneratedWallet, error)

	// AddressFromSecret derives the address stored secret material belongs to
	AddressFromSecret(secret secretstore.Payload) (string, error)

	// SignerFromSecret rebuilds a signer from stored secret material
	SignerFromSecret(secret secretstore.Payload) (Signer, error)

	// ValidateAddress checks the address format without touching the chain
	ValidateAddress(address string) error

	// SendTokens submits a transfer of amount (human decimal units) from signer to to
	SendTokens(ctx context.Context, signer Signer, to, amount string, assetID *string) (*Transfer, error)

	// GetBalance returns the free balance of address in human decimal units
	GetBalance(ctx context.Context, address string) (string, error)
}

// Registry holds one backend per chain
type Registry struct {
	backends map[types.Chain]Backend
}

// NewRegistry creates a registry from the given backends
func NewRegistry(backends ...Backend) *Registry {
	r := &Registry{backends: make(map[types.Chain]Backend, len(backends))}
	for _, b := range backends {
		r.backends[b.Chain()] = b
	}
	return r
}

// Get returns the backend for chain
func (r *Registry) Get(chain types.Chain) (Backend, error) {
	b, ok := r.backends[chain]
	if !ok {
		return nil, apperrors.ChainNotSupported(string(chain))
	}
	return b, nil
}

// Chains returns the chains with a registered backend
func (r *Registry) Chains() []types.Chain {
	out := make([]types.Chain, 0, len(r.backends))
	for _, c := range types.AllChains() {
		if _, ok := r.backends[c]; ok {
			out = append(out, c)
		}
	}
	return out
}
