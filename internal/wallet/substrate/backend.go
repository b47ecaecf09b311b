// Package substrate implements the extrinsic/pallet wallet backend for
// Substrate-based chains.
package substrate

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/centrifuge/go-substrate-rpc-client/v4/signature"
	"github.com/tyler-smith/go-bip39"

	"github.com/tokenswallet/wallet-backend/internal/logger"
	"github.com/tokenswallet/wallet-backend/internal/secretstore"
	"github.com/tokenswallet/wallet-backend/internal/units"
	"github.com/tokenswallet/wallet-backend/internal/wallet"
	apperrors "github.com/tokenswallet/wallet-backend/pkg/errors"
	"github.com/tokenswallet/wallet-backend/pkg/types"
)

// DefaultDecimals is used when neither the deployment nor the chain report a precision
const DefaultDecimals int32 = 12

// Config configures the backend
type Config struct {
	SS58Prefix uint16
	// Decimals overrides the chain-reported precision when > 0
	Decimals int32
	// TokenID is the default currency id for multi-asset transfers
	TokenID string
	// ForceNative skips the multi-asset probe
	ForceNative bool
	// CustomCall is the chain-specific transfer call, e.g. "Unique.transfer"
	CustomCall string
	// InclusionTimeout bounds the wait for block inclusion
	InclusionTimeout time.Duration
}

// Backend is the Substrate-style wallet backend
type Backend struct {
	node Node
	cfg  Config

	mu         sync.Mutex
	ready      bool
	capability Capability
	decimals   int32
}

// NewBackend creates a backend on a shared node connection. Nothing is
// requested from the node until the first transfer or balance query.
func NewBackend(node Node, cfg Config) *Backend {
	if cfg.InclusionTimeout <= 0 {
		cfg.InclusionTimeout = 2 * time.Minute
	}
	return &Backend{node: node, cfg: cfg}
}

// Signer is an sr25519 keypair rebuilt from a stored mnemonic
type Signer struct {
	pair    signature.KeyringPair
	address string
}

func (s *Signer) Chain() types.Chain { return types.ChainSubstrate }
func (s *Signer) Address() string    { return s.address }

func (b *Backend) Chain() types.Chain { return types.ChainSubstrate }

// ensureReady probes the transfer mechanism and precision once
func (b *Backend) ensureReady(ctx context.Context) (Capability, int32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ready {
		return b.capability, b.decimals, nil
	}

	capability, err := Probe(ctx, b.node, b.cfg.ForceNative, b.cfg.CustomCall)
	if err != nil {
		return Capability{}, 0, err
	}

	decimals := b.cfg.Decimals
	if decimals <= 0 {
		props, err := b.node.Properties(ctx)
		if err != nil {
			return Capability{}, 0, err
		}
		decimals = props.Decimals
		if decimals <= 0 {
			decimals = DefaultDecimals
		}
	}

	b.capability, b.decimals, b.ready = capability, decimals, true
	logger.Info(ctx, "substrate transfer mechanism selected",
		"mechanism", capability.Mechanism.String(),
		"call", capability.Call,
		"decimals", decimals,
	)
	return capability, decimals, nil
}

// GenerateWallet creates a new mnemonic and derives its sr25519 address
func (b *Backend) GenerateWallet(ctx context.Context) (*wallet.GeneratedWallet, error) {
	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return nil, fmt.Errorf("failed to generate entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, fmt.Errorf("failed to generate mnemonic: %w", err)
	}
	signer, err := b.signerFromMnemonic(mnemonic)
	if err != nil {
		return nil, err
	}
	return &wallet.GeneratedWallet{
		Address: signer.address,
		Secret:  secretstore.Payload{wallet.PayloadMnemonic: mnemonic},
	}, nil
}

// AddressFromSecret derives the SS58 address of a stored mnemonic
func (b *Backend) AddressFromSecret(secret secretstore.Payload) (string, error) {
	signer, err := b.SignerFromSecret(secret)
	if err != nil {
		return "", err
	}
	return signer.Address(), nil
}

// SignerFromSecret rebuilds a keypair from {"mnemonic": ...}. Secrets written
// under the older {"privateKey": ...} key are read the same way.
func (b *Backend) SignerFromSecret(secret secretstore.Payload) (wallet.Signer, error) {
	phrase := secret[wallet.PayloadMnemonic]
	if phrase == "" {
		phrase = secret[wallet.PayloadPrivateKey]
	}
	if phrase == "" {
		return nil, fmt.Errorf("stored substrate secret has no %s", wallet.PayloadMnemonic)
	}
	return b.signerFromMnemonic(phrase)
}

func (b *Backend) signerFromMnemonic(phrase string) (*Signer, error) {
	pair, err := signature.KeyringPairFromSecret(phrase, b.cfg.SS58Prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to derive keypair: %w", err)
	}
	return &Signer{pair: pair, address: EncodeAddress(pair.PublicKey, b.cfg.SS58Prefix)}, nil
}

// Prepare probes the transfer mechanism and precision ahead of the first
// request. It is safe to call repeatedly.
func (b *Backend) Prepare(ctx context.Context) error {
	_, _, err := b.ensureReady(ctx)
	return err
}

// ValidateAddress accepts SS58 addresses, and H160 addresses once the probe
// has selected the custom pallet call. It never calls the node.
func (b *Backend) ValidateAddress(address string) error {
	recipient, err := ParseRecipient(address, b.cfg.CustomCall != "")
	if err != nil {
		return apperrors.InvalidInput(err.Error())
	}
	if recipient.Family != FamilyEthereum {
		return nil
	}

	b.mu.Lock()
	ready, mechanism := b.ready, b.capability.Mechanism
	b.mu.Unlock()

	switch {
	case !ready:
		return apperrors.Transport("substrate rpc", errors.New("transfer mechanism not probed yet"))
	case mechanism != MechanismCustomPallet:
		return apperrors.InvalidInput(fmt.Sprintf("%s transfers take SS58 recipients only", mechanism))
	}
	return nil
}

// SendTokens submits a transfer through the probed mechanism and waits for
// block inclusion. Only the custom pallet path checks balance and fee before
// submitting; the other paths rely on the runtime to reject the dispatch.
func (b *Backend) SendTokens(ctx context.Context, signer wallet.Signer, to, amount string, assetID *string) (*wallet.Transfer, error) {
	s, ok := signer.(*Signer)
	if !ok {
		return nil, apperrors.Wrap(apperrors.ErrInternalError,
			fmt.Errorf("signer for %s passed to substrate backend", signer.Chain()))
	}

	capability, decimals, err := b.ensureReady(ctx)
	if err != nil {
		return nil, apperrors.Transport("substrate rpc", err)
	}
	if capability.Mechanism == MechanismNone {
		return nil, apperrors.Configuration("no supported transfer call on connected chain")
	}

	recipient, err := ParseRecipient(to, capability.Mechanism == MechanismCustomPallet)
	if err != nil {
		return nil, apperrors.InvalidInput(err.Error())
	}
	value, err := units.ParsePositive(amount, decimals)
	if err != nil {
		return nil, apperrors.InvalidInput(err.Error())
	}

	call := TransferCall{
		Mechanism: capability.Mechanism,
		Call:      capability.Call,
		Recipient: recipient,
		Amount:    value,
	}
	override := ""
	if assetID != nil {
		override = *assetID
	}
	switch capability.Mechanism {
	case MechanismMultiAsset:
		call.AssetID = b.cfg.TokenID
		if override != "" {
			call.AssetID = override
		}
	case MechanismCustomPallet:
		call.AssetID = override
	case MechanismNativeBalance:
		if override != "" {
			return nil, apperrors.InvalidInput("asset transfers are not supported by the native balance call")
		}
	}

	if capability.Mechanism == MechanismCustomPallet {
		if err := b.checkFunds(ctx, s, call, decimals); err != nil {
			return nil, err
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, b.cfg.InclusionTimeout)
	defer cancel()

	inclusion, err := b.node.SubmitAndWait(waitCtx, s.pair, call)
	if err != nil {
		var dispatchErr *DispatchError
		if errors.As(err, &dispatchErr) {
			logger.Warn(ctx, "substrate transfer rejected",
				"from", s.address, "to", to, "reason", dispatchErr.Reason)
			return nil, apperrors.ChainDispatch(dispatchErr.Reason)
		}
		var unknownErr *SubmissionUnknownError
		if errors.As(err, &unknownErr) {
			logger.Error(ctx, "substrate transfer outcome unknown",
				"extrinsic_hash", unknownErr.ExtrinsicHash, "from", s.address, "to", to, "error", unknownErr.Err)
			return nil, apperrors.SubmissionUnknown(unknownErr.ExtrinsicHash, err)
		}
		return nil, apperrors.Transport("substrate rpc", err)
	}

	logger.Info(ctx, "substrate transfer included",
		"extrinsic_hash", inclusion.ExtrinsicHash,
		"block_hash", inclusion.BlockHash,
		"from", s.address,
		"to", to,
		"amount", amount,
		"mechanism", capability.Mechanism.String(),
	)

	transfer := &wallet.Transfer{
		Hash:      inclusion.ExtrinsicHash,
		BlockHash: &inclusion.BlockHash,
		From:      s.address,
		To:        to,
		Amount:    amount,
	}
	if call.AssetID != "" {
		asset := call.AssetID
		transfer.AssetID = &asset
	}
	return transfer, nil
}

// checkFunds rejects a transfer whose amount plus fee exceeds the free balance
func (b *Backend) checkFunds(ctx context.Context, s *Signer, call TransferCall, decimals int32) error {
	balance, err := b.node.FreeBalance(ctx, s.pair.PublicKey)
	if err != nil {
		return apperrors.Transport("substrate rpc", err)
	}
	fee, err := b.node.EstimateFee(ctx, s.pair, call)
	if err != nil {
		return apperrors.Transport("substrate rpc", err)
	}
	required := new(big.Int).Add(call.Amount, fee)
	if balance.Cmp(required) < 0 {
		return apperrors.InsufficientFunds(fmt.Sprintf("balance %s < amount + fee %s",
			units.FromBase(balance, decimals), units.FromBase(required, decimals)))
	}
	return nil
}

// GetBalance returns the free balance of an SS58 address in human units
func (b *Backend) GetBalance(ctx context.Context, address string) (string, error) {
	accountID, err := DecodeAddress(address)
	if err != nil {
		return "", apperrors.InvalidInput(err.Error())
	}
	_, decimals, err := b.ensureReady(ctx)
	if err != nil {
		return "", apperrors.Transport("substrate rpc", err)
	}
	balance, err := b.node.FreeBalance(ctx, accountID)
	if err != nil {
		return "", apperrors.Transport("substrate rpc", err)
	}
	return units.FromBase(balance, decimals), nil
}

var _ wallet.Backend = (*Backend)(nil)
