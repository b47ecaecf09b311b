// Package ethereum implements the account/balance wallet backend for
// Ethereum-style chains.
package ethereum

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/tokenswallet/wallet-backend/internal/crypto"
	"github.com/tokenswallet/wallet-backend/internal/eth"
	"github.com/tokenswallet/wallet-backend/internal/logger"
	"github.com/tokenswallet/wallet-backend/internal/secretstore"
	"github.com/tokenswallet/wallet-backend/internal/units"
	"github.com/tokenswallet/wallet-backend/internal/wallet"
	apperrors "github.com/tokenswallet/wallet-backend/pkg/errors"
	"github.com/tokenswallet/wallet-backend/pkg/types"
)

// ChainClient is the node access the backend needs. *eth.Client implements it.
type ChainClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	GetBalance(ctx context.Context, address common.Address) (*big.Int, error)
	GetNonce(ctx context.Context, address common.Address) (uint64, error)
	EstimateGas(ctx context.Context, from, to common.Address, value *big.Int) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	LatestBaseFee(ctx context.Context) (*big.Int, error)
	SendRawTransaction(ctx context.Context, signedTx *ethtypes.Transaction) (string, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error)
}

// Config tunes the confirmation watcher
type Config struct {
	// ConfirmTimeout bounds how long a submitted transaction is watched
	ConfirmTimeout time.Duration
	// PollInterval is the receipt polling period
	PollInterval time.Duration
}

// Backend is the Ethereum-style wallet backend
type Backend struct {
	client   ChainClient
	cfg      Config
	watchers sync.WaitGroup
}

// NewBackend creates a backend on a shared chain client
func NewBackend(client ChainClient, cfg Config) *Backend {
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 5 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Backend{client: client, cfg: cfg}
}

// Signer holds a secp256k1 key for the duration of one request
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

func (s *Signer) Chain() types.Chain { return types.ChainEthereum }
func (s *Signer) Address() string    { return s.address.Hex() }

func (b *Backend) Chain() types.Chain { return types.ChainEthereum }

// GenerateWallet creates a fresh secp256k1 keypair
func (b *Backend) GenerateWallet(ctx context.Context) (*wallet.GeneratedWallet, error) {
	key, err := crypto.GenerateEthereumKey()
	if err != nil {
		return nil, err
	}
	return &wallet.GeneratedWallet{
		Address: crypto.GetEthereumAddress(key).Hex(),
		Secret:  secretstore.Payload{wallet.PayloadPrivateKey: crypto.PrivateKeyToHex(key)},
	}, nil
}

// AddressFromSecret derives the checksummed address of a stored private key
func (b *Backend) AddressFromSecret(secret secretstore.Payload) (string, error) {
	signer, err := b.SignerFromSecret(secret)
	if err != nil {
		return "", err
	}
	return signer.Address(), nil
}

// SignerFromSecret rebuilds a signer from {"privateKey": "0x..."}
func (b *Backend) SignerFromSecret(secret secretstore.Payload) (wallet.Signer, error) {
	raw, ok := secret[wallet.PayloadPrivateKey]
	if !ok || raw == "" {
		return nil, fmt.Errorf("stored ethereum secret has no %s", wallet.PayloadPrivateKey)
	}
	key, err := crypto.PrivateKeyFromHex(raw)
	if err != nil {
		return nil, err
	}
	return &Signer{key: key, address: crypto.GetEthereumAddress(key)}, nil
}

// ValidateAddress accepts 0x-prefixed 20-byte hex addresses
func (b *Backend) ValidateAddress(address string) error {
	if len(address) != 42 || !strings.EqualFold(address[:2], "0x") || !common.IsHexAddress(address) {
		return apperrors.InvalidInput(fmt.Sprintf("invalid ethereum address: %q", address))
	}
	return nil
}

// SendTokens checks the balance, submits a native transfer and returns as soon
// as the node accepted it. Confirmation is watched in the background.
func (b *Backend) SendTokens(ctx context.Context, signer wallet.Signer, to, amount string, assetID *string) (*wallet.Transfer, error) {
	s, ok := signer.(*Signer)
	if !ok {
		return nil, apperrors.Wrap(apperrors.ErrInternalError,
			fmt.Errorf("signer for %s passed to ethereum backend", signer.Chain()))
	}
	if assetID != nil && *assetID != "" {
		return nil, apperrors.InvalidInput("asset transfers are not supported on ethereum")
	}
	if err := b.ValidateAddress(to); err != nil {
		return nil, err
	}
	value, err := units.ParsePositive(amount, units.EtherDecimals)
	if err != nil {
		return nil, apperrors.InvalidInput(err.Error())
	}
	toAddr := common.HexToAddress(to)

	balance, err := b.client.GetBalance(ctx, s.address)
	if err != nil {
		return nil, apperrors.Transport("ethereum rpc", err)
	}
	if balance.Cmp(value) < 0 {
		return nil, apperrors.InsufficientFunds(fmt.Sprintf("balance %s < amount %s",
			units.FromBase(balance, units.EtherDecimals), amount))
	}

	tx, err := b.buildTransfer(ctx, s.address, toAddr, value)
	if err != nil {
		return nil, err
	}

	chainID, err := b.client.ChainID(ctx)
	if err != nil {
		return nil, apperrors.Transport("ethereum rpc", err)
	}
	signedTx, err := ethtypes.SignTx(tx, ethtypes.NewLondonSigner(chainID), s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	hash, err := b.client.SendRawTransaction(ctx, signedTx)
	if err != nil {
		if eth.IsRejection(err) {
			return nil, apperrors.ChainDispatch(err.Error())
		}
		return nil, apperrors.Transport("ethereum rpc", err)
	}

	logger.Info(ctx, "ethereum transfer submitted",
		"tx_hash", hash,
		"from", s.Address(),
		"to", toAddr.Hex(),
		"amount", amount,
	)

	b.watchers.Add(1)
	go b.watchConfirmation(logger.GetRequestID(ctx), hash)

	return &wallet.Transfer{
		Hash:   hash,
		From:   s.Address(),
		To:     to,
		Amount: amount,
	}, nil
}

// buildTransfer prepares an unsigned EIP-1559 transfer, or a legacy one on
// chains without a base fee.
func (b *Backend) buildTransfer(ctx context.Context, from, to common.Address, value *big.Int) (*ethtypes.Transaction, error) {
	nonce, err := b.client.GetNonce(ctx, from)
	if err != nil {
		return nil, apperrors.Transport("ethereum rpc", err)
	}
	gas, err := b.client.EstimateGas(ctx, from, to, value)
	if err != nil {
		if eth.IsRejection(err) {
			return nil, apperrors.ChainDispatch(err.Error())
		}
		return nil, apperrors.Transport("ethereum rpc", err)
	}
	baseFee, err := b.client.LatestBaseFee(ctx)
	if err != nil {
		return nil, apperrors.Transport("ethereum rpc", err)
	}

	if baseFee == nil {
		gasPrice, err := b.client.SuggestGasPrice(ctx)
		if err != nil {
			return nil, apperrors.Transport("ethereum rpc", err)
		}
		return ethtypes.NewTx(&ethtypes.LegacyTx{
			Nonce:    nonce,
			To:       &to,
			Value:    value,
			Gas:      gas,
			GasPrice: gasPrice,
		}), nil
	}

	tipCap, err := b.client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, apperrors.Transport("ethereum rpc", err)
	}
	chainID, err := b.client.ChainID(ctx)
	if err != nil {
		return nil, apperrors.Transport("ethereum rpc", err)
	}
	feeCap := new(big.Int).Add(new(big.Int).Mul(baseFee, big.NewInt(2)), tipCap)

	return ethtypes.NewTx(&ethtypes.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		To:        &to,
		Value:     value,
		Gas:       gas,
		GasFeeCap: feeCap,
		GasTipCap: tipCap,
	}), nil
}

// watchConfirmation logs the outcome of a submitted transaction. It never
// affects the caller, who already has the hash and receipt.
func (b *Backend) watchConfirmation(requestID, hash string) {
	defer b.watchers.Done()

	ctx, cancel := context.WithTimeout(logger.WithRequestID(context.Background(), requestID), b.cfg.ConfirmTimeout)
	defer cancel()

	receipt, err := eth.WaitForReceipt(ctx, b.client, common.HexToHash(hash), b.cfg.PollInterval)
	if err != nil {
		logger.Warn(ctx, "ethereum transfer confirmation not observed", "tx_hash", hash, "error", err)
		return
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		logger.Warn(ctx, "ethereum transfer reverted", "tx_hash", hash, "block", receipt.BlockNumber)
		return
	}
	logger.Info(ctx, "ethereum transfer confirmed", "tx_hash", hash, "block", receipt.BlockNumber)
}

// GetBalance returns the balance of address in ether
func (b *Backend) GetBalance(ctx context.Context, address string) (string, error) {
	if err := b.ValidateAddress(address); err != nil {
		return "", err
	}
	balance, err := b.client.GetBalance(ctx, common.HexToAddress(address))
	if err != nil {
		return "", apperrors.Transport("ethereum rpc", err)
	}
	return units.FromBase(balance, units.EtherDecimals), nil
}

// Shutdown waits for confirmation watchers to finish or ctx to expire
func (b *Backend) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.watchers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ wallet.Backend = (*Backend)(nil)
