// Package custody owns the custodial key lifecycle: one signing key per user
// per chain, generated once, stored before its address is recorded, and
// rebuilt into a signer on every transfer.
//
// Write discipline: the secret is written first (write-once), the address is
// recorded second. A failed secret write records nothing. A secret whose
// address was never recorded is an orphan; the next Provision for the same
// user and chain adopts it instead of generating a new key.
package custody

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/tokenswallet/wallet-backend/internal/logger"
	"github.com/tokenswallet/wallet-backend/internal/metrics"
	"github.com/tokenswallet/wallet-backend/internal/secretstore"
	"github.com/tokenswallet/wallet-backend/internal/wallet"
	apperrors "github.com/tokenswallet/wallet-backend/pkg/errors"
	"github.com/tokenswallet/wallet-backend/pkg/types"
)

// Provision outcomes
const (
	OutcomeExisting = "existing"
	OutcomeAdopted  = "adopted"
	OutcomeCreated  = "created"
	OutcomeFailed   = "failed"
)

// AccountStore is the part of the account store the custodian needs
type AccountStore interface {
	// FindByID returns nil, nil when the account does not exist
	FindByID(ctx context.Context, id uuid.UUID) (*types.Account, error)
	SetAddress(ctx context.Context, id uuid.UUID, chain types.Chain, address string) error
}

// Locker runs fn while holding an exclusive lock on key
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// SecretPath is the deterministic secret location for (chain, user)
func SecretPath(chain types.Chain, userID uuid.UUID) string {
	return fmt.Sprintf("%s/%s", chain, userID)
}

// Custodian provisions wallets and loads signers
type Custodian struct {
	secrets  secretstore.Store
	accounts AccountStore
	backends *wallet.Registry
	locker   Locker
	metrics  *metrics.Metrics
}

// New creates a custodian. A nil locker falls back to an in-process lock,
// which is only sufficient for a single instance.
func New(secrets secretstore.Store, accounts AccountStore, backends *wallet.Registry, locker Locker, m *metrics.Metrics) *Custodian {
	if locker == nil {
		locker = NewLocalLocker()
	}
	return &Custodian{
		secrets:  secrets,
		accounts: accounts,
		backends: backends,
		locker:   locker,
		metrics:  m,
	}
}

// Backend returns the wallet backend for chain
func (c *Custodian) Backend(chain types.Chain) (wallet.Backend, error) {
	return c.backends.Get(chain)
}

// Provision returns the user's address on chain, generating and storing a
// key only if no secret exists yet. Calls for the same user are serialized.
func (c *Custodian) Provision(ctx context.Context, userID uuid.UUID, chain types.Chain) (string, error) {
	backend, err := c.backends.Get(chain)
	if err != nil {
		return "", err
	}

	var address, outcome string
	err = c.locker.WithLock(ctx, "provision:"+userID.String(), func(ctx context.Context) error {
		var err error
		address, outcome, err = c.provisionLocked(ctx, backend, userID, chain)
		return err
	})
	if err != nil {
		c.metrics.ObserveProvision(chain, OutcomeFailed)
		return "", err
	}

	c.metrics.ObserveProvision(chain, outcome)
	return address, nil
}

func (c *Custodian) provisionLocked(ctx context.Context, backend wallet.Backend, userID uuid.UUID, chain types.Chain) (string, string, error) {
	account, err := c.accounts.FindByID(ctx, userID)
	if err != nil {
		return "", "", fmt.Errorf("failed to load account: %w", err)
	}
	if account == nil {
		return "", "", apperrors.UserUnknown(userID.String())
	}

	path := SecretPath(chain, userID)

	stored, err := c.secrets.Get(ctx, path)
	switch {
	case err == nil:
		address, err := backend.AddressFromSecret(stored)
		if err != nil {
			return "", "", apperrors.Wrap(apperrors.ErrInternalError, fmt.Errorf("stored secret at %s is unusable: %w", path, err))
		}
		switch recorded := account.Address(chain); recorded {
		case address:
			return address, OutcomeExisting, nil
		case "":
		default:
			// The record is never overwritten with a different key.
			logger.Error(ctx, "stored secret does not match recorded address",
				"user_id", userID, "chain", chain, "recorded", recorded, "derived", address)
			return "", "", apperrors.Wrap(apperrors.ErrInternalError, fmt.Errorf("address mismatch for %s", path))
		}
		logger.Warn(ctx, "adopting stored secret without recorded address",
			"user_id", userID, "chain", chain, "path", path, "address", address)
		if err := c.accounts.SetAddress(ctx, userID, chain, address); err != nil {
			return "", "", fmt.Errorf("failed to record address: %w", err)
		}
		return address, OutcomeAdopted, nil

	case errors.Is(err, secretstore.ErrNotFound):
		// generate below

	default:
		return "", "", storeError("read secret", err)
	}

	if recorded := account.Address(chain); recorded != "" {
		// An address without a secret cannot sign. Generating a new key would
		// silently change the user's address, so surface it instead.
		logger.Error(ctx, "recorded address has no stored secret",
			"user_id", userID, "chain", chain, "path", path, "address", recorded)
		return "", "", apperrors.NoSecret(string(chain), userID.String())
	}

	generated, err := backend.GenerateWallet(ctx)
	if err != nil {
		return "", "", apperrors.Wrap(apperrors.ErrInternalError, fmt.Errorf("failed to generate wallet: %w", err))
	}

	err = c.secrets.Create(ctx, path, generated.Secret)
	if errors.Is(err, secretstore.ErrAlreadyExists) {
		// Another instance won the write; use its key.
		stored, err := c.secrets.Get(ctx, path)
		if err != nil {
			return "", "", storeError("read secret", err)
		}
		address, err := backend.AddressFromSecret(stored)
		if err != nil {
			return "", "", apperrors.Wrap(apperrors.ErrInternalError, fmt.Errorf("stored secret at %s is unusable: %w", path, err))
		}
		if err := c.accounts.SetAddress(ctx, userID, chain, address); err != nil {
			return "", "", fmt.Errorf("failed to record address: %w", err)
		}
		return address, OutcomeAdopted, nil
	}
	if err != nil {
		return "", "", storeError("write secret", err)
	}

	if err := c.accounts.SetAddress(ctx, userID, chain, generated.Address); err != nil {
		logger.Error(ctx, "secret stored but address not recorded",
			"user_id", userID, "chain", chain, "path", path, "error", err)
		return "", "", fmt.Errorf("failed to record address: %w", err)
	}

	logger.Info(ctx, "wallet provisioned", "user_id", userID, "chain", chain, "address", generated.Address)
	return generated.Address, OutcomeCreated, nil
}

// LoadSigner rebuilds the user's signer for chain from the stored secret
func (c *Custodian) LoadSigner(ctx context.Context, userID uuid.UUID, chain types.Chain) (wallet.Signer, error) {
	backend, err := c.backends.Get(chain)
	if err != nil {
		return nil, err
	}

	account, err := c.accounts.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	if account == nil {
		return nil, apperrors.UserUnknown(userID.String())
	}

	path := SecretPath(chain, userID)
	stored, err := c.secrets.Get(ctx, path)
	if errors.Is(err, secretstore.ErrNotFound) {
		logger.Warn(ctx, "no stored secret for existing user", "user_id", userID, "chain", chain, "path", path)
		return nil, apperrors.NoSecret(string(chain), userID.String())
	}
	if err != nil {
		return nil, storeError("read secret", err)
	}

	signer, err := backend.SignerFromSecret(stored)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalError, fmt.Errorf("stored secret at %s is unusable: %w", path, err))
	}

	if recorded := account.Address(chain); recorded != "" && recorded != signer.Address() {
		logger.Error(ctx, "stored secret does not match recorded address",
			"user_id", userID, "chain", chain, "recorded", recorded, "derived", signer.Address())
		return nil, apperrors.Wrap(apperrors.ErrInternalError, fmt.Errorf("address mismatch for %s", path))
	}
	return signer, nil
}

func storeError(op string, err error) error {
	if errors.Is(err, secretstore.ErrUnavailable) {
		return apperrors.Transport("secret store: "+op, err)
	}
	return apperrors.Wrap(apperrors.ErrInternalError, fmt.Errorf("secret store: %s: %w", op, err))
}

// LocalLocker is an in-process keyed mutex
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker creates an empty keyed mutex
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*lockEntry)}
}

// WithLock waits for key, honoring ctx, and runs fn while holding it
func (l *LocalLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &lockEntry{ch: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-e.ch }()

	return fn(ctx)
}
