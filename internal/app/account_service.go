// Package app implements the account and transfer use cases on top of the
// custodial key lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/tokenswallet/wallet-backend/internal/crypto"
	"github.com/tokenswallet/wallet-backend/internal/custody"
	"github.com/tokenswallet/wallet-backend/internal/logger"
	"github.com/tokenswallet/wallet-backend/internal/storage"
	apperrors "github.com/tokenswallet/wallet-backend/pkg/errors"
	"github.com/tokenswallet/wallet-backend/pkg/types"
)

// AccountRepository is the account store used by AccountService
type AccountRepository interface {
	custody.AccountStore
	Create(ctx context.Context, account *types.Account) error
	FindByEmail(ctx context.Context, email string) (*types.Account, error)
	FindByGoogleID(ctx context.Context, googleID string) (*types.Account, error)
	LinkGoogle(ctx context.Context, id uuid.UUID, googleID string, displayName *string) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// AccountService registers users and provisions their wallets
type AccountService struct {
	accounts     AccountRepository
	custodian    *custody.Custodian
	defaultChain types.Chain
}

// NewAccountService creates a new account service
func NewAccountService(accounts AccountRepository, custodian *custody.Custodian, defaultChain types.Chain) *AccountService {
	return &AccountService{
		accounts:     accounts,
		custodian:    custodian,
		defaultChain: defaultChain,
	}
}

// RegisterRequest is a password registration
type RegisterRequest struct {
	Email    string
	Password string
	Chain    types.Chain // defaults to the service's default chain
}

// GoogleProfile is the verified profile returned by the OAuth provider
type GoogleProfile struct {
	GoogleID    string
	Email       string
	DisplayName string
}

var errInvalidCredentials = apperrors.New(apperrors.ErrCodeUnauthorized, "Invalid email or password", http.StatusUnauthorized)

// Register creates an account and provisions its wallet. When provisioning
// fails the account is deleted again, so a registration either fully
// succeeds or leaves nothing behind.
func (s *AccountService) Register(ctx context.Context, req RegisterRequest) (*types.Account, error) {
	email := normalizeEmail(req.Email)
	if !strings.Contains(email, "@") {
		return nil, apperrors.InvalidInput("invalid email")
	}
	if len(req.Password) < 8 {
		return nil, apperrors.InvalidInput("password must be at least 8 characters")
	}
	chain := req.Chain
	if chain == "" {
		chain = s.defaultChain
	}
	if _, err := s.custodian.Backend(chain); err != nil {
		return nil, err
	}

	hash, err := crypto.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	account := &types.Account{Email: email, PasswordHash: &hash}
	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, apperrors.NewWithDetail(apperrors.ErrCodeConflict, "User already exists", email, http.StatusConflict)
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	if _, err := s.custodian.Provision(ctx, account.ID, chain); err != nil {
		logger.Error(ctx, "wallet provisioning failed, removing new account",
			"user_id", account.ID, "chain", chain, "error", err)
		if delErr := s.accounts.Delete(ctx, account.ID); delErr != nil {
			logger.Error(ctx, "failed to remove account after provisioning failure",
				"user_id", account.ID, "error", delErr)
		}
		return nil, err
	}

	logger.Info(ctx, "account registered", "user_id", account.ID, "chain", chain)
	return s.GetAccount(ctx, account.ID)
}

// Login verifies a password and returns the account
func (s *AccountService) Login(ctx context.Context, email, password string) (*types.Account, error) {
	account, err := s.accounts.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	if account == nil || account.PasswordHash == nil {
		return nil, errInvalidCredentials
	}
	if err := crypto.VerifyPassword(*account.PasswordHash, password); err != nil {
		return nil, errInvalidCredentials
	}
	return account, nil
}

// FindOrCreateFromGoogle resolves a Google login to an account, linking an
// existing account with the same email, and provisions chain when the
// account has no address on it yet.
func (s *AccountService) FindOrCreateFromGoogle(ctx context.Context, profile GoogleProfile, chain types.Chain) (*types.Account, error) {
	if profile.GoogleID == "" {
		return nil, apperrors.InvalidInput("missing google id")
	}
	if chain == "" {
		chain = types.ChainSubstrate
	}
	if _, err := s.custodian.Backend(chain); err != nil {
		return nil, err
	}

	var displayName *string
	if profile.DisplayName != "" {
		displayName = &profile.DisplayName
	}

	account, err := s.accounts.FindByGoogleID(ctx, profile.GoogleID)
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}

	if account == nil && profile.Email != "" {
		account, err = s.accounts.FindByEmail(ctx, normalizeEmail(profile.Email))
		if err != nil {
			return nil, fmt.Errorf("failed to find account: %w", err)
		}
		if account != nil {
			if err := s.accounts.LinkGoogle(ctx, account.ID, profile.GoogleID, displayName); err != nil {
				return nil, fmt.Errorf("failed to link google account: %w", err)
			}
		}
	}

	if account == nil {
		googleID := profile.GoogleID
		account = &types.Account{
			Email:       normalizeEmail(profile.Email),
			GoogleID:    &googleID,
			DisplayName: displayName,
		}
		if err := s.accounts.Create(ctx, account); err != nil {
			if errors.Is(err, storage.ErrDuplicate) {
				return nil, apperrors.NewWithDetail(apperrors.ErrCodeConflict, "User already exists", account.Email, http.StatusConflict)
			}
			return nil, fmt.Errorf("failed to create account: %w", err)
		}
		logger.Info(ctx, "account created from google profile", "user_id", account.ID)
	}

	if account.Address(chain) == "" {
		if _, err := s.custodian.Provision(ctx, account.ID, chain); err != nil {
			return nil, err
		}
	}
	return s.GetAccount(ctx, account.ID)
}

// GetAccount returns an account by ID
func (s *AccountService) GetAccount(ctx context.Context, id uuid.UUID) (*types.Account, error) {
	account, err := s.accounts.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	if account == nil {
		return nil, apperrors.UserUnknown(id.String())
	}
	return account, nil
}

// ProvisionWallet returns the user's address on chain, creating the wallet if needed
func (s *AccountService) ProvisionWallet(ctx context.Context, userID uuid.UUID, chain types.Chain) (string, error) {
	return s.custodian.Provision(ctx, userID, chain)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
