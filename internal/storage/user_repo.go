package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tokenswallet/wallet-backend/pkg/types"
)

const accountColumns = `id, email, password_hash, google_id, display_name,
	ethereum_address, substrate_address, created_at`

// AccountRepository handles user account records
type AccountRepository struct {
	store *Store
}

// NewAccountRepository creates a new AccountRepository
func NewAccountRepository(store *Store) *AccountRepository {
	return &AccountRepository{store: store}
}

func scanAccount(row pgx.Row) (*types.Account, error) {
	var a types.Account
	err := row.Scan(
		&a.ID,
		&a.Email,
		&a.PasswordHash,
		&a.GoogleID,
		&a.DisplayName,
		&a.EthereumAddress,
		&a.SubstrateAddress,
		&a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Create inserts a new account. The ID is generated when unset.
// Returns ErrDuplicate when the email or Google ID is taken.
func (r *AccountRepository) Create(ctx context.Context, account *types.Account) error {
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}

	query := `
		INSERT INTO users (id, email, password_hash, google_id, display_name)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`

	err := r.store.pool.QueryRow(ctx, query,
		account.ID,
		account.Email,
		account.PasswordHash,
		account.GoogleID,
		account.DisplayName,
	).Scan(&account.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// FindByID retrieves an account by ID, or nil if it does not exist
func (r *AccountRepository) FindByID(ctx context.Context, id uuid.UUID) (*types.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM users WHERE id = $1`

	account, err := scanAccount(r.store.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by ID: %w", err)
	}
	return account, nil
}

// FindByEmail retrieves an account by email, case-insensitively
func (r *AccountRepository) FindByEmail(ctx context.Context, email string) (*types.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM users WHERE lower(email) = lower($1)`

	account, err := scanAccount(r.store.pool.QueryRow(ctx, query, email))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return account, nil
}

// FindByGoogleID retrieves an account linked to a Google profile
func (r *AccountRepository) FindByGoogleID(ctx context.Context, googleID string) (*types.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM users WHERE google_id = $1`

	account, err := scanAccount(r.store.pool.QueryRow(ctx, query, googleID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by google_id: %w", err)
	}
	return account, nil
}

// SetAddress records the provisioned address for chain
func (r *AccountRepository) SetAddress(ctx context.Context, id uuid.UUID, chain types.Chain, address string) error {
	var column string
	switch chain {
	case types.ChainEthereum:
		column = "ethereum_address"
	case types.ChainSubstrate:
		column = "substrate_address"
	default:
		return fmt.Errorf("unsupported chain: %s", chain)
	}

	query := `UPDATE users SET ` + column + ` = $2, updated_at = NOW() WHERE id = $1`
	tag, err := r.store.pool.Exec(ctx, query, id, address)
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", column, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to set %s: user %s not found", column, id)
	}
	return nil
}

// LinkGoogle attaches a Google profile to an existing account
func (r *AccountRepository) LinkGoogle(ctx context.Context, id uuid.UUID, googleID string, displayName *string) error {
	query := `
		UPDATE users
		SET google_id = $2, display_name = COALESCE(display_name, $3), updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.store.pool.Exec(ctx, query, id, googleID, displayName)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to link google account: %w", err)
	}
	return nil
}

// Delete removes an account. Used to compensate a failed registration.
func (r *AccountRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.store.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return nil
}
