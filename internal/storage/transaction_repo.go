package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/tokenswallet/wallet-backend/pkg/types"
)

// ReceiptRepository stores transaction receipts. Receipts are immutable.
type ReceiptRepository struct {
	store *Store
}

// NewReceiptRepository creates a new receipt repository
func NewReceiptRepository(store *Store) *ReceiptRepository {
	return &ReceiptRepository{store: store}
}

// Save inserts a receipt. A second receipt for the same chain and hash is
// rejected with ErrDuplicate.
func (r *ReceiptRepository) Save(ctx context.Context, receipt *types.TransactionReceipt) error {
	if receipt.ID == uuid.Nil {
		receipt.ID = uuid.New()
	}

	query := `
		INSERT INTO transactions (
			id, chain, from_address, to_address, amount, asset_id,
			tx_hash, block_hash, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
	`

	_, err := r.store.pool.Exec(ctx, query,
		receipt.ID,
		receipt.Chain,
		receipt.FromAddress,
		receipt.ToAddress,
		receipt.Amount,
		receipt.AssetID,
		receipt.TxHash,
		receipt.BlockHash,
		receipt.Timestamp,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to save transaction: %w", err)
	}

	return nil
}

// ListByAddress returns receipts sent from or to address, newest first
func (r *ReceiptRepository) ListByAddress(ctx context.Context, address string, limit int) ([]*types.TransactionReceipt, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, chain, from_address, to_address, amount, asset_id,
			tx_hash, block_hash, created_at
		FROM transactions
		WHERE from_address = $1 OR to_address = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.store.pool.Query(ctx, query, address, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	receipts := make([]*types.TransactionReceipt, 0)
	for rows.Next() {
		var rc types.TransactionReceipt
		if err := rows.Scan(
			&rc.ID,
			&rc.Chain,
			&rc.FromAddress,
			&rc.ToAddress,
			&rc.Amount,
			&rc.AssetID,
			&rc.TxHash,
			&rc.BlockHash,
			&rc.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		receipts = append(receipts, &rc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	return receipts, nil
}
