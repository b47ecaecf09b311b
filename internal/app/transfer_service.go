package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tokenswallet/wallet-backend/internal/custody"
	"github.com/tokenswallet/wallet-backend/internal/logger"
	"github.com/tokenswallet/wallet-backend/internal/metrics"
	"github.com/tokenswallet/wallet-backend/internal/units"
	apperrors "github.com/tokenswallet/wallet-backend/pkg/errors"
	"github.com/tokenswallet/wallet-backend/pkg/types"
)

// ReceiptRepository persists transaction receipts
type ReceiptRepository interface {
	Save(ctx context.Context, receipt *types.TransactionReceipt) error
	ListByAddress(ctx context.Context, address string, limit int) ([]*types.TransactionReceipt, error)
}

// AccountFinder resolves accounts for transfers
type AccountFinder interface {
	FindByID(ctx context.Context, id uuid.UUID) (*types.Account, error)
	FindByEmail(ctx context.Context, email string) (*types.Account, error)
}

// TransferService validates transfers, submits them through the user's
// custodial key and records a receipt for every submitted transfer.
type TransferService struct {
	custodian *custody.Custodian
	accounts  AccountFinder
	receipts  ReceiptRepository
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewTransferService creates a new transfer service
func NewTransferService(custodian *custody.Custodian, accounts AccountFinder, receipts ReceiptRepository, m *metrics.Metrics) *TransferService {
	return &TransferService{
		custodian: custodian,
		accounts:  accounts,
		receipts:  receipts,
		metrics:   m,
		now:       time.Now,
	}
}

// TransferResult is returned for a submitted transfer
type TransferResult struct {
	Hash    string                    `json:"hash"`
	Receipt *types.TransactionReceipt `json:"receipt"`
}

// Transfer moves req.Amount from the user's wallet on req.Chain to req.ToAddress.
//
// The amount and the address are checked before any chain or store call.
// Ethereum transfers return once the node accepted the transaction; Substrate
// transfers return once the extrinsic was included in a block.
func (s *TransferService) Transfer(ctx context.Context, req types.TransferRequest) (*TransferResult, error) {
	start := s.now()
	result, err := s.transfer(ctx, req)
	s.metrics.ObserveTransfer(req.Chain, outcomeOf(err), s.now().Sub(start))
	return result, err
}

func (s *TransferService) transfer(ctx context.Context, req types.TransferRequest) (*TransferResult, error) {
	if err := validateAmount(req.Amount); err != nil {
		return nil, err
	}

	backend, err := s.custodian.Backend(req.Chain)
	if err != nil {
		return nil, err
	}
	if err := backend.ValidateAddress(req.ToAddress); err != nil {
		return nil, err
	}

	signer, err := s.custodian.LoadSigner(ctx, req.UserID, req.Chain)
	if err != nil {
		return nil, err
	}

	transfer, err := backend.SendTokens(ctx, signer, req.ToAddress, req.Amount, req.AssetID)
	if err != nil {
		logger.Warn(ctx, "transfer failed",
			"user_id", req.UserID,
			"chain", req.Chain,
			"to", req.ToAddress,
			"amount", req.Amount,
			"error", err,
		)
		return nil, err
	}

	receipt := &types.TransactionReceipt{
		ID:          uuid.New(),
		Chain:       req.Chain,
		FromAddress: transfer.From,
		ToAddress:   transfer.To,
		Amount:      transfer.Amount,
		AssetID:     transfer.AssetID,
		TxHash:      transfer.Hash,
		BlockHash:   transfer.BlockHash,
		Timestamp:   s.now().UTC(),
	}
	if err := s.receipts.Save(ctx, receipt); err != nil {
		// The transfer is already on its way; failing here would invite a
		// retry and a second transfer.
		logger.Error(ctx, "failed to record receipt for submitted transfer",
			"tx_hash", transfer.Hash,
			"chain", req.Chain,
			"error", err,
		)
	}

	return &TransferResult{Hash: transfer.Hash, Receipt: receipt}, nil
}

// TransferByEmail resolves the sender by email. Used by trusted internal callers.
func (s *TransferService) TransferByEmail(ctx context.Context, email string, chain types.Chain, to, amount string) (*TransferResult, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	account, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	if account == nil {
		return nil, apperrors.UserUnknown(email)
	}
	return s.Transfer(ctx, types.TransferRequest{
		UserID:    account.ID,
		Chain:     chain,
		ToAddress: to,
		Amount:    amount,
	})
}

// Balance is a free balance in human units
type Balance struct {
	Chain   types.Chain `json:"chain"`
	Address string      `json:"address"`
	Balance string      `json:"balance"`
}

// GetBalance returns the balance of address on chain, or of the user's own
// wallet when address is empty.
func (s *TransferService) GetBalance(ctx context.Context, userID uuid.UUID, chain types.Chain, address string) (*Balance, error) {
	backend, err := s.custodian.Backend(chain)
	if err != nil {
		return nil, err
	}

	if address == "" {
		// Resolve through the stored key so a recorded address without a
		// secret reports no_secret, as a transfer would.
		signer, err := s.custodian.LoadSigner(ctx, userID, chain)
		if err != nil {
			return nil, err
		}
		address = signer.Address()
	}

	balance, err := backend.GetBalance(ctx, address)
	if err != nil {
		return nil, err
	}
	return &Balance{Chain: chain, Address: address, Balance: balance}, nil
}

// ListTransactions returns receipts sent from or to address, newest first
func (s *TransferService) ListTransactions(ctx context.Context, address string, limit int) ([]*types.TransactionReceipt, error) {
	if address == "" {
		return nil, apperrors.InvalidInput("address is required")
	}
	receipts, err := s.receipts.ListByAddress(ctx, address, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return receipts, nil
}

// validateAmount is the chain-independent amount check: a plain positive decimal
func validateAmount(amount string) error {
	d, err := units.Parse(amount)
	if err != nil {
		return apperrors.InvalidInput(fmt.Sprintf("invalid amount %q: %v", amount, err))
	}
	if !d.IsPositive() {
		return apperrors.InvalidInput(fmt.Sprintf("invalid amount %q: %v", amount, units.ErrNotPositive))
	}
	return nil
}

func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	if appErr, ok := apperrors.IsAppError(err); ok {
		return appErr.Code
	}
	return apperrors.ErrCodeInternalError
}
