package api

import (
	"context"

	"github.com/google/uuid"

	"github.com/tokenswallet/wallet-backend/internal/app"
	"github.com/tokenswallet/wallet-backend/pkg/types"
)

// AccountService is the subset of app.AccountService used by the API layer.
type AccountService interface {
	Register(ctx context.Context, req app.RegisterRequest) (*types.Account, error)
	Login(ctx context.Context, email, password string) (*types.Account, error)
	GetAccount(ctx context.Context, id uuid.UUID) (*types.Account, error)
	ProvisionWallet(ctx context.Context, userID uuid.UUID, chain types.Chain) (string, error)
}

// TransferService is the subset of app.TransferService used by the API layer.
type TransferService interface {
	Transfer(ctx context.Context, req types.TransferRequest) (*app.TransferResult, error)
	TransferByEmail(ctx context.Context, email string, chain types.Chain, to, amount string) (*app.TransferResult, error)
	GetBalance(ctx context.Context, userID uuid.UUID, chain types.Chain, address string) (*app.Balance, error)
	ListTransactions(ctx context.Context, address string, limit int) ([]*types.TransactionReceipt, error)
}

// HealthChecker reports whether a dependency is reachable
type HealthChecker interface {
	Ping(ctx context.Context) error
}
