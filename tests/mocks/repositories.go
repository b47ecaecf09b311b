// Package mocks provides mock implementations for testing.
package mocks

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tokenswallet/wallet-backend/internal/storage"
	"github.com/tokenswallet/wallet-backend/pkg/types"
)

// MockAccountRepository provides in-memory account storage.
type MockAccountRepository struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]*types.Account

	// SetAddressErr, when set, fails every SetAddress call
	SetAddressErr error
	// CreateErr, when set, fails every Create call
	CreateErr error

	SetAddressCalls int
	DeleteCalls     int
}

// NewMockAccountRepository creates a new mock account repository.
func NewMockAccountRepository() *MockAccountRepository {
	return &MockAccountRepository{accounts: make(map[uuid.UUID]*types.Account)}
}

func copyAccount(a *types.Account) *types.Account {
	c := *a
	return &c
}

// Create stores a copy of account, rejecting duplicate emails and Google IDs.
func (r *MockAccountRepository) Create(_ context.Context, account *types.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.CreateErr != nil {
		return r.CreateErr
	}
	for _, a := range r.accounts {
		if strings.EqualFold(a.Email, account.Email) {
			return storage.ErrDuplicate
		}
		if account.GoogleID != nil && a.GoogleID != nil && *a.GoogleID == *account.GoogleID {
			return storage.ErrDuplicate
		}
	}
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now()
	}
	r.accounts[account.ID] = copyAccount(account)
	return nil
}

// Add stores an account without checks. Test setup helper.
func (r *MockAccountRepository) Add(account *types.Account) *types.Account {
	r.mu.Lock()
	defer r.mu.Unlock()
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	r.accounts[account.ID] = copyAccount(account)
	return account
}

func (r *MockAccountRepository) FindByID(_ context.Context, id uuid.UUID) (*types.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if a, ok := r.accounts[id]; ok {
		return copyAccount(a), nil
	}
	return nil, nil
}

func (r *MockAccountRepository) FindByEmail(_ context.Context, email string) (*types.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.accounts {
		if strings.EqualFold(a.Email, email) {
			return copyAccount(a), nil
		}
	}
	return nil, nil
}

func (r *MockAccountRepository) FindByGoogleID(_ context.Context, googleID string) (*types.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.accounts {
		if a.GoogleID != nil && *a.GoogleID == googleID {
			return copyAccount(a), nil
		}
	}
	return nil, nil
}

func (r *MockAccountRepository) SetAddress(_ context.Context, id uuid.UUID, chain types.Chain, address string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.SetAddressCalls++
	if r.SetAddressErr != nil {
		return r.SetAddressErr
	}
	a, ok := r.accounts[id]
	if !ok {
		return errors.New("user not found")
	}
	a.SetAddress(chain, address)
	return nil
}

func (r *MockAccountRepository) LinkGoogle(_ context.Context, id uuid.UUID, googleID string, displayName *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return errors.New("user not found")
	}
	a.GoogleID = &googleID
	if a.DisplayName == nil {
		a.DisplayName = displayName
	}
	return nil
}

func (r *MockAccountRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.DeleteCalls++
	delete(r.accounts, id)
	return nil
}

// Len returns the number of stored accounts.
func (r *MockAccountRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.accounts)
}

// MockReceiptRepository provides in-memory receipt storage with a save counter.
type MockReceiptRepository struct {
	mu       sync.Mutex
	receipts []*types.TransactionReceipt

	SaveErr   error
	SaveCalls int
}

// NewMockReceiptRepository creates a new mock receipt repository.
func NewMockReceiptRepository() *MockReceiptRepository {
	return &MockReceiptRepository{}
}

func (r *MockReceiptRepository) Save(_ context.Context, receipt *types.TransactionReceipt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.SaveCalls++
	if r.SaveErr != nil {
		return r.SaveErr
	}
	if receipt.ID == uuid.Nil {
		receipt.ID = uuid.New()
	}
	c := *receipt
	r.receipts = append(r.receipts, &c)
	return nil
}

func (r *MockReceiptRepository) ListByAddress(_ context.Context, address string, limit int) ([]*types.TransactionReceipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*types.TransactionReceipt, 0)
	for _, rc := range r.receipts {
		if rc.FromAddress == address || rc.ToAddress == address {
			c := *rc
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Saved returns copies of all saved receipts in save order.
func (r *MockReceiptRepository) Saved() []types.TransactionReceipt {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.TransactionReceipt, len(r.receipts))
	for i, rc := range r.receipts {
		out[i] = *rc
	}
	return out
}

// MockIdempotencyRepository provides in-memory idempotency records.
type MockIdempotencyRepository struct {
	mu      sync.Mutex
	records map[string]*storage.IdempotencyRecord
}

// NewMockIdempotencyRepository creates a new mock idempotency repository.
func NewMockIdempotencyRepository() *MockIdempotencyRepository {
	return &MockIdempotencyRepository{records: make(map[string]*storage.IdempotencyRecord)}
}

func idempotencyKey(scope, key, method, url string) string {
	return scope + "\x00" + key + "\x00" + method + "\x00" + url
}

func (r *MockIdempotencyRepository) Get(_ context.Context, scope, key, method, url string) (*storage.IdempotencyRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[idempotencyKey(scope, key, method, url)]
	if !ok || time.Now().After(rec.ExpiresAt) {
		return nil, storage.ErrIdempotencyNotFound
	}
	c := *rec
	return &c, nil
}

func (r *MockIdempotencyRepository) Store(_ context.Context, rec *storage.IdempotencyRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := idempotencyKey(rec.Scope, rec.Key, rec.Method, rec.URL)
	if existing, ok := r.records[k]; ok && time.Now().Before(existing.ExpiresAt) {
		return nil
	}
	c := *rec
	r.records[k] = &c
	return nil
}
