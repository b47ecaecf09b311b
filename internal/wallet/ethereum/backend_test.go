package ethereum

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenswallet/wallet-backend/internal/secretstore"
	"github.com/tokenswallet/wallet-backend/internal/units"
	"github.com/tokenswallet/wallet-backend/internal/wallet"
	apperrors "github.com/tokenswallet/wallet-backend/pkg/errors"
)

const recipient = "0x0987654321098765432109876543210987654321"

func ether(s string) *big.Int {
	v, err := units.ToBase(s, units.EtherDecimals)
	if err != nil {
		panic(err)
	}
	return v
}

type rpcRejection struct{ msg string }

func (e rpcRejection) Error() string  { return e.msg }
func (e rpcRejection) ErrorCode() int { return -32000 }

// fakeChain is a ChainClient with a configurable balance and call counters.
type fakeChain struct {
	mu sync.Mutex

	balance    *big.Int
	baseFee    *big.Int
	txHash     string
	balanceErr error
	sendErr    error

	// receiptGate blocks TransactionReceipt until closed
	receiptGate chan struct{}

	balanceCalls int
	sendCalls    int
	receiptCalls int
	sent         []*ethtypes.Transaction
}

func newFakeChain(balance *big.Int) *fakeChain {
	return &fakeChain{
		balance: balance,
		baseFee: big.NewInt(1_000_000_000),
		txHash:  "0xabc",
	}
}

func (f *fakeChain) ChainID(ctx context.Context) (*big.Int, error) { return big.NewInt(8882), nil }

func (f *fakeChain) GetBalance(ctx context.Context, address common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balanceCalls++
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	return new(big.Int).Set(f.balance), nil
}

func (f *fakeChain) GetNonce(ctx context.Context, address common.Address) (uint64, error) {
	return 7, nil
}

func (f *fakeChain) EstimateGas(ctx context.Context, from, to common.Address, value *big.Int) (uint64, error) {
	return 25200, nil
}

func (f *fakeChain) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000), nil
}

func (f *fakeChain) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(2_000_000_000), nil
}

func (f *fakeChain) LatestBaseFee(ctx context.Context) (*big.Int, error) { return f.baseFee, nil }

func (f *fakeChain) SendRawTransaction(ctx context.Context, signedTx *ethtypes.Transaction) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCalls++
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent = append(f.sent, signedTx)
	return f.txHash, nil
}

func (f *fakeChain) TransactionReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
	f.mu.Lock()
	f.receiptCalls++
	gate := f.receiptGate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &ethtypes.Receipt{TxHash: hash, Status: ethtypes.ReceiptStatusSuccessful, BlockNumber: big.NewInt(1)}, nil
}

func (f *fakeChain) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sendCalls
}

func newTestBackend(t *testing.T, chain *fakeChain) *Backend {
	t.Helper()
	b := NewBackend(chain, Config{ConfirmTimeout: time.Second, PollInterval: time.Millisecond})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = b.Shutdown(ctx)
	})
	return b
}

func newSigner(t *testing.T, b *Backend) wallet.Signer {
	t.Helper()
	w, err := b.GenerateWallet(context.Background())
	require.NoError(t, err)
	signer, err := b.SignerFromSecret(w.Secret)
	require.NoError(t, err)
	return signer
}

func TestGenerateWallet_RoundTrip(t *testing.T) {
	b := NewBackend(nil, Config{})

	for i := 0; i < 10; i++ {
		w, err := b.GenerateWallet(context.Background())
		require.NoError(t, err)
		require.Contains(t, w.Secret, wallet.PayloadPrivateKey)

		signer, err := b.SignerFromSecret(w.Secret)
		require.NoError(t, err)
		assert.Equal(t, w.Address, signer.Address())

		addr, err := b.AddressFromSecret(w.Secret)
		require.NoError(t, err)
		assert.Equal(t, w.Address, addr)
	}
}

func TestGenerateWallet_NoChainAccess(t *testing.T) {
	// nil client: generation is purely local
	b := NewBackend(nil, Config{})
	w, err := b.GenerateWallet(context.Background())
	require.NoError(t, err)
	assert.NoError(t, b.ValidateAddress(w.Address))
}

func TestSignerFromSecret_Invalid(t *testing.T) {
	b := NewBackend(nil, Config{})

	_, err := b.SignerFromSecret(secretstore.Payload{})
	assert.Error(t, err)

	_, err = b.SignerFromSecret(secretstore.Payload{wallet.PayloadPrivateKey: "0x1234"})
	assert.Error(t, err)
}

func TestValidateAddress(t *testing.T) {
	b := NewBackend(nil, Config{})

	valid := []string{
		recipient,
		"0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
		"0XF39FD6E51AAD88F6F4CE6AB8827279CFFFB92266",
	}
	for _, addr := range valid {
		assert.NoError(t, b.ValidateAddress(addr), addr)
	}

	invalid := []string{
		"",
		"0x",
		"0x0987",
		"0987654321098765432109876543210987654321",
		"0x098765432109876543210987654321098765432g",
		"5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY",
	}
	for _, addr := range invalid {
		err := b.ValidateAddress(addr)
		assert.True(t, apperrors.Is(err, apperrors.ErrCodeInvalidInput), addr)
	}
}

func TestSendTokens_InsufficientFunds(t *testing.T) {
	chain := newFakeChain(ether("0.5"))
	b := newTestBackend(t, chain)
	signer := newSigner(t, b)

	transfer, err := b.SendTokens(context.Background(), signer, recipient, "1", nil)
	require.Error(t, err)
	assert.Nil(t, transfer)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeInsufficientFunds))
	assert.Equal(t, 0, chain.sendCount())
}

func TestSendTokens_Submits(t *testing.T) {
	chain := newFakeChain(ether("0.5"))
	b := newTestBackend(t, chain)
	signer := newSigner(t, b)

	transfer, err := b.SendTokens(context.Background(), signer, recipient, "0.1", nil)
	require.NoError(t, err)
	assert.Equal(t, "0xabc", transfer.Hash)
	assert.Equal(t, "0.1", transfer.Amount)
	assert.Equal(t, recipient, transfer.To)
	assert.Equal(t, signer.Address(), transfer.From)
	assert.Nil(t, transfer.BlockHash)

	require.Len(t, chain.sent, 1)
	tx := chain.sent[0]
	assert.Equal(t, uint8(ethtypes.DynamicFeeTxType), tx.Type())
	assert.Equal(t, ether("0.1"), tx.Value())
	assert.Equal(t, common.HexToAddress(recipient), *tx.To())
	assert.Equal(t, uint64(7), tx.Nonce())

	from, err := ethtypes.Sender(ethtypes.NewLondonSigner(big.NewInt(8882)), tx)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), from.Hex())
}

func TestSendTokens_LegacyChain(t *testing.T) {
	chain := newFakeChain(ether("1"))
	chain.baseFee = nil
	b := newTestBackend(t, chain)

	_, err := b.SendTokens(context.Background(), newSigner(t, b), recipient, "0.25", nil)
	require.NoError(t, err)
	require.Len(t, chain.sent, 1)
	assert.Equal(t, uint8(ethtypes.LegacyTxType), chain.sent[0].Type())
}

func TestSendTokens_ReturnsBeforeConfirmation(t *testing.T) {
	chain := newFakeChain(ether("0.5"))
	chain.receiptGate = make(chan struct{})
	b := newTestBackend(t, chain)
	signer := newSigner(t, b)

	done := make(chan struct{})
	go func() {
		defer close(done)
		transfer, err := b.SendTokens(context.Background(), signer, recipient, "0.1", nil)
		if assert.NoError(t, err) {
			assert.Equal(t, "0xabc", transfer.Hash)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("SendTokens blocked on confirmation")
	}

	// the watcher is still waiting on the receipt
	close(chain.receiptGate)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, b.Shutdown(ctx))
}

func TestSendTokens_RejectsBeforeChainCalls(t *testing.T) {
	tests := []struct {
		name   string
		to     string
		amount string
	}{
		{"zero amount", recipient, "0"},
		{"negative amount", recipient, "-1"},
		{"garbage amount", recipient, "one"},
		{"too precise", recipient, "0.0000000000000000001"},
		{"malformed address", "0x0987", "0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain := newFakeChain(ether("10"))
			b := newTestBackend(t, chain)

			_, err := b.SendTokens(context.Background(), newSigner(t, b), tt.to, tt.amount, nil)
			assert.True(t, apperrors.Is(err, apperrors.ErrCodeInvalidInput), err)
			assert.Equal(t, 0, chain.balanceCalls)
			assert.Equal(t, 0, chain.sendCount())
		})
	}
}

func TestSendTokens_ErrorKinds(t *testing.T) {
	t.Run("node unreachable", func(t *testing.T) {
		chain := newFakeChain(ether("1"))
		chain.balanceErr = errors.New("dial tcp 127.0.0.1:8545: connect: connection refused")
		b := newTestBackend(t, chain)

		_, err := b.SendTokens(context.Background(), newSigner(t, b), recipient, "0.1", nil)
		assert.True(t, apperrors.Is(err, apperrors.ErrCodeTransport))
	})

	t.Run("node rejects transaction", func(t *testing.T) {
		chain := newFakeChain(ether("1"))
		chain.sendErr = rpcRejection{msg: "insufficient funds for gas * price + value"}
		b := newTestBackend(t, chain)

		_, err := b.SendTokens(context.Background(), newSigner(t, b), recipient, "1", nil)
		require.True(t, apperrors.Is(err, apperrors.ErrCodeChainDispatch))
		appErr, _ := apperrors.IsAppError(err)
		assert.Equal(t, "insufficient funds for gas * price + value", appErr.Detail)
	})

	t.Run("asset id not supported", func(t *testing.T) {
		chain := newFakeChain(ether("1"))
		b := newTestBackend(t, chain)
		asset := "USDT"

		_, err := b.SendTokens(context.Background(), newSigner(t, b), recipient, "0.1", &asset)
		assert.True(t, apperrors.Is(err, apperrors.ErrCodeInvalidInput))
	})
}

func TestGetBalance(t *testing.T) {
	chain := newFakeChain(ether("0.5"))
	b := newTestBackend(t, chain)

	balance, err := b.GetBalance(context.Background(), recipient)
	require.NoError(t, err)
	assert.Equal(t, "0.5", balance)

	_, err = b.GetBalance(context.Background(), "not-an-address")
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeInvalidInput))
	assert.Equal(t, 1, chain.balanceCalls)
}
