package eth

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type receiptAfter struct {
	calls int32
	after int32
	err   error
}

func (r *receiptAfter) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	n := atomic.AddInt32(&r.calls, 1)
	if n < r.after {
		return nil, r.err
	}
	return &types.Receipt{TxHash: hash, Status: types.ReceiptStatusSuccessful}, nil
}

func TestWaitForReceipt(t *testing.T) {
	hash := common.HexToHash("0xabc")

	t.Run("returns once mined", func(t *testing.T) {
		src := &receiptAfter{after: 3}
		receipt, err := WaitForReceipt(context.Background(), src, hash, time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, hash, receipt.TxHash)
		assert.Equal(t, int32(3), atomic.LoadInt32(&src.calls))
	})

	t.Run("tolerates lookup errors", func(t *testing.T) {
		src := &receiptAfter{after: 2, err: errors.New("header not found")}
		receipt, err := WaitForReceipt(context.Background(), src, hash, time.Millisecond)
		require.NoError(t, err)
		assert.NotNil(t, receipt)
	})

	t.Run("stops at deadline", func(t *testing.T) {
		src := &receiptAfter{after: 1 << 30, err: errors.New("dial tcp: refused")}
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := WaitForReceipt(ctx, src, hash, time.Millisecond)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Contains(t, err.Error(), "dial tcp")
	})
}

type fakeRPCError struct{}

func (fakeRPCError) Error() string  { return "insufficient funds for gas * price + value" }
func (fakeRPCError) ErrorCode() int { return -32000 }

func TestIsRejection(t *testing.T) {
	assert.True(t, IsRejection(fakeRPCError{}))
	assert.True(t, IsRejection(errors.Join(errors.New("send"), fakeRPCError{})))
	assert.False(t, IsRejection(errors.New("connection refused")))
	assert.False(t, IsRejection(nil))
}

func TestNewClient_RequiresURL(t *testing.T) {
	_, err := NewClient("")
	assert.Error(t, err)
}
