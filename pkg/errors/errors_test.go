package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name: "error without detail",
			err: &AppError{
				Code:    ErrCodeUnauthorized,
				Message: "Authentication required",
			},
			expected: "unauthorized: Authentication required",
		},
		{
			name: "error with detail",
			err: &AppError{
				Code:    ErrCodeBadRequest,
				Message: "Invalid request",
				Detail:  "missing required field 'email'",
			},
			expected: "bad_request: Invalid request (missing required field 'email')",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestNew(t *testing.T) {
	err := New("test_code", "Test message", http.StatusTeapot)

	assert.Equal(t, "test_code", err.Code)
	assert.Equal(t, "Test message", err.Message)
	assert.Equal(t, http.StatusTeapot, err.StatusCode)
	assert.Empty(t, err.Detail)
}

func TestNewWithDetail(t *testing.T) {
	err := NewWithDetail(
		"test_code",
		"Test message",
		"Additional details",
		http.StatusBadRequest,
	)

	assert.Equal(t, "test_code", err.Code)
	assert.Equal(t, "Test message", err.Message)
	assert.Equal(t, "Additional details", err.Detail)
	assert.Equal(t, http.StatusBadRequest, err.StatusCode)
}

func TestTaxonomyStatusCodes(t *testing.T) {
	tests := []struct {
		name   string
		err    *AppError
		code   string
		status int
	}{
		{"invalid input", InvalidInput("amount must be greater than 0"), ErrCodeInvalidInput, http.StatusBadRequest},
		{"insufficient funds", InsufficientFunds("balance 0.5 < 1"), ErrCodeInsufficientFunds, http.StatusBadRequest},
		{"chain dispatch", ChainDispatch("balances.InsufficientBalance"), ErrCodeChainDispatch, http.StatusBadRequest},
		{"no secret", NoSecret("substrate", "u1"), ErrCodeNoSecret, http.StatusNotFound},
		{"user unknown", UserUnknown("u1"), ErrCodeUserUnknown, http.StatusNotFound},
		{"transport", Transport("vault read", errors.New("dial tcp: refused")), ErrCodeTransport, http.StatusServiceUnavailable},
		{"configuration", Configuration("no transfer call"), ErrCodeConfiguration, http.StatusInternalServerError},
		{"chain not supported", ChainNotSupported("solana"), ErrCodeChainNotSupported, http.StatusBadRequest},
		{"submission unknown", SubmissionUnknown("0xabc", errors.New("deadline")), ErrCodeSubmissionUnknown, http.StatusGatewayTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.status, tt.err.StatusCode)
			assert.NotEmpty(t, tt.err.Message)
		})
	}
}

func TestChainDispatch_CarriesChainText(t *testing.T) {
	err := ChainDispatch(`{"Module":{"index":5,"error":"0x02000000"}}`)
	assert.Equal(t, `{"Module":{"index":5,"error":"0x02000000"}}`, err.Detail)
}

func TestSubmissionUnknown_NamesHash(t *testing.T) {
	cause := errors.New("context deadline exceeded")
	err := SubmissionUnknown("0xabc", cause)
	assert.Contains(t, err.Detail, "0xabc")
	assert.ErrorIs(t, err, cause)
	assert.NotEqual(t, ErrCodeTransport, err.Code)
}

func TestTransport_Unwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := Transport("chain rpc", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Detail, "connection reset")

	noCause := Transport("timeout waiting for inclusion", nil)
	assert.Equal(t, "timeout waiting for inclusion", noCause.Detail)
	assert.Nil(t, noCause.Unwrap())
}

func TestWrap_DoesNotMutateOriginal(t *testing.T) {
	cause := errors.New("boom")
	wrapped := Wrap(ErrInternalError, cause)

	assert.ErrorIs(t, wrapped, cause)
	assert.Nil(t, ErrInternalError.Err)
	assert.Equal(t, ErrInternalError.Code, wrapped.Code)
}

func TestIsAppError(t *testing.T) {
	t.Run("direct AppError", func(t *testing.T) {
		appErr, ok := IsAppError(ErrNotFound)
		require.True(t, ok)
		assert.Equal(t, ErrCodeNotFound, appErr.Code)
	})

	t.Run("wrapped AppError", func(t *testing.T) {
		wrapped := fmt.Errorf("loading signer: %w", NoSecret("ethereum", "u1"))
		appErr, ok := IsAppError(wrapped)
		require.True(t, ok)
		assert.Equal(t, ErrCodeNoSecret, appErr.Code)
	})

	t.Run("plain error", func(t *testing.T) {
		appErr, ok := IsAppError(errors.New("plain"))
		assert.False(t, ok)
		assert.Nil(t, appErr)
	})

	t.Run("nil error", func(t *testing.T) {
		_, ok := IsAppError(nil)
		assert.False(t, ok)
	})
}

func TestIs(t *testing.T) {
	err := fmt.Errorf("send: %w", InsufficientFunds(""))

	assert.True(t, Is(err, ErrCodeInsufficientFunds))
	assert.False(t, Is(err, ErrCodeInvalidInput))
	assert.False(t, Is(errors.New("x"), ErrCodeInvalidInput))
}
