package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError represents an application-level error with HTTP status code
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
	StatusCode int    `json:"-"`

	// Err is the underlying cause. It is never serialized.
	Err error `json:"-"`
}

func (e *AppError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Err
}

// Common error codes
const (
	ErrCodeUnauthorized         = "unauthorized"
	ErrCodeForbidden            = "forbidden"
	ErrCodeNotFound             = "not_found"
	ErrCodeBadRequest           = "bad_request"
	ErrCodeConflict             = "conflict"
	ErrCodeInternalError        = "internal_error"
	ErrCodeIdempotencyKeyReused = "idempotency_key_reused"

	// Custody and transfer taxonomy
	ErrCodeInvalidInput      = "invalid_input"
	ErrCodeInsufficientFunds = "insufficient_funds"
	ErrCodeNoSecret          = "no_secret"
	ErrCodeUserUnknown       = "user_not_found"
	ErrCodeChainDispatch     = "chain_dispatch_error"
	ErrCodeTransport         = "transport_error"
	ErrCodeConfiguration     = "configuration_error"
	ErrCodeChainNotSupported = "chain_not_supported"
	ErrCodeSubmissionUnknown = "submission_unknown"
)

// Predefined errors
var (
	ErrUnauthorized = &AppError{
		Code:       ErrCodeUnauthorized,
		Message:    "Authentication required",
		StatusCode: http.StatusUnauthorized,
	}

	ErrForbidden = &AppError{
		Code:       ErrCodeForbidden,
		Message:    "Access denied",
		StatusCode: http.StatusForbidden,
	}

	ErrNotFound = &AppError{
		Code:       ErrCodeNotFound,
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
	}

	ErrBadRequest = &AppError{
		Code:       ErrCodeBadRequest,
		Message:    "Invalid request parameters",
		StatusCode: http.StatusBadRequest,
	}

	ErrInternalError = &AppError{
		Code:       ErrCodeInternalError,
		Message:    "Internal server error",
		StatusCode: http.StatusInternalServerError,
	}

	ErrConflict = &AppError{
		Code:       ErrCodeConflict,
		Message:    "Request conflict",
		StatusCode: http.StatusConflict,
	}
)

// New creates a new AppError
func New(code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// NewWithDetail creates a new AppError with additional detail
func NewWithDetail(code, message, detail string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		Detail:     detail,
		StatusCode: statusCode,
	}
}

// InvalidInput reports a malformed amount or address. Never retried.
func InvalidInput(detail string) *AppError {
	return &AppError{
		Code:       ErrCodeInvalidInput,
		Message:    "Invalid input",
		Detail:     detail,
		StatusCode: http.StatusBadRequest,
	}
}

// InsufficientFunds reports a failed pre-submission balance check
func InsufficientFunds(detail string) *AppError {
	return &AppError{
		Code:       ErrCodeInsufficientFunds,
		Message:    "Insufficient funds for this transaction",
		Detail:     detail,
		StatusCode: http.StatusBadRequest,
	}
}

// NoSecret reports a user that exists but has no stored secret for a chain
func NoSecret(chain, userID string) *AppError {
	return &AppError{
		Code:       ErrCodeNoSecret,
		Message:    "No stored key for user",
		Detail:     fmt.Sprintf("chain: %s, user_id: %s", chain, userID),
		StatusCode: http.StatusNotFound,
	}
}

// UserUnknown reports a user that does not exist
func UserUnknown(userID string) *AppError {
	return &AppError{
		Code:       ErrCodeUserUnknown,
		Message:    "User not found",
		Detail:     fmt.Sprintf("user: %s", userID),
		StatusCode: http.StatusNotFound,
	}
}

// ChainDispatch reports a transaction rejected by on-chain logic.
// The chain's own error text is carried verbatim in Detail.
func ChainDispatch(reason string) *AppError {
	return &AppError{
		Code:       ErrCodeChainDispatch,
		Message:    "Transaction rejected by chain",
		Detail:     reason,
		StatusCode: http.StatusBadRequest,
	}
}

// Transport reports an unreachable or timed-out secret store or chain node.
// Safe for the caller to retry the whole operation.
func Transport(op string, err error) *AppError {
	detail := op
	if err != nil {
		detail = fmt.Sprintf("%s: %v", op, err)
	}
	return &AppError{
		Code:       ErrCodeTransport,
		Message:    "Upstream service unavailable",
		Detail:     detail,
		StatusCode: http.StatusServiceUnavailable,
		Err:        err,
	}
}

// SubmissionUnknown reports a transaction that may have reached the chain
// without its outcome being observed. Retrying can submit it twice, so the
// caller should look up txHash first.
func SubmissionUnknown(txHash string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeSubmissionUnknown,
		Message:    "Transaction outcome unknown",
		Detail:     fmt.Sprintf("tx %s: check the chain before retrying", txHash),
		StatusCode: http.StatusGatewayTimeout,
		Err:        err,
	}
}

// Configuration reports a deployment problem that needs operator intervention
func Configuration(detail string) *AppError {
	return &AppError{
		Code:       ErrCodeConfiguration,
		Message:    "Service misconfigured",
		Detail:     detail,
		StatusCode: http.StatusInternalServerError,
	}
}

// ChainNotSupported reports an unknown chain name
func ChainNotSupported(chain string) *AppError {
	return &AppError{
		Code:       ErrCodeChainNotSupported,
		Message:    "Chain not supported",
		Detail:     fmt.Sprintf("chain: %s", chain),
		StatusCode: http.StatusBadRequest,
	}
}

// Wrap attaches a cause to a copy of e
func Wrap(e *AppError, cause error) *AppError {
	out := *e
	out.Err = cause
	return &out
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Is reports whether err is an AppError carrying code
func Is(err error, code string) bool {
	appErr, ok := IsAppError(err)
	return ok && appErr.Code == code
}
