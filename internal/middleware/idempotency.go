package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/tokenswallet/wallet-backend/internal/logger"
	"github.com/tokenswallet/wallet-backend/internal/storage"
	apperrors "github.com/tokenswallet/wallet-backend/pkg/errors"
)

// IdempotencyKeyHeader is the request header carrying the client's idempotency key
const IdempotencyKeyHeader = "X-Idempotency-Key"

// IdempotencyTTL is how long a first response is replayed
const IdempotencyTTL = 24 * time.Hour

// IdempotencyMiddleware replays the first response for a repeated key.
// Keys are scoped to the authenticated user, so it must run after Authenticate
// (or after RequireServiceToken, where the scope is empty).
type IdempotencyMiddleware struct {
	repo idempotencyRepo
	now  func() time.Time
}

type idempotencyRepo interface {
	Get(ctx context.Context, scope, key, method, url string) (*storage.IdempotencyRecord, error)
	Store(ctx context.Context, record *storage.IdempotencyRecord) error
}

// NewIdempotencyMiddleware creates a new idempotency middleware
func NewIdempotencyMiddleware(repo idempotencyRepo) *IdempotencyMiddleware {
	return &IdempotencyMiddleware{
		repo: repo,
		now:  time.Now,
	}
}

// Handle wraps an HTTP handler with idempotency checking
func (m *IdempotencyMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Only mutations are replayed
		if r.Method != http.MethodPost && r.Method != http.MethodPatch && r.Method != http.MethodDelete {
			next.ServeHTTP(w, r)
			return
		}

		idempotencyKey := r.Header.Get(IdempotencyKeyHeader)
		if idempotencyKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		if len(idempotencyKey) > 256 {
			writeError(w, apperrors.NewWithDetail(
				apperrors.ErrCodeBadRequest,
				"Idempotency key too long",
				"Maximum length is 256 characters",
				http.StatusBadRequest,
			))
			return
		}

		var scope string
		if userID, ok := GetUserID(r.Context()); ok {
			scope = userID.String()
		}

		bodyBytes, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, apperrors.NewWithDetail(
				apperrors.ErrCodeBadRequest,
				"Failed to read request body",
				err.Error(),
				http.StatusBadRequest,
			))
			return
		}
		r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
		bodyHash := computeBodyHash(bodyBytes)

		record, err := m.repo.Get(r.Context(), scope, idempotencyKey, r.Method, r.URL.Path)
		switch {
		case err == nil:
			if record.BodyHash == bodyHash {
				m.returnCachedResponse(w, record)
				return
			}
			writeError(w, apperrors.NewWithDetail(
				apperrors.ErrCodeIdempotencyKeyReused,
				"Idempotency key reused with different body",
				"The same idempotency key was used with a different request body. Use a new key for different requests.",
				http.StatusBadRequest,
			))
			return
		case !errors.Is(err, storage.ErrIdempotencyNotFound):
			logger.Error(r.Context(), "failed to look up idempotency record",
				"key", idempotencyKey,
				"error", err,
			)
			writeError(w, apperrors.Transport("idempotency lookup", err))
			return
		}

		recorder := NewResponseRecorder(w)
		next.ServeHTTP(recorder, r)

		// Server-side failures stay retryable with the same key.
		if recorder.StatusCode >= http.StatusInternalServerError {
			return
		}

		err = m.repo.Store(r.Context(), &storage.IdempotencyRecord{
			Scope:      scope,
			Key:        idempotencyKey,
			Method:     r.Method,
			URL:        r.URL.Path,
			BodyHash:   bodyHash,
			StatusCode: recorder.StatusCode,
			Headers:    recorder.Headers,
			Body:       recorder.Body.Bytes(),
			ExpiresAt:  m.now().Add(IdempotencyTTL),
		})
		if err != nil {
			// Response already sent
			logger.Error(r.Context(), "failed to store idempotency record",
				"scope", scope,
				"key", idempotencyKey,
				"method", r.Method,
				"url", r.URL.Path,
				"error", err,
			)
		}
	})
}

// returnCachedResponse writes a cached response to the client
func (m *IdempotencyMiddleware) returnCachedResponse(w http.ResponseWriter, record *storage.IdempotencyRecord) {
	// Keep the current request ID rather than replaying the stale one
	currentRequestID := w.Header().Get(RequestIDHeader)

	for key, values := range record.Headers {
		if http.CanonicalHeaderKey(key) == "Set-Cookie" {
			continue
		}
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}

	w.Header().Del(RequestIDHeader)
	if currentRequestID != "" {
		w.Header().Set(RequestIDHeader, currentRequestID)
	}

	w.Header().Set("X-Idempotency-Replay", "true")
	w.WriteHeader(record.StatusCode)
	_, _ = w.Write(record.Body)
}

// computeBodyHash creates a SHA-256 hash of the request body
func computeBodyHash(body []byte) string {
	hash := sha256.Sum256(body)
	return hex.EncodeToString(hash[:])
}
