package middleware

import (
	"net/http"

	apperrors "github.com/tokenswallet/wallet-backend/pkg/errors"
)

// MaxBodySize bounds every request body. Transfer and registration
// payloads are a few hundred bytes.
const MaxBodySize = 1 << 20

// LimitBody makes reads past MaxBodySize fail with *http.MaxBytesError
func LimitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > MaxBodySize {
			writeError(w, apperrors.New(apperrors.ErrCodeBadRequest, "request body too large", http.StatusRequestEntityTooLarge))
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, MaxBodySize)
		next.ServeHTTP(w, r)
	})
}
