package middleware

import (
	"net/http"
	"time"

	"github.com/tokenswallet/wallet-backend/internal/logger"
)

// Logging logs one line per request with its status and duration.
// Request headers are only logged at debug level, redacted.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		logger.Debug(r.Context(), "request started",
			"method", r.Method,
			"path", r.URL.Path,
			"headers", RedactHeaders(r.Header),
		)

		recorder := NewStatusRecorder(w)
		next.ServeHTTP(recorder, r)

		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", recorder.StatusCode,
			"bytes", recorder.Bytes,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if recorder.StatusCode >= http.StatusInternalServerError {
			logger.Error(r.Context(), "request completed", attrs...)
			return
		}
		logger.Info(r.Context(), "request completed", attrs...)
	})
}
