package middleware

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactHeaders(t *testing.T) {
	t.Run("redacts sensitive headers and preserves others", func(t *testing.T) {
		h := make(http.Header)
		h.Set("Authorization", "Bearer abc.def.ghi")
		h.Set("X-Service-Token", "svc-123")
		h.Set("Cookie", "authToken=abc.def.ghi; theme=dark")
		h.Set("Content-Type", "application/json")

		redacted := RedactHeaders(h)

		assert.Equal(t, "Bearer [REDACTED]", redacted.Get("Authorization"))
		assert.Equal(t, "[REDACTED]", redacted.Get("X-Service-Token"))
		assert.Equal(t, "authToken=[REDACTED]; theme=[REDACTED]", redacted.Get("Cookie"))
		assert.Equal(t, "application/json", redacted.Get("Content-Type"))

		// Original must be unchanged
		assert.Equal(t, "Bearer abc.def.ghi", h.Get("Authorization"))
		assert.Equal(t, "svc-123", h.Get("X-Service-Token"))
	})

	t.Run("handles non-scheme Authorization values", func(t *testing.T) {
		h := make(http.Header)
		h.Set("Authorization", "abc")

		redacted := RedactHeaders(h)
		assert.Equal(t, "[REDACTED]", redacted.Get("Authorization"))
	})

	t.Run("set-cookie keeps the cookie name", func(t *testing.T) {
		h := make(http.Header)
		h.Add("Set-Cookie", "authToken=abc.def.ghi; Path=/; HttpOnly")

		redacted := RedactHeaders(h)
		assert.Equal(t, "authToken=[REDACTED]", redacted.Get("Set-Cookie"))
	})

	t.Run("nil header", func(t *testing.T) {
		assert.Nil(t, RedactHeaders(nil))
	})
}

func TestStripCredentialHeaders(t *testing.T) {
	h := make(http.Header)
	h.Set("Authorization", "Bearer abc")
	h.Set("x-service-token", "svc-123")
	h.Set("Content-Type", "application/json")

	StripCredentialHeaders(h)

	assert.Empty(t, h.Get("Authorization"))
	assert.Empty(t, h.Get("X-Service-Token"))
	assert.Equal(t, "application/json", h.Get("Content-Type"))
}
