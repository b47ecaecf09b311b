package middleware

import (
	"net/http"
	"strings"
)

const redactedValue = "[REDACTED]"

// headerRedactors rewrite the value of a sensitive header for logging.
// Keys are canonical header names.
var headerRedactors = map[string]func(string) string{
	"Authorization":    redactAuthorization,
	"Cookie":           redactCookies,
	"Set-Cookie":       redactSetCookie,
	ServiceTokenHeader: func(string) string { return redactedValue },
}

// credentialHeaders are removed once authentication has consumed them
var credentialHeaders = []string{"Authorization", ServiceTokenHeader}

// redactAuthorization keeps the scheme so logs still show how a caller
// authenticated.
func redactAuthorization(v string) string {
	scheme, _, found := strings.Cut(strings.TrimSpace(v), " ")
	if !found || scheme == "" {
		return redactedValue
	}
	return scheme + " " + redactedValue
}

// redactCookies keeps cookie names and drops every value
func redactCookies(v string) string {
	parts := strings.Split(v, ";")
	for i, part := range parts {
		name, _, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			parts[i] = redactedValue
			continue
		}
		parts[i] = name + "=" + redactedValue
	}
	return strings.Join(parts, "; ")
}

func redactSetCookie(v string) string {
	name, _, found := strings.Cut(v, "=")
	if !found {
		return redactedValue
	}
	return strings.TrimSpace(name) + "=" + redactedValue
}

// RedactHeaders returns a copy of h that is safe to log
func RedactHeaders(h http.Header) http.Header {
	if h == nil {
		return nil
	}

	out := make(http.Header, len(h))
	for key, values := range h {
		redact, sensitive := headerRedactors[http.CanonicalHeaderKey(strings.TrimSpace(key))]
		copied := make([]string, len(values))
		for i, v := range values {
			if sensitive {
				v = redact(v)
			}
			copied[i] = v
		}
		out[key] = copied
	}
	return out
}

// StripCredentialHeaders removes credentials from h in-place once they have
// been checked, so nothing downstream can log them.
func StripCredentialHeaders(h http.Header) {
	if h == nil {
		return
	}
	for _, key := range credentialHeaders {
		h.Del(key)
	}
}
