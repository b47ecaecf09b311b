package middleware

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenswallet/wallet-backend/internal/storage"
	apperrors "github.com/tokenswallet/wallet-backend/pkg/errors"
)

func TestIdempotencyMiddleware_PassThrough(t *testing.T) {
	tests := []struct {
		name   string
		method string
		key    string
	}{
		{"GET with key", http.MethodGet, "key-get"},
		{"PUT with key", http.MethodPut, "key-put"},
		{"POST without key", http.MethodPost, ""},
		{"DELETE without key", http.MethodDelete, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// any lookup would fail the request
			repo := newFakeIdempotencyRepo()
			repo.getErr = errors.New("must not be called")
			mw := NewIdempotencyMiddleware(repo)

			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				body, _ := io.ReadAll(r.Body)
				w.WriteHeader(http.StatusCreated)
				w.Write(body)
			})

			req := httptest.NewRequest(tt.method, "/v1/wallets/ethereum/transfers", strings.NewReader("payload"))
			if tt.key != "" {
				req.Header.Set(IdempotencyKeyHeader, tt.key)
			}
			rec := httptest.NewRecorder()
			mw.Handle(handler).ServeHTTP(rec, withUser(req, uuid.New()))

			assert.Equal(t, http.StatusCreated, rec.Code)
			assert.Equal(t, "payload", rec.Body.String())
			assert.Zero(t, repo.stores)
		})
	}
}

func TestIdempotencyMiddleware_KeyLength(t *testing.T) {
	mw := NewIdempotencyMiddleware(newFakeIdempotencyRepo())
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		length int
		status int
	}{
		{256, http.StatusOK},
		{257, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.length), func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader("body"))
			req.Header.Set(IdempotencyKeyHeader, strings.Repeat("k", tt.length))
			rec := httptest.NewRecorder()
			mw.Handle(handler).ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusBadRequest {
				assert.Contains(t, rec.Body.String(), apperrors.ErrCodeBadRequest)
			}
		})
	}
}

func TestResponseRecorder_HeadersFrozenAtWriteHeader(t *testing.T) {
	w := httptest.NewRecorder()
	recorder := NewResponseRecorder(w)

	recorder.Header().Set("Content-Type", "application/json")
	recorder.WriteHeader(http.StatusCreated)
	recorder.Header().Set("X-Late", "ignored")
	recorder.WriteHeader(http.StatusBadRequest)
	_, err := recorder.Write([]byte(`{"hash":"0x1"}`))
	require.NoError(t, err)

	assert.Equal(t, http.StatusCreated, recorder.StatusCode)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", recorder.Headers.Get("Content-Type"))
	assert.Empty(t, recorder.Headers.Get("X-Late"))
	assert.Equal(t, `{"hash":"0x1"}`, recorder.Body.String())
	assert.Equal(t, len(`{"hash":"0x1"}`), recorder.Bytes)
}

func TestIdempotencyMiddleware_ServiceScopeIsSeparate(t *testing.T) {
	repo := newFakeIdempotencyRepo()
	mw := NewIdempotencyMiddleware(repo)

	calls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	})

	send := func(r *http.Request) *httptest.ResponseRecorder {
		r.Header.Set(IdempotencyKeyHeader, "shared-key")
		rec := httptest.NewRecorder()
		mw.Handle(handler).ServeHTTP(rec, r)
		return rec
	}

	send(withUser(httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(`{}`)), uuid.New()))
	rec := send(httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(`{}`)))

	assert.Equal(t, 2, calls)
	assert.Empty(t, rec.Header().Get("X-Idempotency-Replay"))
}

func TestIdempotencyMiddleware_ExpiredRecordRunsAgain(t *testing.T) {
	repo := newFakeIdempotencyRepo()
	mw := NewIdempotencyMiddleware(repo)
	mw.now = func() time.Time { return time.Now().Add(-IdempotencyTTL - time.Minute) }

	calls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	})

	user := uuid.New()
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(`{}`))
		req.Header.Set(IdempotencyKeyHeader, "old-key")
		rec := httptest.NewRecorder()
		mw.Handle(handler).ServeHTTP(rec, withUser(req, user))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, repo.stores)
}

type fakeIdempotencyRepo struct {
	mu      sync.Mutex
	records map[string]*storage.IdempotencyRecord
	getErr  error
	stores  int
}

func newFakeIdempotencyRepo() *fakeIdempotencyRepo {
	return &fakeIdempotencyRepo{
		records: make(map[string]*storage.IdempotencyRecord),
	}
}

func (f *fakeIdempotencyRepo) key(scope, key, method, url string) string {
	return fmt.Sprintf("%s|%s|%s|%s", scope, key, method, url)
}

func (f *fakeIdempotencyRepo) Get(ctx context.Context, scope, key, method, url string) (*storage.IdempotencyRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.getErr != nil {
		return nil, f.getErr
	}
	rec, ok := f.records[f.key(scope, key, method, url)]
	if !ok || time.Now().After(rec.ExpiresAt) {
		return nil, storage.ErrIdempotencyNotFound
	}

	clone := *rec
	clone.Body = append([]byte(nil), rec.Body...)
	clone.Headers = rec.Headers.Clone()
	return &clone, nil
}

func (f *fakeIdempotencyRepo) Store(ctx context.Context, record *storage.IdempotencyRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.stores++
	clone := *record
	clone.Body = append([]byte(nil), record.Body...)
	clone.Headers = record.Headers.Clone()
	f.records[f.key(record.Scope, record.Key, record.Method, record.URL)] = &clone
	return nil
}

func withUser(r *http.Request, id uuid.UUID) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), UserIDKey, id))
}

func TestIdempotencyMiddleware_ReplaysCachedResponse(t *testing.T) {
	repo := newFakeIdempotencyRepo()
	middleware := NewIdempotencyMiddleware(repo)
	user := uuid.New()

	callCount := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"count":` + fmt.Sprint(callCount) + `}`))
	})

	req1 := httptest.NewRequest(http.MethodPost, "/v1/wallets/ethereum/transfers", strings.NewReader(`{"amount":"0.1"}`))
	req1.Header.Set(IdempotencyKeyHeader, "key-1")
	rec1 := httptest.NewRecorder()

	middleware.Handle(handler).ServeHTTP(rec1, withUser(req1, user))
	require.Equal(t, http.StatusOK, rec1.Code)
	require.Equal(t, 1, callCount)
	require.Empty(t, rec1.Header().Get("X-Idempotency-Replay"))

	req2 := httptest.NewRequest(http.MethodPost, "/v1/wallets/ethereum/transfers", strings.NewReader(`{"amount":"0.1"}`))
	req2.Header.Set(IdempotencyKeyHeader, "key-1")
	rec2 := httptest.NewRecorder()

	middleware.Handle(handler).ServeHTTP(rec2, withUser(req2, user))
	require.Equal(t, http.StatusOK, rec2.Code)
	require.Equal(t, 1, callCount, "handler should not be called on replay")
	require.Equal(t, "true", rec2.Header().Get("X-Idempotency-Replay"))
	require.Equal(t, rec1.Body.String(), rec2.Body.String())
}

func TestIdempotencyMiddleware_ReplayUsesCurrentRequestID(t *testing.T) {
	repo := newFakeIdempotencyRepo()
	idempotency := NewIdempotencyMiddleware(repo)

	callCount := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"count":` + fmt.Sprint(callCount) + `}`))
	})

	chain := RequestID(idempotency.Handle(handler))

	req1 := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(`{"a":1}`))
	req1.Header.Set(IdempotencyKeyHeader, "key-reqid")
	req1.Header.Set("X-Request-ID", "req-1")
	rec1 := httptest.NewRecorder()

	chain.ServeHTTP(rec1, req1)
	require.Equal(t, http.StatusCreated, rec1.Code)
	require.Equal(t, 1, callCount)
	require.Equal(t, "req-1", rec1.Header().Get("X-Request-ID"))

	req2 := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(`{"a":1}`))
	req2.Header.Set(IdempotencyKeyHeader, "key-reqid")
	req2.Header.Set("X-Request-ID", "req-2")
	rec2 := httptest.NewRecorder()

	chain.ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusCreated, rec2.Code)
	require.Equal(t, 1, callCount, "handler should not be called on replay")
	require.Equal(t, "true", rec2.Header().Get("X-Idempotency-Replay"))
	require.Equal(t, []string{"req-2"}, rec2.Header().Values("X-Request-ID"))
}

func TestIdempotencyMiddleware_ReplayDropsCookies(t *testing.T) {
	middleware := NewIdempotencyMiddleware(newFakeIdempotencyRepo())

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: "tok"})
		w.WriteHeader(http.StatusOK)
	})

	for i, wantCookie := range []bool{true, false} {
		req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(`{}`))
		req.Header.Set(IdempotencyKeyHeader, "key-cookie")
		rec := httptest.NewRecorder()
		middleware.Handle(handler).ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, wantCookie, rec.Header().Get("Set-Cookie") != "", "request %d", i)
	}
}

func TestIdempotencyMiddleware_RejectsDifferentBodySameKey(t *testing.T) {
	repo := newFakeIdempotencyRepo()
	middleware := NewIdempotencyMiddleware(repo)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	req1 := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(`{"a":1}`))
	req1.Header.Set(IdempotencyKeyHeader, "key-2")
	rec1 := httptest.NewRecorder()
	middleware.Handle(handler).ServeHTTP(rec1, req1)
	require.Equal(t, http.StatusOK, rec1.Code)

	req2 := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(`{"a":2}`))
	req2.Header.Set(IdempotencyKeyHeader, "key-2")
	rec2 := httptest.NewRecorder()
	middleware.Handle(handler).ServeHTTP(rec2, req2)

	require.Equal(t, http.StatusBadRequest, rec2.Code)
	require.Contains(t, rec2.Body.String(), apperrors.ErrCodeIdempotencyKeyReused)
}

func TestIdempotencyMiddleware_ScopesKeyByUser(t *testing.T) {
	repo := newFakeIdempotencyRepo()
	middleware := NewIdempotencyMiddleware(repo)

	callCount := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		w.WriteHeader(http.StatusOK)
	})

	req1 := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(`{"a":1}`))
	req1.Header.Set(IdempotencyKeyHeader, "key-3")
	rec1 := httptest.NewRecorder()
	middleware.Handle(handler).ServeHTTP(rec1, withUser(req1, uuid.New()))
	require.Equal(t, http.StatusOK, rec1.Code)

	req2 := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(`{"a":2}`))
	req2.Header.Set(IdempotencyKeyHeader, "key-3")
	rec2 := httptest.NewRecorder()
	middleware.Handle(handler).ServeHTTP(rec2, withUser(req2, uuid.New()))
	require.Equal(t, http.StatusOK, rec2.Code)

	require.Equal(t, 2, callCount, "different users should not conflict on idempotency key")
	require.Empty(t, rec2.Header().Get("X-Idempotency-Replay"))
}

func TestIdempotencyMiddleware_ServerErrorsAreNotStored(t *testing.T) {
	repo := newFakeIdempotencyRepo()
	middleware := NewIdempotencyMiddleware(repo)

	status := http.StatusServiceUnavailable
	callCount := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		w.WriteHeader(status)
	})

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(`{"a":1}`))
		req.Header.Set(IdempotencyKeyHeader, "key-4")
		rec := httptest.NewRecorder()
		middleware.Handle(handler).ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusServiceUnavailable, send().Code)
	assert.Zero(t, repo.stores)

	status = http.StatusOK
	assert.Equal(t, http.StatusOK, send().Code)
	assert.Equal(t, 2, callCount)
	assert.Equal(t, 1, repo.stores)
}

func TestIdempotencyMiddleware_LookupFailure(t *testing.T) {
	repo := newFakeIdempotencyRepo()
	repo.getErr = fmt.Errorf("connection refused")
	middleware := NewIdempotencyMiddleware(repo)

	called := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(`{}`))
	req.Header.Set(IdempotencyKeyHeader, "key-5")
	rec := httptest.NewRecorder()
	middleware.Handle(handler).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), apperrors.ErrCodeTransport)
	assert.False(t, called)
}
