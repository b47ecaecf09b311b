package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrIdempotencyNotFound is returned by Get for unknown or expired keys
var ErrIdempotencyNotFound = errors.New("idempotency record not found")

// IdempotencyRecord is a stored response replayed for a repeated key
type IdempotencyRecord struct {
	Scope      string // authenticated user id, or "" for service calls
	Key        string
	Method     string
	URL        string
	BodyHash   string
	StatusCode int
	Headers    http.Header
	Body       []byte
	ExpiresAt  time.Time
}

// IdempotencyRepository handles idempotency key storage
type IdempotencyRepository struct {
	store *Store
}

// NewIdempotencyRepository creates a new repository
func NewIdempotencyRepository(store *Store) *IdempotencyRepository {
	return &IdempotencyRepository{store: store}
}

// Get returns the unexpired record for (scope, key, method, url)
func (r *IdempotencyRepository) Get(ctx context.Context, scope, key, method, url string) (*IdempotencyRecord, error) {
	query := `
		SELECT scope, idempotency_key, method, url, body_hash, status_code,
			headers, body, expires_at
		FROM idempotency_keys
		WHERE scope = $1 AND idempotency_key = $2 AND method = $3 AND url = $4
			AND expires_at > NOW()
	`

	var rec IdempotencyRecord
	var headers []byte
	err := r.store.pool.QueryRow(ctx, query, scope, key, method, url).Scan(
		&rec.Scope,
		&rec.Key,
		&rec.Method,
		&rec.URL,
		&rec.BodyHash,
		&rec.StatusCode,
		&headers,
		&rec.Body,
		&rec.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrIdempotencyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get idempotency record: %w", err)
	}
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &rec.Headers); err != nil {
			return nil, fmt.Errorf("failed to decode idempotency headers: %w", err)
		}
	}
	return &rec, nil
}

// Store records a response. An existing unexpired record is kept.
func (r *IdempotencyRepository) Store(ctx context.Context, rec *IdempotencyRecord) error {
	headers, err := json.Marshal(rec.Headers)
	if err != nil {
		return fmt.Errorf("failed to encode idempotency headers: %w", err)
	}

	query := `
		INSERT INTO idempotency_keys (
			scope, idempotency_key, method, url, body_hash, status_code,
			headers, body, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (scope, idempotency_key, method, url) DO UPDATE
		SET body_hash = EXCLUDED.body_hash,
			status_code = EXCLUDED.status_code,
			headers = EXCLUDED.headers,
			body = EXCLUDED.body,
			expires_at = EXCLUDED.expires_at
		WHERE idempotency_keys.expires_at <= NOW()
	`

	_, err = r.store.pool.Exec(ctx, query,
		rec.Scope,
		rec.Key,
		rec.Method,
		rec.URL,
		rec.BodyHash,
		rec.StatusCode,
		headers,
		rec.Body,
		rec.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store idempotency record: %w", err)
	}
	return nil
}
