// Package secretstore persists private key material under deterministic paths.
//
// Two backends satisfy the same contract: MemoryStore for development and
// tests, and VaultStore (HashiCorp Vault KV v2) for production. A missing
// path is reported as ErrNotFound, never as a transport failure, so callers
// can tell "no secret yet" apart from "store is down".
package secretstore

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by Get when nothing is stored at the path.
	ErrNotFound = errors.New("secret not found")

	// ErrAlreadyExists is returned by Create when the path already holds a secret.
	ErrAlreadyExists = errors.New("secret already exists")

	// ErrUnavailable wraps transport and authentication failures of the backend.
	ErrUnavailable = errors.New("secret store unavailable")
)

// Payload is the key/value content stored at a path, e.g. {"privateKey": "..."}.
type Payload map[string]string

// Clone returns a copy that does not share the underlying map.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Store is a path-keyed secret store.
type Store interface {
	// Put writes payload at path. The latest write wins.
	Put(ctx context.Context, path string, payload Payload) error

	// Create writes payload at path only if nothing is stored there yet.
	// It returns ErrAlreadyExists otherwise.
	Create(ctx context.Context, path string, payload Payload) error

	// Get returns the latest payload at path, or ErrNotFound.
	Get(ctx context.Context, path string) (Payload, error)
}

// unavailable wraps err so that errors.Is(err, ErrUnavailable) holds.
func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}
