package secretstore

import (
	"context"
	"errors"
)

// Outcome labels reported to an Observer
const (
	OutcomeOK          = "ok"
	OutcomeNotFound    = "not_found"
	OutcomeExists      = "exists"
	OutcomeUnavailable = "unavailable"
	OutcomeError       = "error"
)

// Observer receives one call per store operation, e.g. a metrics counter.
type Observer func(op, outcome string)

// ObservedStore reports every operation of the inner store to an Observer
type ObservedStore struct {
	inner   Store
	observe Observer
}

// NewObservedStore wraps inner so that each operation is reported to observe
func NewObservedStore(inner Store, observe Observer) *ObservedStore {
	return &ObservedStore{inner: inner, observe: observe}
}

func (s *ObservedStore) Put(ctx context.Context, path string, payload Payload) error {
	err := s.inner.Put(ctx, path, payload)
	s.observe("put", outcomeOf(err))
	return err
}

func (s *ObservedStore) Create(ctx context.Context, path string, payload Payload) error {
	err := s.inner.Create(ctx, path, payload)
	s.observe("create", outcomeOf(err))
	return err
}

func (s *ObservedStore) Get(ctx context.Context, path string) (Payload, error) {
	payload, err := s.inner.Get(ctx, path)
	s.observe("get", outcomeOf(err))
	return payload, err
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, ErrAlreadyExists):
		return OutcomeExists
	case errors.Is(err, ErrUnavailable):
		return OutcomeUnavailable
	default:
		return OutcomeError
	}
}

var _ Store = (*ObservedStore)(nil)
