package secretstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

const (
	sealedField   = "sealed"
	providerField = "sealedBy"
)

// SealedStore encrypts every payload with a KMS provider before handing it to
// the inner store. Payloads written before sealing was enabled are returned
// unchanged.
type SealedStore struct {
	inner Store
	kms   KMSProvider
}

// NewSealedStore wraps inner with envelope sealing
func NewSealedStore(inner Store, kms KMSProvider) *SealedStore {
	return &SealedStore{inner: inner, kms: kms}
}

func (s *SealedStore) Put(ctx context.Context, path string, payload Payload) error {
	sealed, err := s.seal(ctx, payload)
	if err != nil {
		return err
	}
	return s.inner.Put(ctx, path, sealed)
}

func (s *SealedStore) Create(ctx context.Context, path string, payload Payload) error {
	sealed, err := s.seal(ctx, payload)
	if err != nil {
		return err
	}
	return s.inner.Create(ctx, path, sealed)
}

func (s *SealedStore) Get(ctx context.Context, path string) (Payload, error) {
	stored, err := s.inner.Get(ctx, path)
	if err != nil {
		return nil, err
	}

	blob, ok := stored[sealedField]
	if !ok {
		return stored, nil
	}

	ciphertext, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("sealed payload at %s is not base64: %w", path, err)
	}
	plaintext, err := s.kms.Decrypt(ctx, ciphertext)
	if err != nil {
		return nil, unavailable("unseal "+path, err)
	}

	var payload Payload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, fmt.Errorf("sealed payload at %s is malformed: %w", path, err)
	}
	return payload, nil
}

func (s *SealedStore) seal(ctx context.Context, payload Payload) (Payload, error) {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	ciphertext, err := s.kms.Encrypt(ctx, plaintext)
	if err != nil {
		return nil, unavailable("seal", err)
	}
	return Payload{
		sealedField:   base64.StdEncoding.EncodeToString(ciphertext),
		providerField: s.kms.Provider(),
	}, nil
}

var _ Store = (*SealedStore)(nil)
