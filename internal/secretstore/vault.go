package secretstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/allegro/bigcache/v3"
	vault "github.com/hashicorp/vault/api"

	"github.com/tokenswallet/wallet-backend/internal/logger"
)

// VaultConfig contains configuration for the Vault KV v2 store
type VaultConfig struct {
	Address string
	Token   string
	Mount   string // KV v2 mount path, e.g. "secret"

	// ReadCacheTTL keeps freshly written payloads available to Get for this
	// long, covering backends that answer 404 on the first read after a
	// write. Zero disables the cache.
	ReadCacheTTL time.Duration

	// Timeout bounds every HTTP call to Vault
	Timeout time.Duration
}

// VaultStore implements Store on top of HashiCorp Vault's KV v2 engine.
// Writes go to {mount}/data/{path}; only the latest version is read.
type VaultStore struct {
	kv     *vault.KVv2
	mount  string
	recent *bigcache.BigCache
}

// NewVaultStore creates a Vault-backed store
func NewVaultStore(cfg VaultConfig) (*VaultStore, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("vault address is required")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("vault token is required")
	}
	if cfg.Mount == "" {
		cfg.Mount = "secret"
	}

	vaultConfig := vault.DefaultConfig()
	vaultConfig.Address = cfg.Address
	// Retry policy belongs to the caller; a retried write could land twice.
	vaultConfig.MaxRetries = 0
	if cfg.Timeout > 0 {
		vaultConfig.Timeout = cfg.Timeout
	}

	client, err := vault.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	store := &VaultStore{
		kv:    client.KVv2(cfg.Mount),
		mount: cfg.Mount,
	}

	if cfg.ReadCacheTTL > 0 {
		cacheConfig := bigcache.DefaultConfig(cfg.ReadCacheTTL)
		cacheConfig.Shards = 16
		cacheConfig.MaxEntriesInWindow = 1024
		cacheConfig.MaxEntrySize = 512
		cacheConfig.HardMaxCacheSize = 8 // MB
		cacheConfig.CleanWindow = time.Second
		cacheConfig.Verbose = false

		cache, err := bigcache.New(context.Background(), cacheConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create read cache: %w", err)
		}
		store.recent = cache
	}

	return store, nil
}

// Put writes a new version at path
func (s *VaultStore) Put(ctx context.Context, path string, payload Payload) error {
	if _, err := s.kv.Put(ctx, path, toVaultData(payload)); err != nil {
		return unavailable("vault write "+s.mount+"/"+path, err)
	}
	s.remember(ctx, path, payload)
	return nil
}

// Create writes path with check-and-set 0, which Vault only accepts when no
// version exists yet.
func (s *VaultStore) Create(ctx context.Context, path string, payload Payload) error {
	_, err := s.kv.Put(ctx, path, toVaultData(payload), vault.WithCheckAndSet(0))
	if err != nil {
		if isCASMismatch(err) {
			return ErrAlreadyExists
		}
		return unavailable("vault write "+s.mount+"/"+path, err)
	}
	s.remember(ctx, path, payload)
	return nil
}

// Get reads the latest version at path. A missing, deleted or unmounted path
// yields ErrNotFound unless the payload was written recently by this process.
func (s *VaultStore) Get(ctx context.Context, path string) (Payload, error) {
	secret, err := s.kv.Get(ctx, path)
	if err != nil {
		if errors.Is(err, vault.ErrSecretNotFound) || isStatus(err, http.StatusNotFound) {
			return s.recall(ctx, path)
		}
		return nil, unavailable("vault read "+s.mount+"/"+path, err)
	}
	if secret == nil || secret.Data == nil {
		return s.recall(ctx, path)
	}
	return fromVaultData(secret.Data), nil
}

// Close releases the read cache
func (s *VaultStore) Close() error {
	if s.recent == nil {
		return nil
	}
	return s.recent.Close()
}

func (s *VaultStore) remember(ctx context.Context, path string, payload Payload) {
	if s.recent == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := s.recent.Set(path, raw); err != nil {
		logger.Warn(ctx, "vault read cache set failed", "path", path, "error", err)
	}
}

func (s *VaultStore) recall(ctx context.Context, path string) (Payload, error) {
	if s.recent == nil {
		return nil, ErrNotFound
	}
	raw, err := s.recent.Get(path)
	if err != nil {
		return nil, ErrNotFound
	}
	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, ErrNotFound
	}
	logger.Debug(ctx, "vault read served from recent writes", "path", path)
	return payload, nil
}

func toVaultData(p Payload) map[string]interface{} {
	data := make(map[string]interface{}, len(p))
	for k, v := range p {
		data[k] = v
	}
	return data
}

func fromVaultData(data map[string]interface{}) Payload {
	p := make(Payload, len(data))
	for k, v := range data {
		if s, ok := v.(string); ok {
			p[k] = s
		}
	}
	return p
}

func isStatus(err error, code int) bool {
	var respErr *vault.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == code
}

func isCASMismatch(err error) bool {
	var respErr *vault.ResponseError
	if !errors.As(err, &respErr) || respErr.StatusCode != http.StatusBadRequest {
		return false
	}
	for _, msg := range respErr.Errors {
		if strings.Contains(msg, "check-and-set") {
			return true
		}
	}
	return false
}

var _ Store = (*VaultStore)(nil)
