package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tokenswallet/wallet-backend/internal/api"
	"github.com/tokenswallet/wallet-backend/internal/app"
	"github.com/tokenswallet/wallet-backend/internal/config"
	"github.com/tokenswallet/wallet-backend/internal/custody"
	"github.com/tokenswallet/wallet-backend/internal/eth"
	"github.com/tokenswallet/wallet-backend/internal/logger"
	"github.com/tokenswallet/wallet-backend/internal/metrics"
	"github.com/tokenswallet/wallet-backend/internal/middleware"
	"github.com/tokenswallet/wallet-backend/internal/secretstore"
	"github.com/tokenswallet/wallet-backend/internal/storage"
	"github.com/tokenswallet/wallet-backend/internal/wallet"
	"github.com/tokenswallet/wallet-backend/internal/wallet/ethereum"
	"github.com/tokenswallet/wallet-backend/internal/wallet/substrate"
	"github.com/tokenswallet/wallet-backend/pkg/types"
)

func main() {
	// A missing .env is fine; the environment wins either way
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("Failed to load .env: %v", err)
	}

	if err := logger.Init(); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()
	m := metrics.New()

	store, err := storage.New(ctx, cfg.PostgresDSN, storage.PoolOptions{
		MaxConns:       int32(cfg.DBMaxConns),
		MinConns:       int32(cfg.DBMinConns),
		ConnectTimeout: 10 * time.Second,
	})
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	slog.Info("connected to database")

	secrets, closeSecrets, err := newSecretStore(ctx, cfg, m)
	if err != nil {
		slog.Error("failed to initialize secret store", "error", err)
		os.Exit(1)
	}
	defer closeSecrets()

	slog.Info("initialized secret store", "store", cfg.SecretStore, "sealing", cfg.SecretSealing)

	// Chain backends
	ethClient, err := eth.NewClient(cfg.EthRPCURL)
	if err != nil {
		slog.Error("failed to connect to ethereum node", "url", cfg.EthRPCURL, "error", err)
		os.Exit(1)
	}
	defer ethClient.Close()

	ethBackend := ethereum.NewBackend(ethClient, ethereum.Config{
		ConfirmTimeout: cfg.EthConfirmTimeout,
	})

	// The substrate node is probed in the background so the service can
	// start while the node is still syncing.
	substrateNode := substrate.NewRPCNode(cfg.SubstrateRPCURL)
	defer substrateNode.Close()

	substrateBackend := substrate.NewBackend(substrateNode, substrate.Config{
		SS58Prefix:       uint16(cfg.SubstrateSS58Prefix),
		Decimals:         int32(cfg.SubstrateDecimals),
		TokenID:          cfg.SubstrateTokenID,
		ForceNative:      cfg.SubstrateUseBalances,
		CustomCall:       cfg.SubstrateCustomCall,
		InclusionTimeout: cfg.SubstrateInclusionTimeout,
	})

	prepareCtx, stopPrepare := context.WithCancel(context.Background())
	defer stopPrepare()
	go prepareSubstrate(prepareCtx, substrateBackend)

	// Initialize application services
	accounts := storage.NewAccountRepository(store)
	custodian := custody.New(
		secrets,
		accounts,
		wallet.NewRegistry(ethBackend, substrateBackend),
		storage.NewAdvisoryLocker(store),
		m,
	)
	accountService := app.NewAccountService(accounts, custodian, types.Chain(cfg.DefaultChain))
	transferService := app.NewTransferService(custodian, accounts, storage.NewReceiptRepository(store), m)

	// Initialize middleware
	authMiddleware := middleware.NewAuthMiddleware(cfg.JWTSecret, cfg.SessionTTL)
	idempotencyMiddleware := middleware.NewIdempotencyMiddleware(storage.NewIdempotencyRepository(store))

	// Initialize API server
	server := api.NewServer(cfg, accountService, transferService, authMiddleware, idempotencyMiddleware, m, store)

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	// Setup signal handling for graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}

	case sig := <-shutdown:
		slog.Info("received shutdown signal", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			slog.Error("error during shutdown", "error", err)
			slog.Warn("forcing shutdown")
		}

		// Let confirmation watchers of submitted transactions finish logging
		if err := ethBackend.Shutdown(ctx); err != nil {
			slog.Warn("confirmation watchers still running", "error", err)
		}

		slog.Info("server stopped")
	}
}

// prepareSubstrate probes the substrate transfer call until it succeeds, so
// H160 recipients can be validated before the first transfer.
func prepareSubstrate(ctx context.Context, backend *substrate.Backend) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		attemptCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err := backend.Prepare(attemptCtx)
		cancel()
		if err == nil {
			return
		}
		slog.Warn("substrate node not ready, retrying", "error", err)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// newSecretStore builds the configured store, sealed and instrumented
func newSecretStore(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (secretstore.Store, func(), error) {
	var (
		inner   secretstore.Store
		closeFn = func() {}
	)

	switch cfg.SecretStore {
	case config.SecretStoreMemory:
		slog.Warn("using in-memory secret store: keys are lost on restart")
		inner = secretstore.NewMemoryStore()
	case config.SecretStoreVault:
		vs, err := secretstore.NewVaultStore(secretstore.VaultConfig{
			Address:      cfg.VaultAddress,
			Token:        cfg.VaultToken,
			Mount:        cfg.VaultMount,
			ReadCacheTTL: cfg.VaultReadCacheTTL,
			Timeout:      10 * time.Second,
		})
		if err != nil {
			return nil, nil, err
		}
		inner = vs
		closeFn = func() { _ = vs.Close() }
	}

	if cfg.SecretSealing != "" && cfg.SecretSealing != config.SealingNone {
		kms, err := secretstore.NewKMSProvider(ctx, &secretstore.KMSConfig{
			Provider:        cfg.SecretSealing,
			LocalKey:        cfg.SealingLocalKey,
			AWSKMSKeyID:     cfg.SealingAWSKMSKeyID,
			AWSKMSRegion:    cfg.SealingAWSRegion,
			VaultAddress:    cfg.VaultAddress,
			VaultToken:      cfg.VaultToken,
			VaultTransitKey: cfg.SealingVaultTransitKey,
		})
		if err != nil {
			closeFn()
			return nil, nil, err
		}
		inner = secretstore.NewSealedStore(inner, kms)
	}

	return secretstore.NewObservedStore(inner, m.ObserveSecretStore), closeFn, nil
}
