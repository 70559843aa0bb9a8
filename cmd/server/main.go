// Command server runs the notevault HTTP API.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kuitang/notevault/internal/access"
	"github.com/kuitang/notevault/internal/api"
	"github.com/kuitang/notevault/internal/audit"
	"github.com/kuitang/notevault/internal/auth"
	"github.com/kuitang/notevault/internal/config"
	"github.com/kuitang/notevault/internal/crypto"
	"github.com/kuitang/notevault/internal/db"
	"github.com/kuitang/notevault/internal/notes"
	"github.com/kuitang/notevault/internal/obs"
	"github.com/kuitang/notevault/internal/ratelimit"
	"github.com/kuitang/notevault/internal/s3client"
	"github.com/kuitang/notevault/internal/store"
)

// keyVersion is the HKDF version for every derived secret.
const keyVersion = 1

// registryPruneInterval is how often expired refresh tokens are dropped.
const registryPruneInterval = 10 * time.Minute

func main() {
	noS3, addr := config.ParseFlags()
	cfg, err := config.LoadConfig(noS3, addr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	obs.Init(obs.ParseLevel(cfg.LogLevel))
	cfg.PrintStartupSummary()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		obs.Pkg("main").Error("server_exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	go a.pruneRegistry(ctx, registryPruneInterval)

	return api.NewServer(cfg.ListenAddr, a.handler).Serve(ctx)
}

// app holds the wired services for one server process.
type app struct {
	handler http.Handler
	tokens  *auth.TokenService
	limiter *ratelimit.Limiter
	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := obs.Pkg("main")
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	masterKey, err := crypto.ParseMasterKey(cfg.MasterKey)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	backend, err := newDocumentBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	docs := store.NewDocumentStore(backend)
	revoked := store.NewRevocationStore(backend)

	sink, err := a.newAuditSink(cfg, masterKey)
	if err != nil {
		return nil, err
	}
	auditLog := audit.NewLogger(sink)

	hasher, err := auth.NewPasswordHasher(cfg.PasswordHasher)
	if err != nil {
		return nil, err
	}
	creds := auth.NewCredentialService(docs, hasher, auditLog)

	accessSecret, err := tokenSecret(cfg.AccessTokenSecret, masterKey, crypto.PurposeAccessToken)
	if err != nil {
		return nil, fmt.Errorf("ACCESS_TOKEN_SECRET: %w", err)
	}
	refreshSecret, err := tokenSecret(cfg.RefreshTokenSecret, masterKey, crypto.PurposeRefreshToken)
	if err != nil {
		return nil, fmt.Errorf("REFRESH_TOKEN_SECRET: %w", err)
	}
	a.tokens, err = auth.NewTokenService(auth.TokenConfig{
		AccessSecret:  accessSecret,
		RefreshSecret: refreshSecret,
		AccessTTL:     cfg.AccessTokenTTL,
		RefreshTTL:    cfg.RefreshTokenTTL,
	}, revoked, auth.NewTokenRegistry())
	if err != nil {
		return nil, err
	}

	repo := notes.NewRepository(docs, auditLog, cfg.NoteQuotaBytes)
	guard := access.NewGuard(a.tokens, creds, repo, auditLog).WithAdminRegistrationRestricted(cfg.RestrictAdminRegistration)

	if cfg.BootstrapAdminUsername != "" {
		created, err := creds.EnsureAccount(ctx, cfg.BootstrapAdminUsername, cfg.BootstrapAdminPassword, store.RoleAdmin)
		if err != nil {
			return nil, fmt.Errorf("bootstrap admin: %w", err)
		}
		logger.Info("bootstrap_admin", "username", cfg.BootstrapAdminUsername, "created", created)
	}

	a.limiter = ratelimit.New(cfg.RateLimitConfig)
	a.closers = append(a.closers, func() error {
		a.limiter.Stop()
		return nil
	})

	a.handler = api.NewHandler(guard, a.limiter).Routes()
	ok = true
	return a, nil
}

func newDocumentBackend(ctx context.Context, cfg *config.Config) (store.Backend, error) {
	if cfg.NoS3 {
		return store.NewFileBackend(cfg.DataDir)
	}
	client, err := s3client.New(ctx, s3client.Config{
		Endpoint:        cfg.AWSEndpointS3,
		Region:          cfg.AWSRegion,
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretAccessKey,
		BucketName:      cfg.AWSBucketName,
		Prefix:          cfg.S3Prefix,
		UsePathStyle:    cfg.AWSUsePathStyle,
	})
	if err != nil {
		return nil, err
	}
	if err := client.CheckBucket(ctx); err != nil {
		return nil, err
	}
	return store.NewS3Backend(client), nil
}

func (a *app) newAuditSink(cfg *config.Config, masterKey []byte) (audit.Sink, error) {
	switch cfg.AuditSink {
	case config.AuditSinkSQLite:
		adb, err := db.OpenAuditDB(cfg.DataDir, crypto.DeriveKey(masterKey, crypto.PurposeAuditDB, keyVersion))
		if err != nil {
			return nil, fmt.Errorf("open audit database: %w", err)
		}
		a.closers = append(a.closers, adb.Close)
		return audit.NewSQLSink(adb), nil
	default:
		return audit.NewFileSink(filepath.Join(cfg.DataDir, audit.FileName))
	}
}

// tokenSecret decodes an explicit hex secret or derives one from the master key.
func tokenSecret(explicit string, masterKey []byte, purpose string) ([]byte, error) {
	if explicit == "" {
		return crypto.DeriveKey(masterKey, purpose, keyVersion), nil
	}
	return hex.DecodeString(explicit)
}

func (a *app) pruneRegistry(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := a.tokens.Registry().Prune(now); n > 0 {
				obs.Pkg("main").Debug("refresh_tokens_pruned", "count", n)
			}
		}
	}
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
