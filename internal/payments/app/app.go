// Package app is the composition root shared by cmd/agent and cmd/api:
// it wires config, identity, vault, store, session, token, alert, audit
// and x402 into one running instance behind a single Bootstrap call.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veridex/core/internal/payments/alert"
	"github.com/veridex/core/internal/payments/audit"
	"github.com/veridex/core/internal/payments/cliui"
	"github.com/veridex/core/internal/payments/config"
	"github.com/veridex/core/internal/payments/corex"
	"github.com/veridex/core/internal/payments/identity"
	"github.com/veridex/core/internal/payments/session"
	"github.com/veridex/core/internal/payments/signer"
	"github.com/veridex/core/internal/payments/store"
	"github.com/veridex/core/internal/payments/token"
	"github.com/veridex/core/internal/payments/vault"
	"github.com/veridex/core/internal/payments/x402"
)

// App holds every collaborator cmd/agent's subcommands need.
type App struct {
	Config   *config.Config
	Identity *identity.Identity
	Logger   *slog.Logger

	Vault     *vault.Vault
	Store     store.Store
	Tokens    *token.Vault
	Sessions  *session.Manager
	AlertBus  *alert.Bus
	AuditLog  audit.Log
	Engine    *x402.Engine

	pool *pgxpool.Pool
}

// Bootstrap loads configuration and local identity and wires every
// collaborator. The vault deriver is KMS-backed unless VAULT_DRIVER=static.
// The store and audit log are Postgres-backed when a database password is
// configured or the environment is production; otherwise they fall back to
// in-process state so a local dev run works without Postgres.
func Bootstrap(ctx context.Context, userID string) (*App, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("app: invalid configuration: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: levelFor(cfg),
	}))

	id, err := identity.Load(userID)
	if err != nil {
		return nil, fmt.Errorf("app: load local identity: %w", err)
	}

	clock := corex.RealClock{}
	rng := corex.CryptoRng{}

	deriver, err := buildDeriver(ctx, cfg)
	if err != nil {
		return nil, err
	}
	v := vault.New(deriver)

	var (
		st       store.Store
		auditLog audit.Log
		pool     *pgxpool.Pool
	)
	if cfg.Database.Password != "" || cfg.IsProduction() {
		pool, err = connectPostgres(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("app: connect postgres: %w", err)
		}
		st = store.NewPostgresStore(pool)
		auditLog = audit.NewPostgresLog(pool, clock)
	} else {
		st = store.NewMemStore()
		auditLog = audit.NewMemLog(clock)
	}

	tokens := token.New(clock, rng, sessionExpiryChecker(st))
	sessions := session.New(v, st, tokens, clock, rng)
	sgn := signer.New(rng)
	keys := x402.NewVaultKeyProvider(v, id.CredentialID)
	httpClient := x402.NewStdHTTPClient(x402.DefaultPaymentTimeout)

	var oracle x402.PriceOracle = x402.NullOracle{}

	engine := x402.New(httpClient, sessions, sgn, keys, oracle, auditLog, logger)
	alertBus := alert.New(clock, cfg.Alert.Thresholds, cfg.Alert.HighValueThresholdUSD)

	return &App{
		Config:   cfg,
		Identity: id,
		Logger:   logger,
		Vault:    v,
		Store:    st,
		Tokens:   tokens,
		Sessions: sessions,
		AlertBus: alertBus,
		AuditLog: auditLog,
		Engine:   engine,
		pool:     pool,
	}, nil
}

// Close releases pooled resources, if any were opened.
func (a *App) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}

func levelFor(cfg *config.Config) slog.Level {
	if cfg.IsDevelopment() {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

func buildDeriver(ctx context.Context, cfg *config.Config) (vault.Deriver, error) {
	if cfg.Vault.Driver == "static" {
		secret := cfg.Vault.StaticMasterSecret
		if secret == "" {
			prompted, err := cliui.PromptSecret("VAULT_STATIC_MASTER_SECRET not set; enter master secret: ")
			if err != nil {
				return nil, fmt.Errorf("app: %w", err)
			}
			secret = prompted
		}
		return vault.NewStaticDeriver([]byte(secret)), nil
	}
	return vault.NewKMSDeriver(ctx, cfg.KMS.Region, cfg.Vault.KMSLocalstackEndpoint, wrappedDataKeyPlaceholder)
}

// wrappedDataKeyPlaceholder resolves a credential_id to its KMS-wrapped
// data key. A production deployment persists this blob alongside the
// MasterCredential at enrollment time; cmd/agent's single-operator
// deployment mode has no enrollment step, so with VAULT_DRIVER=kms (the
// default) Bootstrap succeeds but the first KMSDeriver.DeriveKey call, i.e.
// the first Seal or Open, returns the error below instead of deriving a
// bogus key.
func wrappedDataKeyPlaceholder(credentialID string) ([]byte, error) {
	return nil, fmt.Errorf("app: no wrapped data key enrolled for credential %s", credentialID)
}

func connectPostgres(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		cfg.Database.User, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.Name, cfg.Database.SSLMode)

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	if cfg.Database.MaxConns > 0 {
		poolCfg.MaxConns = cfg.Database.MaxConns
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return pgxpool.NewWithConfig(connectCtx, poolCfg)
}

func sessionExpiryChecker(st store.Store) token.SessionExpiryChecker {
	return func(keyHash [32]byte) (expired bool, ok bool) {
		sess, err := st.Get(context.Background(), keyHash)
		if err != nil {
			return false, false
		}
		return corex.RealClock{}.Now().After(sess.Policy.ExpiresAt), true
	}
}
