package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Vicaadrn/web-scanner-project/internal/engine"
	"github.com/Vicaadrn/web-scanner-project/internal/identity"
	"github.com/Vicaadrn/web-scanner-project/internal/logging"
	"github.com/Vicaadrn/web-scanner-project/internal/metrics"
	"github.com/Vicaadrn/web-scanner-project/internal/quota"
	"github.com/Vicaadrn/web-scanner-project/internal/store"
	"github.com/Vicaadrn/web-scanner-project/internal/store/postgres"
	"github.com/Vicaadrn/web-scanner-project/internal/store/sqlite"
)

// Application is the runtime state container. It holds config and the
// services shared across the process; pass it to the HTTP layer rather than
// using package-level variables.
type Application struct {
	Config   *Config
	Logger   logging.Logger
	Store    store.Store
	Engine   *engine.Client
	Resolver *identity.Resolver
	Metrics  *metrics.Metrics
	Orch     *Orchestrator

	// Credentials is nil when authentication is disabled.
	Credentials *identity.JWTCredentials
}

// NewApplication opens the store and builds every service from cfg.
func NewApplication(ctx context.Context, cfg *Config, logger logging.Logger) (*Application, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = logging.Nop{}
	}

	st, err := OpenStore(ctx, cfg.Store, logger)
	if err != nil {
		return nil, err
	}
	a, err := Assemble(cfg, st, nil, logger)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return a, nil
}

// Assemble wires services around an existing store. m may be nil.
func Assemble(cfg *Config, st store.Store, m *metrics.Metrics, logger logging.Logger) (*Application, error) {
	if m == nil {
		m = metrics.New()
	}
	eng, err := engine.New(cfg.Engine, logger, nil)
	if err != nil {
		return nil, fmt.Errorf("creating engine client: %w", err)
	}

	var (
		creds    *identity.JWTCredentials
		verifier identity.CredentialVerifier
	)
	if cfg.Auth.JWTSecret != "" {
		creds, err = identity.NewJWTCredentials(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
		if err != nil {
			return nil, fmt.Errorf("creating credentials: %w", err)
		}
		verifier = creds
	} else {
		logger.Warn("no jwt secret configured, every caller is anonymous")
	}

	policy := identity.DefaultCookiePolicy()
	policy.Secure = cfg.Auth.SecureCookies
	resolver := identity.NewResolver(verifier, st, logger, identity.WithCookiePolicy(policy))

	guard := quota.NewGuard(st, logger,
		quota.WithCeiling(cfg.Quota.Ceiling),
		quota.WithWindow(cfg.Quota.Window))

	return &Application{
		Config:      cfg,
		Logger:      logger,
		Store:       st,
		Engine:      eng,
		Resolver:    resolver,
		Metrics:     m,
		Orch:        NewOrchestrator(cfg, st, eng, guard, m, logger),
		Credentials: creds,
	}, nil
}

// OpenStore opens the configured relational store.
func OpenStore(ctx context.Context, cfg StoreConfig, logger logging.Logger) (store.Store, error) {
	switch cfg.Driver {
	case "postgres":
		st, err := postgres.New(ctx, postgres.Config{DSN: cfg.DSN, MinConns: cfg.MinConns, MaxConns: cfg.MaxConns}, logger)
		if err != nil {
			return nil, fmt.Errorf("opening postgres store: %w", err)
		}
		return st, nil
	case "sqlite", "":
		st, err := sqlite.Open(cfg.DSN, logger)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// Start resumes watchers for sessions left in flight by a previous run.
func (a *Application) Start(ctx context.Context) error {
	if a == nil {
		return errors.New("application is nil")
	}
	a.Logger.Info("application starting",
		logging.Field{Key: "store", Value: a.Config.Store.Driver},
		logging.Field{Key: "engine", Value: a.Config.Engine.BaseURL})
	if _, err := a.Orch.Recover(ctx); err != nil {
		return err
	}
	return nil
}

// Shutdown stops the orchestrator first and then closes the store.
func (a *Application) Shutdown(ctx context.Context) error {
	if a == nil {
		return errors.New("application is nil")
	}
	a.Logger.Info("application shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if err := a.Orch.Shutdown(shutdownCtx); err != nil {
		a.Logger.Warn("orchestrator shutdown returned error", logging.Err(err))
	}
	return a.Store.Close()
}
