package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	_ "github.com/lib/pq" // postgres driver

	"github.com/agoramesh/facilitator/pkg/api"
	"github.com/agoramesh/facilitator/pkg/audit"
	auditpg "github.com/agoramesh/facilitator/pkg/audit/postgres"
	"github.com/agoramesh/facilitator/pkg/auth"
	"github.com/agoramesh/facilitator/pkg/database/migrate"
	"github.com/agoramesh/facilitator/pkg/escrow"
	escrowpg "github.com/agoramesh/facilitator/pkg/escrow/postgres"
	"github.com/agoramesh/facilitator/pkg/health"
	"github.com/agoramesh/facilitator/pkg/policy"
	policypg "github.com/agoramesh/facilitator/pkg/policy/postgres"
	"github.com/agoramesh/facilitator/pkg/session"
	sessionpg "github.com/agoramesh/facilitator/pkg/session/postgres"
)

// Service is the assembled facilitator: stores, managers, audit, auth,
// health, and the REST handler, tied together by a lifecycle. Build one
// with New, then Start it; Stop shuts components down in reverse order.
type Service struct {
	cfg *Config
	log *slog.Logger

	db         *sql.DB
	sessions   *session.Manager
	policies   *policy.Engine
	escrows    *escrow.Coordinator
	auditLog   audit.Logger
	auditStore *auditpg.Store

	handler   http.Handler
	health    *health.Checker
	lifecycle *Lifecycle
}

// New assembles a facilitator from cfg. When the database DSN is empty
// the service runs on in-memory stores; otherwise every entity persists
// to PostgreSQL and migrations run on Start.
func New(cfg *Config, log *slog.Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}

	s := &Service{
		cfg:       cfg,
		log:       log,
		health:    health.NewChecker(),
		lifecycle: NewLifecycle(),
	}

	if cfg.Database.DSN != "" {
		db, err := sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		s.db = db
		s.health.RegisterProbe("database", health.DBProbe(db))
	}

	s.buildAudit()
	s.buildComponents()
	s.buildHandler()
	s.registerLifecycle()

	return s, nil
}

// buildAudit selects the audit backend: postgres when a database is
// configured and auditing is enabled, slog otherwise.
func (s *Service) buildAudit() {
	if s.cfg.Audit.Enabled && s.db != nil {
		s.auditStore = auditpg.New(s.db, auditpg.Config{
			RetentionDays: s.cfg.Audit.RetentionDays,
		})
		s.auditLog = s.auditStore
		return
	}
	if s.cfg.Audit.Enabled {
		s.auditLog = audit.NewSlogLogger(s.log)
		return
	}
	s.auditLog = audit.NopLogger{}
}

// buildComponents wires the store twins into the managers.
func (s *Service) buildComponents() {
	var (
		sessionStore session.Store
		policyStore  policy.Store
		escrowStore  escrow.Store
	)
	if s.db != nil {
		sessionStore = sessionpg.New(s.db)
		policyStore = policypg.New(s.db)
		escrowStore = escrowpg.New(s.db)
	} else {
		sessionStore = session.NewMemoryStore()
		policyStore = policy.NewMemoryStore()
		escrowStore = escrow.NewMemoryStore()
	}

	s.policies = policy.NewEngine(policyStore, policy.Config{
		Audit:  s.auditLog,
		Logger: s.log,
	})
	s.sessions = session.NewManager(sessionStore, session.Config{
		Policies:   policyStore,
		RateWindow: s.cfg.Sessions.RateWindow,
		Audit:      s.auditLog,
		Logger:     s.log,
	})
	s.escrows = escrow.NewCoordinator(escrowStore, escrow.Config{
		Audit:  s.auditLog,
		Logger: s.log,
	})

	s.lifecycle.RegisterCloser(sessionStore)
	s.lifecycle.RegisterCloser(policyStore)
	s.lifecycle.RegisterCloser(escrowStore)
}

// buildHandler assembles the REST handler with its auth middleware.
func (s *Service) buildHandler() {
	deps := api.Deps{
		Sessions:  s.sessions,
		Policies:  s.policies,
		Escrows:   s.escrows,
		AdminRole: s.cfg.Auth.AdminRole,
	}
	if s.cfg.Audit.Enabled {
		deps.AuditQuerier = s.auditLog
	}
	if mw := s.buildAuthMiddleware(); mw != nil {
		deps.AuthMiddleware = mw
	}
	s.handler = api.NewHandler(deps)
}

// buildAuthMiddleware chains the configured authenticators. Returns nil
// when only anonymous access is configured.
func (s *Service) buildAuthMiddleware() func(http.Handler) http.Handler {
	var authenticators []auth.Authenticator

	if s.cfg.Auth.APIKeys.Enabled {
		authenticators = append(authenticators, auth.NewAPIKeyAuthenticator(auth.APIKeyConfig{
			Keys: s.cfg.Auth.APIKeys.Keys,
		}))
	}
	if s.cfg.Auth.JWT.Enabled {
		// Secret presence is checked by Config.Validate.
		jwtAuth, err := auth.NewJWTAuthenticator(auth.JWTConfig{
			Secret:   s.cfg.Auth.JWT.Secret,
			Issuer:   s.cfg.Auth.JWT.Issuer,
			Audience: s.cfg.Auth.JWT.Audience,
		})
		if err != nil {
			s.log.Warn("jwt authenticator disabled", "error", err)
		} else {
			authenticators = append(authenticators, jwtAuth)
		}
	}

	if len(authenticators) == 0 && s.cfg.Auth.AllowAnonymous {
		return nil
	}

	chained := auth.NewChainedAuthenticator(auth.ChainedAuthConfig{
		AllowAnonymous: s.cfg.Auth.AllowAnonymous,
	}, authenticators...)
	return auth.Middleware(chained)
}

// registerLifecycle orders startup: migrate, start the audit sweeper,
// mark ready. Shutdown reverses: drain, stop the sweeper, close stores,
// close the database.
func (s *Service) registerLifecycle() {
	if s.db != nil {
		s.lifecycle.OnStart(func(context.Context) error {
			if err := migrate.Run(s.db); err != nil {
				return fmt.Errorf("migrating database: %w", err)
			}
			return nil
		})
		s.lifecycle.OnStop(func(context.Context) error {
			return s.db.Close()
		})
	}

	if s.auditStore != nil {
		s.lifecycle.OnStart(func(context.Context) error {
			s.auditStore.StartCleanupRoutine(s.cfg.Audit.CleanupInterval)
			return nil
		})
		s.lifecycle.OnStop(func(context.Context) error {
			return s.auditStore.Close()
		})
	}

	s.lifecycle.OnStart(func(context.Context) error {
		store := "memory"
		if s.db != nil {
			store = "postgres"
		}
		s.health.SetReady()
		s.log.Info("facilitator ready",
			"name", s.cfg.Server.Name,
			"store", store,
			"audit", s.cfg.Audit.Enabled,
		)
		return nil
	})
	s.lifecycle.OnStop(func(context.Context) error {
		s.health.SetDraining()
		return nil
	})
}

// Start brings the service up.
func (s *Service) Start(ctx context.Context) error {
	return s.lifecycle.Start(ctx)
}

// Stop shuts the service down in reverse start order.
func (s *Service) Stop(ctx context.Context) error {
	return s.lifecycle.Stop(ctx)
}

// Handler returns the REST handler, auth middleware included.
func (s *Service) Handler() http.Handler { return s.handler }

// Health returns the readiness checker.
func (s *Service) Health() *health.Checker { return s.health }

// Sessions returns the session manager.
func (s *Service) Sessions() *session.Manager { return s.sessions }

// Policies returns the policy engine.
func (s *Service) Policies() *policy.Engine { return s.policies }

// Escrows returns the escrow coordinator.
func (s *Service) Escrows() *escrow.Coordinator { return s.escrows }
