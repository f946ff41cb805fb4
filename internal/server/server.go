package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/greencycle/apiserver/config"
	"github.com/greencycle/apiserver/internal/db"
	"github.com/greencycle/apiserver/internal/handlers"
	"github.com/greencycle/apiserver/internal/logging"
	"github.com/greencycle/apiserver/internal/mq"
	"github.com/greencycle/apiserver/internal/services"
	"github.com/greencycle/apiserver/internal/storage"
	"github.com/greencycle/apiserver/internal/store"
)

const pruneInterval = 10 * time.Minute

// Server wraps the HTTP server, router and the collaborators it owns.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	logger     *slog.Logger
	db         *sql.DB
	publisher  mq.Publisher
	janitor    *janitor
}

// Dependencies are the services the router exposes.
type Dependencies struct {
	Accounts *services.AccountService
	Catalog  *services.CatalogService
	HTTP     config.HTTPConfig
	Logger   *slog.Logger
}

// NewRouter builds the HTTP routes and middleware stack.
func NewRouter(deps Dependencies) *chi.Mux {
	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		handlers.PeerAddr,
		middleware.RealIP,
		handlers.RequestLogger(deps.Logger),
		middleware.Recoverer,
		handlers.CORS(deps.HTTP.AllowedOrigins),
		middleware.Timeout(requestTimeout(deps.HTTP)),
	)

	var limit func(http.Handler) http.Handler
	if deps.HTTP.RateLimitPerMinute > 0 {
		// config.Validate has already rejected malformed entries.
		trusted, _ := deps.HTTP.TrustedProxyPrefixes()
		limit = handlers.NewRateLimiter(deps.HTTP.RateLimitPerMinute, trusted...).Middleware
	}

	router.Get("/", handlers.Index)
	router.Get("/healthz", handlers.Healthz)
	handlers.AuthRouter(router, deps.Accounts, deps.Logger, limit)
	handlers.CatalogRouter(router, deps.Catalog, deps.Logger)
	return router
}

// New wires storage, token services, delivery and the catalog according to
// cfg and returns a server ready to Start.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	repos, err := openRepositories(ctx, cfg)
	if err != nil {
		return nil, err
	}

	srv := &Server{logger: logger, db: repos.db}
	fail := func(err error) (*Server, error) {
		_ = srv.close()
		return nil, err
	}

	sessions, err := services.NewSessionTokenService(services.SessionConfig{
		Secret: cfg.Auth.JWTSecret,
		Issuer: cfg.Auth.JWTIssuer,
		TTL:    cfg.Auth.SessionTokenTTL,
	}, repos.revoked)
	if err != nil {
		return fail(err)
	}
	resets := services.NewPasswordResetTokenService(repos.resets, services.ResetConfig{
		TTL: cfg.Auth.ResetTokenTTL,
	})

	var delivery services.ResetDelivery
	publisher, err := mq.Open(ctx, cfg.MQ)
	if err != nil {
		return fail(fmt.Errorf("connect message broker: %w", err))
	}
	if publisher != nil {
		srv.publisher = publisher
		resetPublisher, err := mq.NewResetPublisher(publisher, cfg.MQ.ResetChannel, logger)
		if err != nil {
			return fail(err)
		}
		delivery = resetPublisher
	}

	accounts, err := services.NewAccountService(services.AccountDependencies{
		Validator:         services.NewEmailValidator(),
		Credentials:       services.NewCredentialStore(repos.users, cfg.Auth.BcryptCost),
		Sessions:          sessions,
		Resets:            resets,
		Delivery:          delivery,
		Logger:            logger,
		PasswordMinLength: cfg.Auth.PasswordMinLength,
	})
	if err != nil {
		return fail(err)
	}

	objects, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return fail(fmt.Errorf("open object storage: %w", err))
	}
	var reader services.CatalogReader
	if objects != nil {
		reader = objects
	}
	catalog := services.NewCatalogService(reader, cfg.Storage.CatalogPrefix, logger)
	if err := catalog.Reload(ctx); err != nil {
		logging.LogError(ctx, logger, "catalog load failed, serving built-in catalog", err)
	}

	srv.router = NewRouter(Dependencies{
		Accounts: accounts,
		Catalog:  catalog,
		HTTP:     cfg.HTTP,
		Logger:   logger,
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}
	srv.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      srv.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: requestTimeout(cfg.HTTP) + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	srv.janitor = newJanitor(logger, pruneInterval, resets.PruneExpired, repos.revokedPruner())
	return srv, nil
}

func requestTimeout(cfg config.HTTPConfig) time.Duration {
	if cfg.RequestTimeout <= 0 {
		return 60 * time.Second
	}
	return cfg.RequestTimeout
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Addr is the address the server listens on.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.janitor.start()
	s.logger.Info("server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, waits for in-flight ones until ctx is
// done, then releases the database and broker.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	return errors.Join(err, s.close())
}

func (s *Server) close() error {
	var errs []error
	if s.janitor != nil {
		s.janitor.stop()
	}
	if s.publisher != nil {
		errs = append(errs, s.publisher.Close())
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	return errors.Join(errs...)
}

type revocationStore interface {
	services.RevocationList
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type repositories struct {
	db      *sql.DB
	users   services.UserRepository
	resets  services.ResetTokenRepository
	revoked revocationStore
}

func (r repositories) revokedPruner() func(context.Context) (int64, error) {
	return func(ctx context.Context) (int64, error) {
		return r.revoked.DeleteExpired(ctx, time.Now())
	}
}

func openRepositories(ctx context.Context, cfg config.Config) (repositories, error) {
	switch cfg.StoreBackend {
	case config.StoreBackendMemory:
		return repositories{
			users:   store.NewMemoryUserRepository(),
			resets:  store.NewMemoryResetTokenRepository(),
			revoked: store.NewMemoryRevocationRepository(),
		}, nil
	case config.StoreBackendPostgres:
		conn, err := db.Open(ctx, cfg)
		if err != nil {
			return repositories{}, fmt.Errorf("open database: %w", err)
		}
		return repositories{
			db:      conn,
			users:   store.NewUserRepository(conn),
			resets:  store.NewResetTokenRepository(conn),
			revoked: store.NewRevocationRepository(conn),
		}, nil
	default:
		return repositories{}, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// janitor periodically deletes expired reset tokens and revocations.
type janitor struct {
	logger   *slog.Logger
	interval time.Duration
	tasks    map[string]func(context.Context) (int64, error)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func newJanitor(logger *slog.Logger, interval time.Duration, resets, revoked func(context.Context) (int64, error)) *janitor {
	return &janitor{
		logger:   logger,
		interval: interval,
		tasks: map[string]func(context.Context) (int64, error){
			"reset_tokens":   resets,
			"revoked_tokens": revoked,
		},
	}
}

func (j *janitor) start() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	j.cancel = cancel
	j.done = make(chan struct{})
	go j.run(ctx, j.done)
}

func (j *janitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *janitor) sweep(ctx context.Context) {
	for name, task := range j.tasks {
		removed, err := task(ctx)
		if err != nil {
			logging.LogError(ctx, j.logger, "prune failed", err)
			continue
		}
		if removed > 0 {
			j.logger.DebugContext(ctx, "pruned expired rows", "table", name, "removed", removed)
		}
	}
}

func (j *janitor) stop() {
	j.mu.Lock()
	cancel, done := j.cancel, j.done
	j.cancel = nil
	j.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
