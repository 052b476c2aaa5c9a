// Package server sets up the HTTP server, router, and all route definitions.
//
// This is the composition root: New opens the database, brings the schema up
// to date, then assembles repositories, services and handlers. No listener
// exists until migrations have completed.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/snippet-vault/internal/auth"
	"github.com/sakif/snippet-vault/internal/config"
	"github.com/sakif/snippet-vault/internal/handler"
	"github.com/sakif/snippet-vault/internal/middleware"
	"github.com/sakif/snippet-vault/internal/migrate"
	sqliteRepo "github.com/sakif/snippet-vault/internal/repository/sqlite"
	"github.com/sakif/snippet-vault/internal/service"
)

const shutdownTimeout = 30 * time.Second

// Server represents the HTTP server and all its dependencies.
// The Server owns the database and closes it when Start returns.
type Server struct {
	router *chi.Mux
	config *config.Config
	logger *slog.Logger
	db     *sqliteRepo.DB

	now       func() time.Time
	passwords *auth.PasswordService
}

// Option customizes a Server before it is wired.
type Option func(*Server)

// WithClock replaces the clock used to evaluate share expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithPasswordService replaces the bcrypt service (tests use a low cost).
func WithPasswordService(p *auth.PasswordService) Option {
	return func(s *Server) { s.passwords = p }
}

// New opens the database, runs migrations and wires the router.
// A migration failure closes the database and is returned unchanged, so
// callers can match it with errors.Is(err, apperror.ErrMigration).
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Server, error) {
	db, err := OpenDatabase(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	s := &Server{
		router:    chi.NewRouter(),
		config:    cfg,
		logger:    logger,
		db:        db,
		now:       time.Now,
		passwords: auth.NewPasswordService(),
	}
	for _, opt := range opts {
		opt(s)
	}

	runner := migrate.New(db.Conn(), migrate.Options{
		AdminUsername: cfg.AdminUsername,
		AdminPassword: cfg.AdminPassword,
		Passwords:     s.passwords,
	}, logger)
	if err := runner.Run(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	if err := s.setupRoutes(); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	return s, nil
}

// OpenDatabase opens the SQLite database at path, creating its parent
// directory first for file-backed databases.
func OpenDatabase(path string) (*sqliteRepo.DB, error) {
	if path != sqliteRepo.MemoryPath {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
		}
	}

	db, err := sqliteRepo.New(path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// GET    /healthz                    → liveness
// POST   /auth/register              → create account, returns token
// POST   /auth/login                 → returns token
// GET    /api/me                     → current user            [auth]
// GET    /snippets                   → list own snippets       [auth]
// POST   /snippets                   → create snippet          [auth]
// GET    /snippets/{id}              → one own snippet         [auth]
// PUT    /snippets/{id}              → replace snippet         [auth]
// DELETE /snippets/{id}              → delete snippet          [auth]
// POST   /share                      → create share            [auth]
// GET    /share/{id}                 → resolve share           [optional auth]
// GET    /share/snippet/{snippetId}  → list a snippet's shares [auth]
// DELETE /share/{id}                 → revoke share            [auth]
//
// Middleware runs in the order it is added: RequestID first so the logger
// can read it, Recoverer last so panics are logged as 500s.
func (s *Server) setupRoutes() error {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)

	tokens, err := auth.NewTokenService(s.config.JWTSecret, s.config.TokenTTL)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}

	// s.db implements every repository interface.
	authService := service.NewAuthService(s.db, tokens, s.passwords, s.logger)
	snippetService := service.NewSnippetService(s.db, s.logger)
	shareService := service.NewShareService(s.db, s.logger).WithClock(s.now)

	authHandler := handler.NewAuthHandler(authService, s.logger)
	snippetHandler := handler.NewSnippetHandler(snippetService, s.logger)
	shareHandler := handler.NewShareHandler(shareService, s.config.BasePath, s.logger)

	requireAuth := auth.RequireAuth(tokens)

	s.router.Get("/healthz", handler.HandleHealth)

	s.router.Route("/auth", func(r chi.Router) {
		r.Post("/register", authHandler.HandleRegister)
		r.Post("/login", authHandler.HandleLogin)
	})

	s.router.With(requireAuth).Get("/api/me", authHandler.HandleMe)

	s.router.Route("/snippets", func(r chi.Router) {
		r.Use(requireAuth)
		r.Get("/", snippetHandler.HandleList)
		r.Post("/", snippetHandler.HandleCreate)
		r.Get("/{id}", snippetHandler.HandleGet)
		r.Put("/{id}", snippetHandler.HandleUpdate)
		r.Delete("/{id}", snippetHandler.HandleDelete)
	})

	s.router.Route("/share", func(r chi.Router) {
		// Resolving is the one share route open to anonymous callers; the
		// share itself decides whether a token is needed.
		r.With(auth.OptionalAuth(tokens)).Get("/{id}", shareHandler.HandleResolve)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Post("/", shareHandler.HandleCreate)
			r.Get("/snippet/{snippetId}", shareHandler.HandleListBySnippet)
			r.Delete("/{id}", shareHandler.HandleDelete)
		})
	})

	return nil
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the database. Start calls it on the way out.
func (s *Server) Close() error {
	return s.db.Close()
}

// Start serves HTTP until SIGINT/SIGTERM, then shuts down gracefully:
// stop accepting connections, let in-flight requests finish, close the
// database.
func (s *Server) Start() error {
	defer s.db.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("database", s.config.DBPath),
			slog.String("base_path", s.config.BasePath),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
