package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/authgate/apiserver/config"
	"github.com/authgate/apiserver/internal/csrf"
	"github.com/authgate/apiserver/internal/handlers"
	"github.com/authgate/apiserver/internal/httpx"
	"github.com/authgate/apiserver/internal/logging"
	"github.com/authgate/apiserver/internal/mailer"
	"github.com/authgate/apiserver/internal/policy"
	"github.com/authgate/apiserver/internal/ratelimit"
	"github.com/authgate/apiserver/internal/services"
	"github.com/authgate/apiserver/internal/session"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	ghandlers "github.com/gorilla/handlers"
)

const requestTimeout = 30 * time.Second

// Deps are the backends a Server runs on.
type Deps struct {
	Users      services.UserRepository
	RateLimits ratelimit.Store
	Mailer     mailer.Mailer
	Logger     logging.Logger
	AccessLog  io.Writer
	Pingers    map[string]handlers.Pinger
	// BcryptCost overrides bcrypt.DefaultCost when non-zero.
	BcryptCost int

	closers []func() error
}

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	logger     logging.Logger
	closers    []func() error
}

// New connects the backends selected by cfg and builds the server on them.
func New(ctx context.Context, cfg config.Config, logger logging.Logger) (*Server, error) {
	deps, err := openDeps(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	srv, err := NewWithDeps(cfg, deps)
	if err != nil {
		closeAll(deps.closers)
		return nil, err
	}
	return srv, nil
}

// NewWithDeps builds the server on already constructed backends.
func NewWithDeps(cfg config.Config, deps Deps) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	if deps.AccessLog == nil {
		deps.AccessLog = os.Stdout
	}

	identity, err := ratelimit.NewClientIdentity(cfg.RateLimit.TrustProxy, cfg.RateLimit.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	limiter := ratelimit.NewLimiter(deps.RateLimits, cfg.RateLimit.Window, cfg.RateLimit.Max, deps.Logger.With("component", "ratelimit"))

	guard := csrf.New(csrf.Options{CookieName: cfg.CSRF.CookieName, Secure: cfg.IsProduction()})
	sessions := session.NewIssuer(cfg.SessionSecret(), cfg.Session.TTL)

	authService := services.NewAuthService(deps.Users, sessions, deps.Mailer, deps.Logger.With("component", "auth"), services.AuthConfig{
		ClientURL:     cfg.ClientURL,
		ResetTokenTTL: cfg.ResetTokenTTL,
		BcryptCost:    deps.BcryptCost,
	})
	authHandler := handlers.NewAuthHandler(authService, handlers.CookieOptions{
		Name:   cfg.Session.CookieName,
		Secure: cfg.IsProduction(),
	}, deps.Logger)
	requireAuth := handlers.RequireAuth(authService, cfg.Session.CookieName)

	router := chi.NewRouter()
	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Respond(w, httpx.NotFound("not found"))
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.Fail(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	router.Use(
		middleware.RequestID,
		recoverer(deps.Logger),
		accessLog(deps.AccessLog),
		policy.SecureHeaders(cfg.IsProduction()),
		policy.CORS(cfg.CORS.AllowedOrigins),
		middleware.Timeout(requestTimeout),
	)

	router.Get("/healthz", handlers.Healthz(deps.Pingers))
	router.Route("/api", func(r chi.Router) {
		r.Use(limiter.Middleware(identity.Key), guard.Protect)

		r.Get("/csrf-token", handlers.CSRFToken(guard, deps.Logger))
		r.Route("/auth", func(r chi.Router) {
			handlers.AuthRouter(r, authHandler)
		})
		r.Route("/private", func(r chi.Router) {
			handlers.PrivateRouter(r, handlers.NewPrivateHandler(authService), requireAuth)
		})
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 5000
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      requestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		logger:     deps.Logger,
		closers:    deps.closers,
	}, nil
}

// Router exposes the chi router.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Addr is the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start runs the HTTP server until Shutdown. It never returns
// http.ErrServerClosed.
func (s *Server) Start() error {
	s.logger.Info(context.Background(), "server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, then releases the backends.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	closeAll(s.closers)
	return err
}

func accessLog(w io.Writer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return ghandlers.CombinedLoggingHandler(w, next)
	}
}

// recoverer turns a panic into the generic 500 envelope.
func recoverer(logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Error(r.Context(), "panic serving request",
						"panic", fmt.Sprint(rec),
						"path", r.URL.Path,
						"request_id", middleware.GetReqID(r.Context()),
					)
					httpx.Fail(w, http.StatusInternalServerError, httpx.GenericServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func closeAll(closers []func() error) {
	for i := len(closers) - 1; i >= 0; i-- {
		_ = closers[i]()
	}
}
