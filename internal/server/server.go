// Package server собирает HTTP-сервер: маршруты, middleware и graceful shutdown.
//
// Цепочка для каждого запроса:
//
//	RequestID → Recover → Logger → CORS → маршрут
//
// Маршруты владельца счёта идут через Auth (JWT), изменяющие ещё и через
// rate limit. Административные маршруты требуют X-Admin-Key.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/credit-ledger/internal/config"
	"serotonyl.ru/credit-ledger/internal/features/ledger"
	"serotonyl.ru/credit-ledger/internal/features/rewards"
	"serotonyl.ru/credit-ledger/internal/jobs"
	"serotonyl.ru/credit-ledger/internal/server/middleware"
	"serotonyl.ru/credit-ledger/internal/server/respond"
)

// Pinger — проверка доступности хранилища для /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers — обработчики фич, которые сервер раскладывает по маршрутам.
type Handlers struct {
	Ledger  *ledger.Handler
	Rewards *rewards.Handler
	Jobs    *jobs.Handler
	Health  Pinger
}

// Server — HTTP-сервер сервиса.
type Server struct {
	http            *http.Server
	limiter         *middleware.RateLimiter
	shutdownTimeout time.Duration
}

// New создаёт сервер. Слушать начинает Run.
func New(cfg *config.Config, h Handlers) *Server {
	limiter := middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow)

	return &Server{
		http: &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           NewRouter(cfg, h, limiter),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       2 * time.Minute,
		},
		limiter:         limiter,
		shutdownTimeout: cfg.HTTPShutdownTimeout,
	}
}

// NewRouter собирает дерево маршрутов.
func NewRouter(cfg *config.Config, h Handlers, limiter *middleware.RateLimiter) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.Recover)
	r.Use(middleware.Logger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", middleware.AdminKeyHeader},
		MaxAge:         300,
	}))

	r.Get("/health", health(h.Health))

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/credits", func(r chi.Router) {
			r.Use(middleware.Auth([]byte(cfg.JWTSecret)))
			h.Ledger.Routes(r, limiter.Middleware)
		})

		r.Get("/rewards/rules", h.Rewards.ListRules)

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.AdminKey(cfg.AdminKeyHash))
			r.Route("/credits", h.Ledger.AdminRoutes)
			r.Post("/reconcile", h.Jobs.RunReconcile)
			r.Get("/reconcile", h.Jobs.Status)
			r.Post("/rewards/{event}", h.Rewards.Dispatch)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respond.Fail(w, http.StatusNotFound, "маршрут не найден", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respond.Fail(w, http.StatusMethodNotAllowed, "метод не поддерживается", nil)
	})

	return r
}

func health(p Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := p.Ping(ctx); err != nil {
			log.WithError(err).Warn("Health: хранилище недоступно")
			respond.Fail(w, http.StatusServiceUnavailable, "хранилище недоступно", nil)
			return
		}
		respond.OK(w, http.StatusOK, "ok", map[string]string{"status": "ok"})
	}
}

// Run слушает адрес до отмены ctx, затем дожидается текущих запросов
// (не дольше HTTP_SHUTDOWN_TIMEOUT).
func (s *Server) Run(ctx context.Context) error {
	defer s.limiter.Close()

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", s.http.Addr).Info("HTTP-сервер запущен")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer cancel()

	log.Info("HTTP-сервер останавливается...")
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка остановки HTTP-сервера: %w", err)
	}
	log.Info("HTTP-сервер остановлен")
	return nil
}
