// Пакет server — HTTP-сервер Paywall Module с graceful shutdown.
// Без TLS — HTTP внутри кластера, TLS termination на API Gateway.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	apierrors "github.com/bigkaa/goartstore/paywall-module/internal/api/errors"
	"github.com/bigkaa/goartstore/paywall-module/internal/api/handlers"
	"github.com/bigkaa/goartstore/paywall-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/paywall-module/internal/config"
)

// Handlers — набор обработчиков API.
type Handlers struct {
	Health   *handlers.HealthHandler
	Media    *handlers.MediaHandler
	Purchase *handlers.PurchaseHandler
	Admin    *handlers.AdminHandler
	Webhook  *handlers.WebhookHandler
}

// Server — HTTP-сервер Paywall Module.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер с настроенными маршрутами и middleware.
// auth — middleware аутентификации для /api/v1 (кроме webhook).
func New(cfg *config.Config, logger *slog.Logger, h Handlers, auth func(http.Handler) http.Handler) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewRouter(cfg, logger, h, auth),
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// NewRouter собирает маршруты API.
//
//	/health/*, /metrics          — без аутентификации
//	/api/v1/webhooks/payments    — подпись провайдера
//	/api/v1/media/*              — роль user
//	/api/v1/admin/*              — роль admin
func NewRouter(cfg *config.Config, logger *slog.Logger, h Handlers, auth func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.MetricsMiddleware())
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSAllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		apierrors.NotFound(w, "Маршрут не найден")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		apierrors.WriteError(w, http.StatusMethodNotAllowed, apierrors.CodeValidationError, "Метод не поддерживается")
	})

	r.Get("/health/live", h.Health.HealthLive)
	r.Get("/health/ready", h.Health.HealthReady)
	r.Get("/metrics", h.Health.GetMetrics)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/webhooks/payments", h.Webhook.Payments)

		r.Group(func(r chi.Router) {
			r.Use(auth)

			r.Route("/media", func(r chi.Router) {
				r.Use(middleware.RequireRole(middleware.RoleUser))

				r.Get("/", h.Media.List)
				r.Get("/{id}", h.Media.Get)
				r.Get("/{id}/access", h.Media.Access)
				r.Get("/{id}/preview", h.Media.Preview)
				r.Get("/{id}/original", h.Media.Original)

				r.Group(func(r chi.Router) {
					r.Use(purchaseRateLimit(cfg.PurchaseRateLimit))
					r.Post("/{id}/purchase", h.Purchase.Purchase)
					r.Post("/{id}/checkout", h.Purchase.Checkout)
				})
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RequireRole(middleware.RoleAdmin))

				r.Post("/media", h.Admin.Upload)
				r.Delete("/media/{id}", h.Admin.Delete)
				r.Get("/stats", h.Admin.Stats)
				r.Get("/payments", h.Admin.Payments)
			})
		})
	})

	return r
}

// purchaseRateLimit ограничивает количество покупок с одного IP в минуту.
func purchaseRateLimit(perMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		perMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
			apierrors.RateLimited(w, "Слишком много попыток покупки, повторите позже")
		}),
	)
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
