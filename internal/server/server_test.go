package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/paywall-module/internal/api/handlers"
	"github.com/bigkaa/goartstore/paywall-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/paywall-module/internal/config"
	"github.com/bigkaa/goartstore/paywall-module/internal/domain/model"
	"github.com/bigkaa/goartstore/paywall-module/internal/service"
)

// stubServices — заглушка сервисного слоя: любой запрос завершается ErrNotFound,
// покупка — pending.
type stubServices struct{}

func (stubServices) Get(context.Context, string) (*model.MediaItem, error) {
	return nil, service.ErrNotFound
}

func (stubServices) ListForUser(context.Context, string, int, int) (*service.LibraryPage, error) {
	return &service.LibraryPage{}, nil
}

func (stubServices) Upload(context.Context, string, service.UploadInput) (*model.MediaItem, error) {
	return nil, service.ErrValidation
}

func (stubServices) Delete(context.Context, string) error { return nil }

func (stubServices) Resolve(context.Context, string, string) (service.Decision, error) {
	return service.Decision{}, service.ErrNotFound
}

func (stubServices) ServeOriginal(context.Context, string, string) (*service.Asset, error) {
	return nil, service.ErrForbidden
}

func (stubServices) ServePreview(context.Context, string) (*service.Asset, error) {
	return nil, service.ErrNotFound
}

func (stubServices) Purchase(_ context.Context, req service.PurchaseRequest) (*service.PurchaseResult, error) {
	return &service.PurchaseResult{MediaID: req.MediaID, Status: model.PaymentPending}, nil
}

func (stubServices) Initiate(_ context.Context, req service.PurchaseRequest) (*service.PurchaseResult, error) {
	return &service.PurchaseResult{MediaID: req.MediaID, Status: model.PaymentPending}, nil
}

func (stubServices) Reconcile(context.Context, service.Event) (*service.Ack, error) {
	return &service.Ack{Status: service.AckDuplicate}, nil
}

func (stubServices) Stats(context.Context) (*model.SalesTotals, error) {
	return &model.SalesTotals{}, nil
}

func (stubServices) ListMediaStats(context.Context) ([]*model.MediaSales, error) { return nil, nil }

func (stubServices) ListRecentPayments(context.Context, int) ([]*model.PaymentSummary, error) {
	return nil, nil
}

type okChecker struct{}

func (okChecker) CheckReady() (string, string) { return "ok", "" }

// headerAuth — тестовая аутентификация: роль берётся из X-Test-Role.
func headerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role := r.Header.Get("X-Test-Role")
		if role == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		ctx := middleware.WithClaims(r.Context(), &middleware.AuthClaims{Subject: "sub-" + role, Role: role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{PurchaseRateLimit: 2, CORSAllowedOrigins: []string{"https://app.test"}}
	s := stubServices{}

	h := Handlers{
		Health:   handlers.NewHealthHandler(okChecker{}, okChecker{}, okChecker{}, nil),
		Media:    handlers.NewMediaHandler(s, s, s, "USD", logger),
		Purchase: handlers.NewPurchaseHandler(s, logger),
		Admin:    handlers.NewAdminHandler(s, s, 1<<20, "USD", logger),
		Webhook:  handlers.NewWebhookHandler(s, "secret", time.Minute, logger),
	}
	return NewRouter(cfg, logger, h, headerAuth)
}

func TestRouter_Access(t *testing.T) {
	router := newTestRouter(t)

	tests := []struct {
		name   string
		method string
		path   string
		role   string
		want   int
	}{
		{"liveness без токена", http.MethodGet, "/health/live", "", http.StatusOK},
		{"readiness без токена", http.MethodGet, "/health/ready", "", http.StatusOK},
		{"метрики без токена", http.MethodGet, "/metrics", "", http.StatusOK},
		{"каталог без токена", http.MethodGet, "/api/v1/media", "", http.StatusUnauthorized},
		{"каталог user", http.MethodGet, "/api/v1/media", middleware.RoleUser, http.StatusOK},
		{"карточка user", http.MethodGet, "/api/v1/media/x", middleware.RoleUser, http.StatusNotFound},
		{"оригинал user", http.MethodGet, "/api/v1/media/x/original", middleware.RoleUser, http.StatusForbidden},
		{"статистика user", http.MethodGet, "/api/v1/admin/stats", middleware.RoleUser, http.StatusForbidden},
		{"статистика admin", http.MethodGet, "/api/v1/admin/stats", middleware.RoleAdmin, http.StatusOK},
		{"каталог admin", http.MethodGet, "/api/v1/media", middleware.RoleAdmin, http.StatusOK},
		{"удаление admin", http.MethodDelete, "/api/v1/admin/media/x", middleware.RoleAdmin, http.StatusNoContent},
		{"webhook без токена и подписи", http.MethodPost, "/api/v1/webhooks/payments", "", http.StatusBadRequest},
		{"неизвестный маршрут", http.MethodGet, "/api/v2/media", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.role != "" {
				req.Header.Set("X-Test-Role", tt.role)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("%s %s: status = %d, ожидался %d (%s)", tt.method, tt.path, rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestRouter_PurchaseRateLimit(t *testing.T) {
	router := newTestRouter(t)

	codes := make([]int, 0, 3)
	for range 3 {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/media/x/purchase", nil)
		req.Header.Set("X-Test-Role", middleware.RoleUser)
		req.RemoteAddr = "198.51.100.7:5000"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	if codes[0] != http.StatusAccepted || codes[1] != http.StatusAccepted || codes[2] != http.StatusTooManyRequests {
		t.Errorf("коды ответов = %v, ожидалось [202 202 429]", codes)
	}
}

func TestRouter_CORSPreflight(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/media", nil)
	req.Header.Set("Origin", "https://app.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.test" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}
