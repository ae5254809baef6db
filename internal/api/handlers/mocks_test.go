package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bigkaa/goartstore/paywall-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/paywall-module/internal/domain/model"
	"github.com/bigkaa/goartstore/paywall-module/internal/service"
)

const (
	testMediaID = "5f0c8a52-4d5b-4a8e-9a57-0a3b1c2d3e4f"
	testUserID  = "user-1"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Моки сервисного слоя ---

type mockCatalog struct {
	getFn         func(ctx context.Context, id string) (*model.MediaItem, error)
	listForUserFn func(ctx context.Context, userID string, limit, offset int) (*service.LibraryPage, error)
	uploadFn      func(ctx context.Context, ownerID string, in service.UploadInput) (*model.MediaItem, error)
	deleteFn      func(ctx context.Context, id string) error
}

func (m *mockCatalog) Get(ctx context.Context, id string) (*model.MediaItem, error) {
	return m.getFn(ctx, id)
}

func (m *mockCatalog) ListForUser(ctx context.Context, userID string, limit, offset int) (*service.LibraryPage, error) {
	return m.listForUserFn(ctx, userID, limit, offset)
}

func (m *mockCatalog) Upload(ctx context.Context, ownerID string, in service.UploadInput) (*model.MediaItem, error) {
	return m.uploadFn(ctx, ownerID, in)
}

func (m *mockCatalog) Delete(ctx context.Context, id string) error {
	return m.deleteFn(ctx, id)
}

type mockAccess struct {
	resolveFn func(ctx context.Context, userID, mediaID string) (service.Decision, error)
}

func (m *mockAccess) Resolve(ctx context.Context, userID, mediaID string) (service.Decision, error) {
	return m.resolveFn(ctx, userID, mediaID)
}

type mockDelivery struct {
	originalFn func(ctx context.Context, userID, mediaID string) (*service.Asset, error)
	previewFn  func(ctx context.Context, mediaID string) (*service.Asset, error)
}

func (m *mockDelivery) ServeOriginal(ctx context.Context, userID, mediaID string) (*service.Asset, error) {
	return m.originalFn(ctx, userID, mediaID)
}

func (m *mockDelivery) ServePreview(ctx context.Context, mediaID string) (*service.Asset, error) {
	return m.previewFn(ctx, mediaID)
}

type mockPurchaser struct {
	purchaseFn func(ctx context.Context, req service.PurchaseRequest) (*service.PurchaseResult, error)
	initiateFn func(ctx context.Context, req service.PurchaseRequest) (*service.PurchaseResult, error)
}

func (m *mockPurchaser) Purchase(ctx context.Context, req service.PurchaseRequest) (*service.PurchaseResult, error) {
	return m.purchaseFn(ctx, req)
}

func (m *mockPurchaser) Initiate(ctx context.Context, req service.PurchaseRequest) (*service.PurchaseResult, error) {
	return m.initiateFn(ctx, req)
}

type mockReconciler struct {
	reconcileFn func(ctx context.Context, ev service.Event) (*service.Ack, error)
	calls       int
}

func (m *mockReconciler) Reconcile(ctx context.Context, ev service.Event) (*service.Ack, error) {
	m.calls++
	return m.reconcileFn(ctx, ev)
}

type mockReports struct {
	statsFn      func(ctx context.Context) (*model.SalesTotals, error)
	mediaStatsFn func(ctx context.Context) ([]*model.MediaSales, error)
	recentFn     func(ctx context.Context, limit int) ([]*model.PaymentSummary, error)
}

func (m *mockReports) Stats(ctx context.Context) (*model.SalesTotals, error) {
	return m.statsFn(ctx)
}

func (m *mockReports) ListMediaStats(ctx context.Context) ([]*model.MediaSales, error) {
	return m.mediaStatsFn(ctx)
}

func (m *mockReports) ListRecentPayments(ctx context.Context, limit int) ([]*model.PaymentSummary, error) {
	return m.recentFn(ctx, limit)
}

type mockChecker struct {
	status, message string
}

func (m mockChecker) CheckReady() (string, string) { return m.status, m.message }

// --- Вспомогательные функции ---

// asUser добавляет claims пользователя в контекст запроса.
func asUser(r *http.Request, sub, role string) *http.Request {
	return r.WithContext(middleware.WithClaims(r.Context(), &middleware.AuthClaims{Subject: sub, Role: role}))
}

// errorCode извлекает код ошибки из тела ответа.
func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("тело ответа не JSON: %v (%s)", err, rec.Body.String())
	}
	return body.Error.Code
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("тело ответа не JSON: %v (%s)", err, rec.Body.String())
	}
}
