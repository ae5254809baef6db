// admin.go — административные обработчики: загрузка и удаление медиа,
// статистика продаж, последние платежи.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	"github.com/shopspring/decimal"

	apierrors "github.com/bigkaa/goartstore/paywall-module/internal/api/errors"
	"github.com/bigkaa/goartstore/paywall-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/paywall-module/internal/domain/model"
	"github.com/bigkaa/goartstore/paywall-module/internal/service"
)

// multipartMemory — часть multipart-формы, хранимая в памяти.
const multipartMemory = 8 << 20

// CatalogWriter — изменение каталога.
type CatalogWriter interface {
	Upload(ctx context.Context, ownerID string, in service.UploadInput) (*model.MediaItem, error)
	Delete(ctx context.Context, id string) error
}

// Reports — отчёты о продажах.
type Reports interface {
	Stats(ctx context.Context) (*model.SalesTotals, error)
	ListMediaStats(ctx context.Context) ([]*model.MediaSales, error)
	ListRecentPayments(ctx context.Context, limit int) ([]*model.PaymentSummary, error)
}

// AdminHandler — обработчики /api/v1/admin.
type AdminHandler struct {
	catalog       CatalogWriter
	reports       Reports
	maxUploadSize int64
	currency      string
	logger        *slog.Logger
}

// NewAdminHandler создаёт административный обработчик.
func NewAdminHandler(catalog CatalogWriter, reports Reports, maxUploadSize int64, currency string, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		catalog:       catalog,
		reports:       reports,
		maxUploadSize: maxUploadSize,
		currency:      currency,
		logger:        logger.With(slog.String("component", "admin_handler")),
	}
}

// uploadForm — текстовые поля формы загрузки.
type uploadForm struct {
	Title       string `form:"title" validate:"required,max=200"`
	Description string `form:"description" validate:"max=2000"`
	Price       string `form:"price" validate:"omitempty,numeric,max=20"`
}

type uploadResponse struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	MediaType  string    `json:"media_type"`
	Price      string    `json:"price"`
	Currency   string    `json:"currency"`
	Size       int64     `json:"size"`
	CreatedAt  time.Time `json:"created_at"`
	PreviewURL string    `json:"preview_url"`
}

type statsResponse struct {
	TotalMedia     int                  `json:"total_media"`
	TotalPurchases int                  `json:"total_purchases"`
	Revenue        string               `json:"revenue"`
	Buyers         int                  `json:"buyers"`
	Currency       string               `json:"currency"`
	Media          []mediaStatsResponse `json:"media"`
}

type mediaStatsResponse struct {
	MediaID   string `json:"media_id"`
	Title     string `json:"title"`
	Price     string `json:"price"`
	Purchases int    `json:"purchases"`
	Revenue   string `json:"revenue"`
}

type paymentResponse struct {
	PaymentID   string     `json:"payment_id"`
	UserID      string     `json:"user_id"`
	MediaID     string     `json:"media_id"`
	MediaTitle  string     `json:"media_title"`
	Amount      string     `json:"amount"`
	Currency    string     `json:"currency"`
	Method      string     `json:"method"`
	Status      string     `json:"status"`
	ProviderRef *string    `json:"provider_ref,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type paymentListResponse struct {
	Items []paymentResponse `json:"items"`
}

// Upload — POST /api/v1/admin/media (multipart/form-data).
// Поля: file (обязательно), title, description, price.
func (h *AdminHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > h.maxUploadSize {
		apierrors.PayloadTooLarge(w, "Превышен максимальный размер файла")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apierrors.PayloadTooLarge(w, "Превышен максимальный размер файла")
			return
		}
		apierrors.ValidationError(w, "Некорректная multipart-форма: "+err.Error())
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	form := uploadForm{
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
		Price:       r.FormValue("price"),
	}
	if msg := validateStruct(&form); msg != "" {
		apierrors.ValidationError(w, msg)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		apierrors.ValidationError(w, "file: обязательное поле")
		return
	}
	defer file.Close()

	in := service.UploadInput{
		Title:       form.Title,
		Description: form.Description,
		Filename:    header.Filename,
		Body:        file,
	}
	if form.Price != "" {
		price, err := decimal.NewFromString(form.Price)
		if err != nil {
			apierrors.ValidationError(w, "price: ожидается число")
			return
		}
		in.Price = &price
	}

	m, err := h.catalog.Upload(r.Context(), middleware.SubjectFromContext(r.Context()), in)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, uploadResponse{
		ID:         m.ID,
		Title:      m.Title,
		MediaType:  string(m.MediaType),
		Price:      m.Price.StringFixed(2),
		Currency:   h.currency,
		Size:       m.Size,
		CreatedAt:  m.CreatedAt,
		PreviewURL: service.PreviewURL(m.ID),
	})
}

// Delete — DELETE /api/v1/admin/media/{id}.
func (h *AdminHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Stats — GET /api/v1/admin/stats.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	totals, err := h.reports.Stats(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	sales, err := h.reports.ListMediaStats(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	resp := statsResponse{
		TotalMedia:     totals.TotalMedia,
		TotalPurchases: totals.TotalPurchases,
		Revenue:        totals.Revenue.StringFixed(2),
		Buyers:         totals.Buyers,
		Currency:       h.currency,
		Media:          make([]mediaStatsResponse, 0, len(sales)),
	}
	for _, s := range sales {
		resp.Media = append(resp.Media, mediaStatsResponse{
			MediaID:   s.MediaID,
			Title:     s.Title,
			Price:     s.Price.StringFixed(2),
			Purchases: s.Purchases,
			Revenue:   s.Revenue.StringFixed(2),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// Payments — GET /api/v1/admin/payments?limit=N.
func (h *AdminHandler) Payments(w http.ResponseWriter, r *http.Request) {
	// 0 — значение по умолчанию сервиса отчётов
	limit := 0
	err := runtime.BindQueryParameter("form", true, false, "limit", r.URL.Query(), &limit)
	if err != nil || limit < 0 {
		apierrors.ValidationError(w, "limit: ожидается положительное целое число")
		return
	}

	payments, err := h.reports.ListRecentPayments(r.Context(), limit)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	resp := paymentListResponse{Items: make([]paymentResponse, 0, len(payments))}
	for _, p := range payments {
		resp.Items = append(resp.Items, paymentResponse{
			PaymentID:   p.ID,
			UserID:      p.UserID,
			MediaID:     p.MediaID,
			MediaTitle:  p.MediaTitle,
			Amount:      p.Amount.StringFixed(2),
			Currency:    p.Currency,
			Method:      string(p.Method),
			Status:      string(p.Status),
			ProviderRef: p.ProviderRef,
			CreatedAt:   p.CreatedAt,
			CompletedAt: p.CompletedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
