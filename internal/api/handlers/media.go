// media.go — обработчики каталога для пользователей:
// список с решениями о доступе, карточка медиа, превью и оригинал.
package handlers

import (
	"context"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/goartstore/paywall-module/internal/api/errors"
	"github.com/bigkaa/goartstore/paywall-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/paywall-module/internal/domain/model"
	"github.com/bigkaa/goartstore/paywall-module/internal/service"
)

// CatalogReader — чтение каталога.
type CatalogReader interface {
	Get(ctx context.Context, id string) (*model.MediaItem, error)
	ListForUser(ctx context.Context, userID string, limit, offset int) (*service.LibraryPage, error)
}

// AccessChecker — вычисление доступа пользователя к медиа.
type AccessChecker interface {
	Resolve(ctx context.Context, userID, mediaID string) (service.Decision, error)
}

// AssetServer — выдача файлов медиа.
type AssetServer interface {
	ServeOriginal(ctx context.Context, userID, mediaID string) (*service.Asset, error)
	ServePreview(ctx context.Context, mediaID string) (*service.Asset, error)
}

// MediaHandler — обработчики /api/v1/media.
type MediaHandler struct {
	catalog  CatalogReader
	access   AccessChecker
	delivery AssetServer
	currency string
	logger   *slog.Logger
}

// NewMediaHandler создаёт обработчик каталога.
func NewMediaHandler(catalog CatalogReader, access AccessChecker, delivery AssetServer, currency string, logger *slog.Logger) *MediaHandler {
	return &MediaHandler{
		catalog:  catalog,
		access:   access,
		delivery: delivery,
		currency: currency,
		logger:   logger.With(slog.String("component", "media_handler")),
	}
}

// mediaResponse — элемент каталога в ответе API.
type mediaResponse struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	MediaType   string    `json:"media_type"`
	Price       string    `json:"price"`
	Currency    string    `json:"currency"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
	HasAccess   bool      `json:"has_access"`
	IsOwner     bool      `json:"is_owner"`
	Reason      string    `json:"reason"`
	PreviewURL  string    `json:"preview_url"`
	OriginalURL string    `json:"original_url,omitempty"`
}

type mediaListResponse struct {
	Items  []mediaResponse `json:"items"`
	Total  int             `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

type accessResponse struct {
	MediaID         string `json:"media_id"`
	CanViewPreview  bool   `json:"can_view_preview"`
	CanViewOriginal bool   `json:"can_view_original"`
	Reason          string `json:"reason"`
}

func (h *MediaHandler) toMediaResponse(item service.LibraryItem) mediaResponse {
	m := item.Media
	return mediaResponse{
		ID:          m.ID,
		Title:       m.Title,
		Description: m.Description,
		MediaType:   string(m.MediaType),
		Price:       m.Price.StringFixed(2),
		Currency:    h.currency,
		Size:        m.Size,
		CreatedAt:   m.CreatedAt,
		HasAccess:   item.HasAccess,
		IsOwner:     item.IsOwner,
		Reason:      string(item.Reason),
		PreviewURL:  item.PreviewURL,
		OriginalURL: item.OriginalURL,
	}
}

// List — GET /api/v1/media.
func (h *MediaHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := paginationParams(r)
	if err != nil {
		apierrors.ValidationError(w, "Некорректные параметры пагинации: "+err.Error())
		return
	}
	userID := middleware.SubjectFromContext(r.Context())

	page, err := h.catalog.ListForUser(r.Context(), userID, limit, offset)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	resp := mediaListResponse{
		Items:  make([]mediaResponse, 0, len(page.Items)),
		Total:  page.Total,
		Limit:  limit,
		Offset: offset,
	}
	for _, item := range page.Items {
		resp.Items = append(resp.Items, h.toMediaResponse(item))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get — GET /api/v1/media/{id}.
func (h *MediaHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	userID := middleware.SubjectFromContext(r.Context())

	m, err := h.catalog.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	decision, err := h.access.Resolve(r.Context(), userID, id)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toMediaResponse(service.NewLibraryItem(m, decision)))
}

// Access — GET /api/v1/media/{id}/access.
func (h *MediaHandler) Access(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	decision, err := h.access.Resolve(r.Context(), middleware.SubjectFromContext(r.Context()), id)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, accessResponse{
		MediaID:         id,
		CanViewPreview:  decision.CanViewPreview,
		CanViewOriginal: decision.CanViewOriginal,
		Reason:          string(decision.Reason),
	})
}

// Preview — GET /api/v1/media/{id}/preview.
func (h *MediaHandler) Preview(w http.ResponseWriter, r *http.Request) {
	asset, err := h.delivery.ServePreview(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	serveAsset(w, r, asset, "inline")
}

// Original — GET /api/v1/media/{id}/original.
func (h *MediaHandler) Original(w http.ResponseWriter, r *http.Request) {
	userID := middleware.SubjectFromContext(r.Context())
	asset, err := h.delivery.ServeOriginal(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	serveAsset(w, r, asset, "attachment")
}

// serveAsset отдаёт файл с поддержкой Range и условных запросов.
func serveAsset(w http.ResponseWriter, r *http.Request, asset *service.Asset, disposition string) {
	defer asset.File.Close()

	w.Header().Set("Content-Type", asset.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType(disposition, map[string]string{
		"filename": asset.Filename,
	}))
	w.Header().Set("Cache-Control", "private, no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	http.ServeContent(w, r, "", asset.ModTime, asset.File)
}
