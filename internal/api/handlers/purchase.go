// purchase.go — обработчики покупки медиа:
// синхронная покупка и отложенный поток со страницей оплаты.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	apierrors "github.com/bigkaa/goartstore/paywall-module/internal/api/errors"
	"github.com/bigkaa/goartstore/paywall-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/paywall-module/internal/domain/model"
	"github.com/bigkaa/goartstore/paywall-module/internal/service"
)

// maxPurchaseBody — предельный размер тела запроса покупки.
const maxPurchaseBody = 4 << 10

// Purchaser — оркестратор покупки.
type Purchaser interface {
	Purchase(ctx context.Context, req service.PurchaseRequest) (*service.PurchaseResult, error)
	Initiate(ctx context.Context, req service.PurchaseRequest) (*service.PurchaseResult, error)
}

// PurchaseHandler — обработчики /api/v1/media/{id}/purchase и /checkout.
type PurchaseHandler struct {
	purchases Purchaser
	logger    *slog.Logger
}

// NewPurchaseHandler создаёт обработчик покупки.
func NewPurchaseHandler(purchases Purchaser, logger *slog.Logger) *PurchaseHandler {
	return &PurchaseHandler{
		purchases: purchases,
		logger:    logger.With(slog.String("component", "purchase_handler")),
	}
}

// purchaseRequest — тело запроса покупки. Тело необязательно.
type purchaseRequest struct {
	// Amount — ожидаемая клиентом цена, строка с десятичным числом
	Amount string `json:"amount" validate:"omitempty,numeric,max=20"`
}

type purchaseResponse struct {
	PaymentID   string     `json:"payment_id"`
	MediaID     string     `json:"media_id"`
	Status      string     `json:"status"`
	Amount      string     `json:"amount"`
	Currency    string     `json:"currency"`
	ProviderRef string     `json:"provider_ref,omitempty"`
	CheckoutURL string     `json:"checkout_url,omitempty"`
	UnlockedAt  *time.Time `json:"unlocked_at,omitempty"`
}

// Purchase — POST /api/v1/media/{id}/purchase.
// 200 — доступ открыт, 202 — провайдер подтвердит платёж позже.
func (h *PurchaseHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, h.purchases.Purchase)
}

// Checkout — POST /api/v1/media/{id}/checkout.
// Всегда 202: результат придёт через webhook провайдера.
func (h *PurchaseHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, h.purchases.Initiate)
}

func (h *PurchaseHandler) handle(
	w http.ResponseWriter,
	r *http.Request,
	run func(context.Context, service.PurchaseRequest) (*service.PurchaseResult, error),
) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	result, err := run(r.Context(), req)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	status := http.StatusAccepted
	if result.Status == model.PaymentCompleted {
		status = http.StatusOK
	}
	writeJSON(w, status, purchaseResponse{
		PaymentID:   result.PaymentID,
		MediaID:     result.MediaID,
		Status:      string(result.Status),
		Amount:      result.Amount.StringFixed(2),
		Currency:    result.Currency,
		ProviderRef: result.ProviderRef,
		CheckoutURL: result.CheckoutURL,
		UnlockedAt:  result.UnlockedAt,
	})
}

// decodeRequest разбирает необязательное тело запроса покупки.
func (h *PurchaseHandler) decodeRequest(w http.ResponseWriter, r *http.Request) (service.PurchaseRequest, bool) {
	req := service.PurchaseRequest{
		UserID:  middleware.SubjectFromContext(r.Context()),
		MediaID: chi.URLParam(r, "id"),
	}

	var body purchaseRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPurchaseBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apierrors.PayloadTooLarge(w, "Слишком большое тело запроса")
			return req, false
		}
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return req, false
	}
	if msg := validateStruct(&body); msg != "" {
		apierrors.ValidationError(w, msg)
		return req, false
	}

	if body.Amount != "" {
		amount, err := decimal.NewFromString(body.Amount)
		if err != nil {
			apierrors.ValidationError(w, "amount: ожидается число")
			return req, false
		}
		req.Amount = &amount
	}
	return req, true
}
