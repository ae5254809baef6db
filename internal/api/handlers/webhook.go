// webhook.go — приём событий платёжного провайдера.
// Подпись проверяется до разбора тела. После проверки подписи ответ
// всегда 200: внутренние ошибки логируются, незавершённые платежи
// подбирает фоновая сверка.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	apierrors "github.com/bigkaa/goartstore/paywall-module/internal/api/errors"
	"github.com/bigkaa/goartstore/paywall-module/internal/domain/model"
	"github.com/bigkaa/goartstore/paywall-module/internal/payment"
	"github.com/bigkaa/goartstore/paywall-module/internal/service"
)

// maxWebhookBody — предельный размер тела события.
const maxWebhookBody = 64 << 10

// Типы событий провайдера.
const (
	eventPaymentSucceeded = "payment.succeeded"
	eventPaymentFailed    = "payment.failed"
)

// EventReconciler — применение событий провайдера.
type EventReconciler interface {
	Reconcile(ctx context.Context, ev service.Event) (*service.Ack, error)
}

// WebhookHandler — обработчик POST /api/v1/webhooks/payments.
type WebhookHandler struct {
	reconciler EventReconciler
	secret     string
	tolerance  time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

// NewWebhookHandler создаёт обработчик webhook.
func NewWebhookHandler(reconciler EventReconciler, secret string, tolerance time.Duration, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		reconciler: reconciler,
		secret:     secret,
		tolerance:  tolerance,
		now:        time.Now,
		logger:     logger.With(slog.String("component", "webhook_handler")),
	}
}

// webhookEvent — тело события провайдера.
type webhookEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		PaymentID string `json:"payment_id"`
		Reason    string `json:"reason"`
	} `json:"data"`
}

type webhookResponse struct {
	Received      bool   `json:"received"`
	Status        string `json:"status"`
	PaymentID     string `json:"payment_id,omitempty"`
	PaymentStatus string `json:"payment_status,omitempty"`
}

// Статусы ответа, не связанные с применением события.
const (
	webhookIgnored = "ignored"
	webhookError   = "error"
)

// Payments — POST /api/v1/webhooks/payments.
func (h *WebhookHandler) Payments(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apierrors.PayloadTooLarge(w, "Слишком большое тело события")
			return
		}
		apierrors.ValidationError(w, "Ошибка чтения тела запроса")
		return
	}

	if err := payment.VerifySignature(h.secret, r.Header.Get(payment.SignatureHeader), body, h.now(), h.tolerance); err != nil {
		h.logger.Warn("Webhook отклонён: неверная подпись",
			slog.String("error", err.Error()),
			slog.String("remote_addr", r.RemoteAddr),
		)
		apierrors.WriteError(w, http.StatusBadRequest, apierrors.CodeInvalidSignature, "Неверная подпись события")
		return
	}

	var ev webhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		h.logger.Warn("Webhook: некорректный JSON", slog.String("error", err.Error()))
		writeJSON(w, http.StatusOK, webhookResponse{Received: true, Status: webhookIgnored})
		return
	}

	var outcome model.PaymentOutcome
	switch ev.Type {
	case eventPaymentSucceeded:
		outcome = model.OutcomeSucceeded
	case eventPaymentFailed:
		outcome = model.OutcomeFailed
	default:
		h.logger.Debug("Webhook: тип события не обрабатывается",
			slog.String("event_id", ev.ID),
			slog.String("type", ev.Type),
		)
		writeJSON(w, http.StatusOK, webhookResponse{Received: true, Status: webhookIgnored})
		return
	}

	log := h.logger.With(
		slog.String("event_id", ev.ID),
		slog.String("type", ev.Type),
		slog.String("payment_id", ev.Data.PaymentID),
	)

	ack, err := h.reconciler.Reconcile(r.Context(), service.Event{
		ProviderEventID: ev.ID,
		PaymentID:       ev.Data.PaymentID,
		Outcome:         outcome,
		Reason:          ev.Data.Reason,
	})
	if err != nil {
		status := webhookError
		switch {
		case errors.Is(err, service.ErrNotFound):
			log.Warn("Webhook: платёж не найден")
			status = webhookIgnored
		case errors.Is(err, service.ErrValidation):
			log.Warn("Webhook: некорректное событие", slog.String("error", err.Error()))
			status = webhookIgnored
		default:
			log.Error("Webhook: ошибка применения события", slog.String("error", err.Error()))
		}
		writeJSON(w, http.StatusOK, webhookResponse{
			Received:  true,
			Status:    status,
			PaymentID: ev.Data.PaymentID,
		})
		return
	}

	log.Info("Webhook обработан", slog.String("ack", string(ack.Status)))
	writeJSON(w, http.StatusOK, webhookResponse{
		Received:      true,
		Status:        string(ack.Status),
		PaymentID:     ack.PaymentID,
		PaymentStatus: string(ack.PaymentStatus),
	})
}
