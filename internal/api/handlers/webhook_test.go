package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/paywall-module/internal/domain/model"
	"github.com/bigkaa/goartstore/paywall-module/internal/payment"
	"github.com/bigkaa/goartstore/paywall-module/internal/service"
)

const testWebhookSecret = "whsec_test"

func newTestWebhookHandler(rec *mockReconciler) *WebhookHandler {
	return NewWebhookHandler(rec, testWebhookSecret, 5*time.Minute, testLogger())
}

func signedWebhook(body string, at time.Time, secret string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments", strings.NewReader(body))
	req.Header.Set(payment.SignatureHeader, payment.Sign(secret, []byte(body), at))
	return req
}

func TestWebhookHandler_Applied(t *testing.T) {
	var got service.Event
	reconciler := &mockReconciler{
		reconcileFn: func(_ context.Context, ev service.Event) (*service.Ack, error) {
			got = ev
			return &service.Ack{Status: service.AckApplied, PaymentID: ev.PaymentID, PaymentStatus: model.PaymentCompleted}, nil
		},
	}
	h := newTestWebhookHandler(reconciler)

	body := `{"id":"evt_1","type":"payment.succeeded","data":{"payment_id":"pay-1"}}`
	rec := httptest.NewRecorder()
	h.Payments(rec, signedWebhook(body, time.Now(), testWebhookSecret))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if got.ProviderEventID != "evt_1" || got.PaymentID != "pay-1" || got.Outcome != model.OutcomeSucceeded {
		t.Errorf("событие: %+v", got)
	}
	var resp webhookResponse
	decodeBody(t, rec, &resp)
	if !resp.Received || resp.Status != "applied" || resp.PaymentStatus != "completed" {
		t.Errorf("ответ: %+v", resp)
	}
}

func TestWebhookHandler_FailedOutcome(t *testing.T) {
	var got service.Event
	reconciler := &mockReconciler{
		reconcileFn: func(_ context.Context, ev service.Event) (*service.Ack, error) {
			got = ev
			return &service.Ack{Status: service.AckAlreadyTerminal, PaymentID: ev.PaymentID, PaymentStatus: model.PaymentCompleted}, nil
		},
	}
	h := newTestWebhookHandler(reconciler)

	body := `{"id":"evt_2","type":"payment.failed","data":{"payment_id":"pay-1","reason":"card_declined"}}`
	rec := httptest.NewRecorder()
	h.Payments(rec, signedWebhook(body, time.Now(), testWebhookSecret))

	if got.Outcome != model.OutcomeFailed || got.Reason != "card_declined" {
		t.Errorf("событие: %+v", got)
	}
	var resp webhookResponse
	decodeBody(t, rec, &resp)
	if resp.Status != "already_terminal" {
		t.Errorf("status = %q", resp.Status)
	}
}

func TestWebhookHandler_BadSignature(t *testing.T) {
	reconciler := &mockReconciler{}
	h := newTestWebhookHandler(reconciler)
	body := `{"id":"evt_1","type":"payment.succeeded","data":{"payment_id":"pay-1"}}`

	tests := []struct {
		name string
		req  *http.Request
	}{
		{"чужой секрет", signedWebhook(body, time.Now(), "other")},
		{"просроченная подпись", signedWebhook(body, time.Now().Add(-time.Hour), testWebhookSecret)},
		{"без заголовка", httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments", strings.NewReader(body))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Payments(rec, tt.req)
			if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "INVALID_SIGNATURE" {
				t.Errorf("status = %d, тело %s", rec.Code, rec.Body.String())
			}
		})
	}

	// Подпись от другого тела
	req := signedWebhook(body, time.Now(), testWebhookSecret)
	req.Body = http.NoBody
	rec := httptest.NewRecorder()
	h.Payments(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("подмена тела: status = %d", rec.Code)
	}

	if reconciler.calls != 0 {
		t.Errorf("reconciler вызван %d раз при неверной подписи", reconciler.calls)
	}
}

func TestWebhookHandler_AlwaysAcks(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus string
		wantCalls  int
	}{
		{"неизвестный тип", `{"id":"evt_3","type":"charge.refunded","data":{}}`, nil, "ignored", 0},
		{"некорректный JSON", `not json`, nil, "ignored", 0},
		{"платёж не найден", `{"id":"evt_4","type":"payment.succeeded","data":{"payment_id":"missing"}}`, service.ErrNotFound, "ignored", 1},
		{"пустой id события", `{"id":"","type":"payment.succeeded","data":{"payment_id":"pay-1"}}`, service.ErrValidation, "ignored", 1},
		{"хранилище недоступно", `{"id":"evt_5","type":"payment.succeeded","data":{"payment_id":"pay-1"}}`, fmt.Errorf("tx: %w", service.ErrStorageUnavailable), "error", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reconciler := &mockReconciler{
				reconcileFn: func(context.Context, service.Event) (*service.Ack, error) {
					return nil, tt.err
				},
			}
			h := newTestWebhookHandler(reconciler)

			rec := httptest.NewRecorder()
			h.Payments(rec, signedWebhook(tt.body, time.Now(), testWebhookSecret))

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, ожидался 200", rec.Code)
			}
			var resp webhookResponse
			decodeBody(t, rec, &resp)
			if !resp.Received || resp.Status != tt.wantStatus {
				t.Errorf("ответ: %+v", resp)
			}
			if reconciler.calls != tt.wantCalls {
				t.Errorf("вызовов reconciler = %d, ожидалось %d", reconciler.calls, tt.wantCalls)
			}
		})
	}
}
