package handlers

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bigkaa/goartstore/paywall-module/internal/service"
)

func TestWriteServiceError(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{fmt.Errorf("%w: title", service.ErrValidation), http.StatusBadRequest, "VALIDATION_ERROR"},
		{service.ErrInvalidAmount, http.StatusBadRequest, "INVALID_AMOUNT"},
		{service.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{service.ErrForbidden, http.StatusForbidden, "FORBIDDEN"},
		{service.ErrAlreadyUnlocked, http.StatusConflict, "ALREADY_UNLOCKED"},
		{service.ErrPurchaseInProgress, http.StatusConflict, "PURCHASE_IN_PROGRESS"},
		{fmt.Errorf("%w: declined", service.ErrPaymentFailed), http.StatusBadGateway, "PAYMENT_FAILED"},
		{fmt.Errorf("x: %w", service.ErrStorageUnavailable), http.StatusInternalServerError, "STORAGE_UNAVAILABLE"},
		{service.ErrAssetMissing, http.StatusInternalServerError, "ASSET_MISSING"},
		{fmt.Errorf("неизвестно"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.wantCode, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeServiceError(rec, testLogger(), tt.err)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, ожидался %d", rec.Code, tt.wantStatus)
			}
			if code := errorCode(t, rec); code != tt.wantCode {
				t.Errorf("code = %q, ожидался %q", code, tt.wantCode)
			}
		})
	}
}

func TestPaginationParams(t *testing.T) {
	tests := []struct {
		query      string
		wantLimit  int
		wantOffset int
		wantErr    bool
	}{
		{"", defaultPageLimit, 0, false},
		{"?limit=10&offset=20", 10, 20, false},
		{"?limit=0", 1, 0, false},
		{"?limit=100000", maxPageLimit, 0, false},
		{"?offset=-5", defaultPageLimit, 0, false},
		{"?limit=abc", 0, 0, true},
	}

	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/media"+tt.query, nil)
		limit, offset, err := paginationParams(r)
		if (err != nil) != tt.wantErr {
			t.Errorf("%q: err = %v, ожидалась ошибка: %v", tt.query, err, tt.wantErr)
			continue
		}
		if limit != tt.wantLimit || offset != tt.wantOffset {
			t.Errorf("%q: limit=%d offset=%d, ожидалось %d/%d", tt.query, limit, offset, tt.wantLimit, tt.wantOffset)
		}
	}
}

func TestValidateStruct(t *testing.T) {
	if msg := validateStruct(&uploadForm{Title: "Sunset", Price: "9.99"}); msg != "" {
		t.Errorf("валидная форма отклонена: %s", msg)
	}
	if msg := validateStruct(&uploadForm{Price: "abc"}); msg != "title: обязательное поле; price: ожидается число" {
		t.Errorf("неожиданное сообщение: %q", msg)
	}
	if msg := validateStruct(&purchaseRequest{Amount: "1e5"}); msg != "amount: ожидается число" {
		t.Errorf("неожиданное сообщение: %q", msg)
	}
}
