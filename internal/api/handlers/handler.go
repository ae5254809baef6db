// handler.go — общие функции обработчиков API Paywall Module:
// JSON-ответы, пагинация, отображение ошибок сервисного слоя в HTTP.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/oapi-codegen/runtime"

	apierrors "github.com/bigkaa/goartstore/paywall-module/internal/api/errors"
	"github.com/bigkaa/goartstore/paywall-module/internal/service"
)

// Параметры пагинации каталога.
const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeServiceError отображает ошибку сервисного слоя в HTTP-ответ.
// Детали отказа в доступе не раскрываются. Внутренние ошибки логируются.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, service.ErrInvalidAmount):
		apierrors.WriteError(w, http.StatusBadRequest, apierrors.CodeInvalidAmount, err.Error())
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, "Медиа не найдено")
	case errors.Is(err, service.ErrForbidden):
		apierrors.Forbidden(w, "Доступ запрещён")
	case errors.Is(err, service.ErrAlreadyUnlocked):
		apierrors.WriteError(w, http.StatusConflict, apierrors.CodeAlreadyUnlocked, "Доступ к медиа уже открыт")
	case errors.Is(err, service.ErrPurchaseInProgress):
		apierrors.WriteError(w, http.StatusConflict, apierrors.CodePurchaseInProgress, "Оплата уже выполняется")
	case errors.Is(err, service.ErrPaymentFailed):
		apierrors.WriteError(w, http.StatusBadGateway, apierrors.CodePaymentFailed, err.Error())
	case errors.Is(err, service.ErrAssetMissing):
		logger.Error("Файл медиа отсутствует", slog.String("error", err.Error()))
		apierrors.WriteError(w, http.StatusInternalServerError, apierrors.CodeAssetMissing, "Файл медиа недоступен")
	case errors.Is(err, service.ErrStorageUnavailable):
		logger.Error("Хранилище недоступно", slog.String("error", err.Error()))
		apierrors.WriteError(w, http.StatusInternalServerError, apierrors.CodeStorageUnavailable, "Хранилище временно недоступно")
	default:
		logger.Error("Необработанная ошибка", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
	}
}

// paginationParams читает limit и offset из query-параметров.
// Отсутствующие значения заменяются значениями по умолчанию,
// limit ограничивается диапазоном [1, maxPageLimit].
func paginationParams(r *http.Request) (limit, offset int, err error) {
	limit = defaultPageLimit
	query := r.URL.Query()
	if err := runtime.BindQueryParameter("form", true, false, "limit", query, &limit); err != nil {
		return 0, 0, fmt.Errorf("limit: %w", err)
	}
	if err := runtime.BindQueryParameter("form", true, false, "offset", query, &offset); err != nil {
		return 0, 0, fmt.Errorf("offset: %w", err)
	}
	return min(max(limit, 1), maxPageLimit), max(offset, 0), nil
}
