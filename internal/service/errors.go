// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrNotFound — медиа или платёж не найден.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrForbidden — нет доступа к оригиналу.
	ErrForbidden = errors.New("доступ запрещён")
	// ErrAlreadyUnlocked — у пользователя уже есть доступ к оригиналу.
	ErrAlreadyUnlocked = errors.New("доступ к медиа уже открыт")
	// ErrPurchaseInProgress — для пары пользователь/медиа уже идёт оплата.
	ErrPurchaseInProgress = errors.New("оплата уже выполняется")
	// ErrInvalidAmount — сумма клиента не совпадает с ценой каталога.
	ErrInvalidAmount = errors.New("сумма не совпадает с ценой")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrPaymentFailed — списание не выполнено.
	ErrPaymentFailed = errors.New("оплата не выполнена")
	// ErrStorageUnavailable — хранилище (БД или blob store) недоступно.
	ErrStorageUnavailable = errors.New("хранилище недоступно")
	// ErrAssetMissing — запись медиа есть, а файл в хранилище отсутствует.
	ErrAssetMissing = errors.New("файл медиа отсутствует в хранилище")
)

// storageError оборачивает ошибку хранилища в ErrStorageUnavailable.
func storageError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}

// validID проверяет, что id — корректный UUID.
// Некорректный идентификатор эквивалентен отсутствующему ресурсу.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
