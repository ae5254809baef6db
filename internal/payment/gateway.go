// Пакет payment — клиенты провайдера платежей (funds transfer)
// и проверка подписи webhook.
//
// Реализации Gateway:
//   - DemoGateway — демо-провайдер, всегда подтверждает списание
//   - HTTPGateway — внешний провайдер через HTTP API
package payment

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/bigkaa/goartstore/paywall-module/internal/domain/model"
)

// ErrNotAttempted — провайдер не принял запрос, списание гарантированно не выполнялось
// (circuit breaker разомкнут, запрос отклонён как некорректный).
var ErrNotAttempted = errors.New("списание не выполнялось")

// Status — состояние операции у провайдера.
type Status string

const (
	// StatusPending — операция ещё не завершена
	StatusPending Status = "pending"
	// StatusSucceeded — средства списаны
	StatusSucceeded Status = "succeeded"
	// StatusFailed — списание отклонено
	StatusFailed Status = "failed"
	// StatusUnknown — провайдер не знает операцию с таким reference
	StatusUnknown Status = "unknown"
)

// ChargeRequest — запрос на списание.
type ChargeRequest struct {
	// Reference — идентификатор платежа в журнале, ключ идемпотентности у провайдера
	Reference string
	// Amount — сумма
	Amount decimal.Decimal
	// Currency — код валюты ISO 4217
	Currency string
	// Description — описание для выписки
	Description string
	// UserID — subject покупателя
	UserID string
}

// ChargeResult — результат синхронного списания.
type ChargeResult struct {
	// Status — succeeded, failed или pending (результат придёт через webhook)
	Status Status
	// ProviderRef — идентификатор операции у провайдера
	ProviderRef string
	// Reason — причина отказа для failed
	Reason string
}

// InitiateResult — результат создания отложенного платежа.
type InitiateResult struct {
	// ProviderRef — идентификатор операции у провайдера
	ProviderRef string
	// CheckoutURL — адрес страницы оплаты (может быть пустым)
	CheckoutURL string
}

// StatusResult — состояние операции у провайдера.
type StatusResult struct {
	Status      Status
	ProviderRef string
	Reason      string
}

// Gateway — провайдер платежей.
type Gateway interface {
	// Name возвращает имя провайдера (для логов и метрик).
	Name() string
	// Method возвращает способ оплаты, записываемый в журнал.
	Method() model.PaymentMethod
	// Charge выполняет синхронное списание.
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	// Initiate создаёт отложенный платёж, результат придёт через webhook.
	Initiate(ctx context.Context, req ChargeRequest) (*InitiateResult, error)
	// Status запрашивает состояние операции по reference.
	Status(ctx context.Context, reference string) (*StatusResult, error)
}
