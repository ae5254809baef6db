package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus — статус платежа.
//
// Допустимые переходы: pending → completed, pending → failed.
// completed и failed — конечные статусы.
type PaymentStatus string

const (
	// PaymentPending — платёж создан, результат списания неизвестен
	PaymentPending PaymentStatus = "pending"
	// PaymentCompleted — списание подтверждено
	PaymentCompleted PaymentStatus = "completed"
	// PaymentFailed — списание отклонено или истекло
	PaymentFailed PaymentStatus = "failed"
)

// validPaymentTransitions — матрица допустимых переходов статуса платежа.
var validPaymentTransitions = map[PaymentStatus]map[PaymentStatus]bool{
	PaymentPending:   {PaymentCompleted: true, PaymentFailed: true},
	PaymentCompleted: {},
	PaymentFailed:    {},
}

// CanTransitionTo проверяет, допустим ли переход в указанный статус.
func (s PaymentStatus) CanTransitionTo(target PaymentStatus) bool {
	return validPaymentTransitions[s][target]
}

// IsTerminal проверяет, является ли статус конечным.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentCompleted || s == PaymentFailed
}

// PaymentMethod — способ оплаты.
type PaymentMethod string

const (
	// MethodDemo — демо-провайдер
	MethodDemo PaymentMethod = "demo"
	// MethodProvider — внешний провайдер платежей
	MethodProvider PaymentMethod = "provider"
)

// Payment — запись журнала платежей.
// Хранится в таблице payments. Сумма неизменяема после создания.
type Payment struct {
	// ID — UUID платежа
	ID string
	// UserID — subject покупателя
	UserID string
	// MediaID — UUID медиа
	MediaID string
	// Amount — сумма списания (цена каталога на момент покупки)
	Amount decimal.Decimal
	// Currency — код валюты ISO 4217
	Currency string
	// Status — статус (pending, completed, failed)
	Status PaymentStatus
	// Method — способ оплаты (demo, provider)
	Method PaymentMethod
	// ProviderRef — идентификатор операции у провайдера (может быть nil)
	ProviderRef *string
	// FailureReason — причина отказа (может быть nil)
	FailureReason *string
	// CreatedAt — время создания
	CreatedAt time.Time
	// CompletedAt — время подтверждения списания (может быть nil)
	CompletedAt *time.Time
	// UpdatedAt — время последнего изменения статуса
	UpdatedAt time.Time
}

// PaymentOutcome — результат списания, сообщённый провайдером.
type PaymentOutcome string

const (
	// OutcomeSucceeded — списание успешно
	OutcomeSucceeded PaymentOutcome = "succeeded"
	// OutcomeFailed — списание отклонено
	OutcomeFailed PaymentOutcome = "failed"
)

// TargetStatus возвращает статус платежа, соответствующий результату.
func (o PaymentOutcome) TargetStatus() PaymentStatus {
	if o == OutcomeSucceeded {
		return PaymentCompleted
	}
	return PaymentFailed
}

// Valid проверяет, что результат известен.
func (o PaymentOutcome) Valid() bool {
	return o == OutcomeSucceeded || o == OutcomeFailed
}

// PaymentSummary — платёж с названием медиа для административных отчётов.
type PaymentSummary struct {
	Payment
	// MediaTitle — название медиа
	MediaTitle string
}

// SalesTotals — агрегированная статистика продаж.
type SalesTotals struct {
	// TotalMedia — количество элементов каталога
	TotalMedia int
	// TotalPurchases — количество успешных платежей
	TotalPurchases int
	// Revenue — сумма успешных платежей
	Revenue decimal.Decimal
	// Buyers — количество уникальных покупателей
	Buyers int
}

// MediaSales — статистика продаж одного элемента каталога.
type MediaSales struct {
	// MediaID — UUID медиа
	MediaID string
	// Title — название медиа
	Title string
	// Price — текущая цена
	Price decimal.Decimal
	// Purchases — количество успешных платежей
	Purchases int
	// Revenue — сумма успешных платежей
	Revenue decimal.Decimal
}
