package model

import "time"

// Результаты обработки события webhook.
const (
	// WebhookResultReceived — событие записано, обработка не завершена
	WebhookResultReceived = "received"
	// WebhookResultApplied — событие изменило статус платежа
	WebhookResultApplied = "applied"
	// WebhookResultAlreadyTerminal — платёж уже был в конечном статусе
	WebhookResultAlreadyTerminal = "already_terminal"
)

// WebhookEvent — запись журнала событий провайдера.
// Хранится в таблице webhook_events, уникально по provider_event_id.
type WebhookEvent struct {
	// ProviderEventID — идентификатор события у провайдера
	ProviderEventID string
	// PaymentID — UUID платежа
	PaymentID string
	// Outcome — результат списания
	Outcome PaymentOutcome
	// Result — результат обработки
	Result string
	// ReceivedAt — время получения
	ReceivedAt time.Time
}
