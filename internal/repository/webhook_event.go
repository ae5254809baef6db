package repository

import (
	"context"
	"fmt"

	"github.com/bigkaa/goartstore/paywall-module/internal/domain/model"
)

// WebhookEventRepository — журнал событий провайдера (таблица webhook_events).
type WebhookEventRepository interface {
	// Record сохраняет событие. inserted=false — событие с таким ID уже было.
	Record(ctx context.Context, e *model.WebhookEvent) (inserted bool, err error)
	// MarkResult сохраняет результат обработки события.
	MarkResult(ctx context.Context, providerEventID, result string) error
}

// webhookEventRepo — реализация WebhookEventRepository.
type webhookEventRepo struct {
	db DBTX
}

// NewWebhookEventRepository создаёт репозиторий журнала событий.
func NewWebhookEventRepository(db DBTX) WebhookEventRepository {
	return &webhookEventRepo{db: db}
}

func (r *webhookEventRepo) Record(ctx context.Context, e *model.WebhookEvent) (bool, error) {
	if e.Result == "" {
		e.Result = model.WebhookResultReceived
	}

	query := `
		INSERT INTO webhook_events (provider_event_id, payment_id, outcome, result)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider_event_id) DO NOTHING`

	tag, err := r.db.Exec(ctx, query, e.ProviderEventID, e.PaymentID, string(e.Outcome), e.Result)
	if err != nil {
		return false, fmt.Errorf("ошибка записи события webhook: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *webhookEventRepo) MarkResult(ctx context.Context, providerEventID, result string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE webhook_events SET result = $2 WHERE provider_event_id = $1`,
		providerEventID, result,
	)
	if err != nil {
		return fmt.Errorf("ошибка обновления события webhook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
