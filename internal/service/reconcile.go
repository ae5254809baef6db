// reconcile.go — применение событий провайдера платежей (webhook).
//
// Событие обрабатывается в одной транзакции:
//  1. Запись provider_event_id (повтор → duplicate)
//  2. Перевод платежа через Ledger (уже конечный → already_terminal)
//  3. Сохранение результата обработки события
//
// Порядок доставки событий не важен: статус платежа — источник истины.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/paywall-module/internal/domain/model"
	"github.com/bigkaa/goartstore/paywall-module/internal/repository"
)

var webhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pw_webhook_events_total",
	Help: "Количество обработанных событий провайдера (по результату).",
}, []string{"result"})

// AckStatus — результат обработки события.
type AckStatus string

const (
	// AckApplied — событие изменило статус платежа
	AckApplied AckStatus = "applied"
	// AckDuplicate — событие уже обрабатывалось
	AckDuplicate AckStatus = "duplicate"
	// AckAlreadyTerminal — платёж уже был в конечном статусе
	AckAlreadyTerminal AckStatus = "already_terminal"
)

// Event — событие провайдера о результате платежа.
type Event struct {
	// ProviderEventID — идентификатор события у провайдера
	ProviderEventID string
	// PaymentID — UUID платежа в журнале
	PaymentID string
	// Outcome — результат списания
	Outcome model.PaymentOutcome
	// Reason — причина отказа (для failed)
	Reason string
}

// Ack — подтверждение обработки события.
type Ack struct {
	Status        AckStatus
	PaymentID     string
	PaymentStatus model.PaymentStatus
}

// Reconciler — обработчик событий провайдера.
type Reconciler struct {
	tx        repository.Transactor
	ledger    *Ledger
	txTimeout time.Duration
	logger    *slog.Logger
}

// NewReconciler создаёт Reconciler.
func NewReconciler(tx repository.Transactor, ledger *Ledger, txTimeout time.Duration, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		tx:        tx,
		ledger:    ledger,
		txTimeout: txTimeout,
		logger:    logger.With(slog.String("component", "reconciler")),
	}
}

// Reconcile применяет событие к журналу платежей.
//
// Ошибки: ErrValidation (пустой id события, неизвестный результат),
// ErrNotFound (платёж не найден, событие не записывается),
// ErrStorageUnavailable.
func (r *Reconciler) Reconcile(ctx context.Context, ev Event) (*Ack, error) {
	ack, err := r.reconcile(ctx, ev)

	label := "error"
	switch {
	case err == nil:
		label = string(ack.Status)
	case errors.Is(err, ErrNotFound):
		label = "unknown_payment"
	case errors.Is(err, ErrValidation):
		label = "invalid"
	}
	webhookEventsTotal.WithLabelValues(label).Inc()

	return ack, err
}

func (r *Reconciler) reconcile(ctx context.Context, ev Event) (*Ack, error) {
	if ev.ProviderEventID == "" {
		return nil, fmt.Errorf("%w: не указан идентификатор события", ErrValidation)
	}
	if !ev.Outcome.Valid() {
		return nil, fmt.Errorf("%w: неизвестный результат платежа %q", ErrValidation, ev.Outcome)
	}
	if !validID(ev.PaymentID) {
		return nil, ErrNotFound
	}

	txCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.txTimeout)
	defer cancel()

	var ack *Ack
	err := r.tx.WithinTx(txCtx, func(repos repository.Repos) error {
		inserted, err := repos.WebhookEvents.Record(txCtx, &model.WebhookEvent{
			ProviderEventID: ev.ProviderEventID,
			PaymentID:       ev.PaymentID,
			Outcome:         ev.Outcome,
		})
		if err != nil {
			return err
		}
		if !inserted {
			ack = &Ack{Status: AckDuplicate, PaymentID: ev.PaymentID}
			return nil
		}

		res, err := r.ledger.settleInTx(txCtx, repos, SettleInput{
			PaymentID: ev.PaymentID,
			Outcome:   ev.Outcome,
			Reason:    ev.Reason,
		})
		if err != nil {
			return err
		}

		result := model.WebhookResultApplied
		status := AckApplied
		if !res.Applied {
			result = model.WebhookResultAlreadyTerminal
			status = AckAlreadyTerminal
		}
		if err := repos.WebhookEvents.MarkResult(txCtx, ev.ProviderEventID, result); err != nil {
			return err
		}

		ack = &Ack{Status: status, PaymentID: res.Payment.ID, PaymentStatus: res.Payment.Status}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, storageError("обработка события", err)
	}

	r.logger.Info("Событие провайдера обработано",
		slog.String("event_id", ev.ProviderEventID),
		slog.String("payment_id", ev.PaymentID),
		slog.String("outcome", string(ev.Outcome)),
		slog.String("result", string(ack.Status)),
	)
	return ack, nil
}
