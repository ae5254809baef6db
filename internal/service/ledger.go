// ledger.go — перевод платежа в конечный статус и выдача доступа.
//
// Единственная точка смены статуса платежа. Используется синхронной покупкой,
// обработкой webhook и reconciliation sweep. Переход pending → completed
// и выдача доступа выполняются в одной транзакции: completed-платёж без
// доступа (и наоборот) не фиксируется.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bigkaa/goartstore/paywall-module/internal/domain/model"
	"github.com/bigkaa/goartstore/paywall-module/internal/repository"
)

// SettleInput — параметры завершения платежа.
type SettleInput struct {
	// PaymentID — UUID платежа
	PaymentID string
	// Outcome — результат списания
	Outcome model.PaymentOutcome
	// Reason — причина отказа (для failed)
	Reason string
	// ProviderRef — идентификатор операции у провайдера (опционально)
	ProviderRef string
}

// SettleResult — результат завершения платежа.
type SettleResult struct {
	// Payment — актуальная запись платежа
	Payment *model.Payment
	// Applied — статус изменён этим вызовом
	Applied bool
	// Entitlement — выданный доступ (только для applied succeeded)
	Entitlement *model.Entitlement
}

// Ledger — завершение платежей.
type Ledger struct {
	tx        repository.Transactor
	txTimeout time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewLedger создаёт Ledger.
// txTimeout — таймаут транзакции смены статуса.
func NewLedger(tx repository.Transactor, txTimeout time.Duration, logger *slog.Logger) *Ledger {
	return &Ledger{
		tx:        tx,
		txTimeout: txTimeout,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "ledger")),
	}
}

// Settle переводит pending-платёж в конечный статус в отдельной транзакции.
// Транзакция не прерывается отменой ctx вызывающего.
// Платёж уже в конечном статусе — Applied=false, состояние не меняется.
func (l *Ledger) Settle(ctx context.Context, in SettleInput) (*SettleResult, error) {
	txCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.txTimeout)
	defer cancel()

	var result *SettleResult
	err := l.tx.WithinTx(txCtx, func(r repository.Repos) error {
		var err error
		result, err = l.settleInTx(txCtx, r, in)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrValidation) {
			return nil, err
		}
		return nil, storageError("завершение платежа", err)
	}
	return result, nil
}

// settleInTx выполняет переход внутри уже открытой транзакции.
func (l *Ledger) settleInTx(ctx context.Context, r repository.Repos, in SettleInput) (*SettleResult, error) {
	if !in.Outcome.Valid() {
		return nil, fmt.Errorf("%w: неизвестный результат платежа %q", ErrValidation, in.Outcome)
	}
	if !validID(in.PaymentID) {
		return nil, ErrNotFound
	}

	at := l.now().UTC()

	var reason *string
	if in.Outcome == model.OutcomeFailed {
		text := in.Reason
		if text == "" {
			text = "declined"
		}
		reason = &text
	}

	p, applied, err := r.Payments.Transition(ctx, in.PaymentID, in.Outcome.TargetStatus(), at, reason)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	result := &SettleResult{Payment: p, Applied: applied}
	if !applied {
		return result, nil
	}

	if in.ProviderRef != "" {
		if err := r.Payments.SetProviderRef(ctx, p.ID, in.ProviderRef); err != nil {
			return nil, err
		}
		ref := in.ProviderRef
		p.ProviderRef = &ref
	}

	if in.Outcome == model.OutcomeSucceeded {
		e, err := r.Entitlements.Grant(ctx, p.UserID, p.MediaID, at)
		if err != nil {
			return nil, err
		}
		result.Entitlement = e
	}

	l.logger.Info("Платёж завершён",
		slog.String("payment_id", p.ID),
		slog.String("user_id", p.UserID),
		slog.String("media_id", p.MediaID),
		slog.String("status", string(p.Status)),
	)
	return result, nil
}
