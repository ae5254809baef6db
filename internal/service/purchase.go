// purchase.go — оркестрация покупки доступа к оригиналу.
//
// Синхронный поток (Purchase):
//  1. Проверка: медиа существует, сумма соответствует политике цены
//  2. Повторная покупка: доступ уже есть → ErrAlreadyUnlocked
//  3. Резерв: pending-платёж (уникальный индекс допускает один открытый платёж на пару)
//  4. Списание у провайдера (не прерывается отключением клиента)
//  5. Завершение через Ledger — тот же переход, что у webhook
//
// Отложенный поток (Initiate) выполняет шаги 1-3 и создаёт платёж у провайдера;
// результат приходит через webhook или находится reconciliation sweep.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"

	"github.com/bigkaa/goartstore/paywall-module/internal/config"
	"github.com/bigkaa/goartstore/paywall-module/internal/domain/model"
	"github.com/bigkaa/goartstore/paywall-module/internal/payment"
	"github.com/bigkaa/goartstore/paywall-module/internal/repository"
)

// Prometheus-метрики покупок.
var purchasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pw_purchases_total",
	Help: "Количество попыток покупки (по потоку и результату).",
}, []string{"flow", "result"})

// PurchaseRequest — запрос на покупку.
type PurchaseRequest struct {
	// UserID — subject покупателя
	UserID string
	// MediaID — UUID медиа
	MediaID string
	// Amount — сумма, ожидаемая клиентом (nil — не передана)
	Amount *decimal.Decimal
}

// PurchaseResult — результат покупки.
type PurchaseResult struct {
	PaymentID   string
	MediaID     string
	Status      model.PaymentStatus
	Amount      decimal.Decimal
	Currency    string
	ProviderRef string
	// CheckoutURL — страница оплаты (только отложенный поток)
	CheckoutURL string
	// UnlockedAt — время открытия доступа (только completed)
	UnlockedAt *time.Time
}

// PurchaseConfig — параметры оркестратора.
type PurchaseConfig struct {
	// Currency — валюта платежей
	Currency string
	// PricePolicy — strict или catalog
	PricePolicy string
	// ChargeTimeout — таймаут вызова провайдера
	ChargeTimeout time.Duration
}

// PurchaseService — оркестратор покупки.
type PurchaseService struct {
	media    *MediaStore
	access   *AccessResolver
	payments repository.PaymentRepository
	ledger   *Ledger
	gateway  payment.Gateway
	cfg      PurchaseConfig
	logger   *slog.Logger
}

// NewPurchaseService создаёт оркестратор покупки.
func NewPurchaseService(
	media *MediaStore,
	access *AccessResolver,
	payments repository.PaymentRepository,
	ledger *Ledger,
	gateway payment.Gateway,
	cfg PurchaseConfig,
	logger *slog.Logger,
) *PurchaseService {
	return &PurchaseService{
		media:    media,
		access:   access,
		payments: payments,
		ledger:   ledger,
		gateway:  gateway,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "purchase_service")),
	}
}

// Purchase выполняет синхронную покупку.
//
// Ошибки: ErrNotFound, ErrInvalidAmount, ErrAlreadyUnlocked, ErrPurchaseInProgress,
// ErrPaymentFailed, ErrStorageUnavailable. Результат со статусом pending означает,
// что провайдер принял списание, но подтвердит его позже.
func (s *PurchaseService) Purchase(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error) {
	result, err := s.purchase(ctx, req)
	purchasesTotal.WithLabelValues("sync", resultLabel(result, err)).Inc()
	return result, err
}

// Initiate создаёт отложенный платёж.
// Возвращает результат со статусом pending и адресом страницы оплаты.
func (s *PurchaseService) Initiate(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error) {
	result, err := s.initiate(ctx, req)
	purchasesTotal.WithLabelValues("deferred", resultLabel(result, err)).Inc()
	return result, err
}

func (s *PurchaseService) purchase(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error) {
	p, m, err := s.reserve(ctx, req)
	if err != nil {
		return nil, err
	}

	log := s.logger.With(
		slog.String("payment_id", p.ID),
		slog.String("user_id", p.UserID),
		slog.String("media_id", p.MediaID),
	)

	// Списание и фиксация не зависят от отмены запроса клиентом
	detached := context.WithoutCancel(ctx)
	chargeCtx, cancel := context.WithTimeout(detached, s.cfg.ChargeTimeout)
	charge, err := s.gateway.Charge(chargeCtx, s.chargeRequest(p, m))
	cancel()

	if err != nil {
		return nil, s.handleGatewayError(detached, log, p, "списание", err)
	}

	switch charge.Status {
	case payment.StatusSucceeded:
		return s.complete(detached, log, p, charge.ProviderRef)
	case payment.StatusFailed:
		if _, err := s.ledger.Settle(detached, SettleInput{
			PaymentID: p.ID, Outcome: model.OutcomeFailed, Reason: charge.Reason, ProviderRef: charge.ProviderRef,
		}); err != nil {
			log.Error("Не удалось зафиксировать отказ в списании", slog.String("error", err.Error()))
		}
		log.Info("Провайдер отклонил списание", slog.String("reason", charge.Reason))
		return nil, fmt.Errorf("%w: %s", ErrPaymentFailed, charge.Reason)
	default:
		// Провайдер подтвердит списание через webhook
		if charge.ProviderRef != "" {
			if err := s.payments.SetProviderRef(detached, p.ID, charge.ProviderRef); err != nil {
				log.Warn("Не удалось сохранить provider_ref", slog.String("error", err.Error()))
			}
		}
		log.Info("Списание ожидает подтверждения провайдера")
		return pendingResult(p, charge.ProviderRef, ""), nil
	}
}

func (s *PurchaseService) initiate(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error) {
	p, m, err := s.reserve(ctx, req)
	if err != nil {
		return nil, err
	}

	log := s.logger.With(
		slog.String("payment_id", p.ID),
		slog.String("user_id", p.UserID),
		slog.String("media_id", p.MediaID),
	)

	detached := context.WithoutCancel(ctx)
	initCtx, cancel := context.WithTimeout(detached, s.cfg.ChargeTimeout)
	res, err := s.gateway.Initiate(initCtx, s.chargeRequest(p, m))
	cancel()

	if err != nil {
		return nil, s.handleGatewayError(detached, log, p, "создание платежа", err)
	}

	if err := s.payments.SetProviderRef(detached, p.ID, res.ProviderRef); err != nil {
		// Sweep найдёт платёж по id, provider_ref не обязателен
		log.Warn("Не удалось сохранить provider_ref", slog.String("error", err.Error()))
	}

	log.Info("Отложенный платёж создан", slog.String("provider_ref", res.ProviderRef))
	return pendingResult(p, res.ProviderRef, res.CheckoutURL), nil
}

// reserve выполняет проверки и создаёт pending-платёж.
func (s *PurchaseService) reserve(ctx context.Context, req PurchaseRequest) (*model.Payment, *model.MediaItem, error) {
	if req.UserID == "" {
		return nil, nil, fmt.Errorf("%w: не указан пользователь", ErrValidation)
	}

	m, err := s.media.Get(ctx, req.MediaID)
	if err != nil {
		return nil, nil, err
	}

	if req.Amount != nil && !req.Amount.Equal(m.Price) {
		if s.cfg.PricePolicy != config.PricePolicyCatalog {
			return nil, nil, fmt.Errorf("%w: ожидается %s, получено %s",
				ErrInvalidAmount, m.Price.StringFixed(2), req.Amount.String())
		}
		s.logger.Warn("Сумма клиента не совпадает с ценой каталога, используется цена каталога",
			slog.String("media_id", m.ID),
			slog.String("client_amount", req.Amount.String()),
			slog.String("price", m.Price.StringFixed(2)),
		)
	}

	decision, err := s.access.decide(ctx, req.UserID, m)
	if err != nil {
		return nil, nil, err
	}
	if decision.CanViewOriginal {
		return nil, nil, ErrAlreadyUnlocked
	}

	p := &model.Payment{
		ID:       uuid.New().String(),
		UserID:   req.UserID,
		MediaID:  m.ID,
		Amount:   m.Price,
		Currency: s.cfg.Currency,
		Method:   s.gateway.Method(),
	}
	if err := s.payments.CreatePending(ctx, p); err != nil {
		switch {
		case errors.Is(err, repository.ErrConflict):
			return nil, nil, s.conflictError(ctx, req.UserID, m.ID)
		case errors.Is(err, repository.ErrNotFound):
			return nil, nil, ErrNotFound
		default:
			return nil, nil, storageError("создание платежа", err)
		}
	}

	return p, m, nil
}

// conflictError различает уже оплаченную пару и оплату в процессе.
func (s *PurchaseService) conflictError(ctx context.Context, userID, mediaID string) error {
	paid, err := s.payments.HasCompleted(ctx, userID, mediaID)
	if err != nil {
		return storageError("проверка платежа", err)
	}
	if paid {
		return ErrAlreadyUnlocked
	}
	return ErrPurchaseInProgress
}

// complete фиксирует успешное списание.
func (s *PurchaseService) complete(ctx context.Context, log *slog.Logger, p *model.Payment, providerRef string) (*PurchaseResult, error) {
	res, err := s.ledger.Settle(ctx, SettleInput{
		PaymentID: p.ID, Outcome: model.OutcomeSucceeded, ProviderRef: providerRef,
	})
	if err != nil {
		// Средства списаны, платёж остаётся pending — sweep завершит его по статусу провайдера
		log.Error("Списание выполнено, но фиксация не удалась",
			slog.String("provider_ref", providerRef),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	// Платёж мог быть завершён webhook раньше, чем вернулся ответ провайдера
	switch res.Payment.Status {
	case model.PaymentCompleted:
		result := &PurchaseResult{
			PaymentID:   res.Payment.ID,
			MediaID:     res.Payment.MediaID,
			Status:      model.PaymentCompleted,
			Amount:      res.Payment.Amount,
			Currency:    res.Payment.Currency,
			ProviderRef: providerRef,
			UnlockedAt:  res.Payment.CompletedAt,
		}
		if res.Entitlement != nil {
			result.UnlockedAt = res.Entitlement.UnlockedAt
		}
		log.Info("Покупка завершена")
		return result, nil
	default:
		return nil, fmt.Errorf("%w: платёж завершён со статусом %s", ErrPaymentFailed, res.Payment.Status)
	}
}

// handleGatewayError обрабатывает ошибку вызова провайдера.
// Если списание гарантированно не выполнялось — платёж переводится в failed.
// Иначе результат неизвестен: платёж остаётся pending до webhook или sweep.
func (s *PurchaseService) handleGatewayError(ctx context.Context, log *slog.Logger, p *model.Payment, op string, err error) error {
	if errors.Is(err, payment.ErrNotAttempted) {
		if _, settleErr := s.ledger.Settle(ctx, SettleInput{
			PaymentID: p.ID, Outcome: model.OutcomeFailed, Reason: "not_attempted",
		}); settleErr != nil {
			log.Error("Не удалось зафиксировать неудачный платёж", slog.String("error", settleErr.Error()))
		}
		log.Warn("Провайдер не принял платёж", slog.String("operation", op), slog.String("error", err.Error()))
		return fmt.Errorf("%w: провайдер платежей недоступен", ErrPaymentFailed)
	}

	log.Warn("Результат операции у провайдера неизвестен, платёж оставлен в pending",
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
	return fmt.Errorf("%w: результат %s неизвестен", ErrPaymentFailed, op)
}

func (s *PurchaseService) chargeRequest(p *model.Payment, m *model.MediaItem) payment.ChargeRequest {
	return payment.ChargeRequest{
		Reference:   p.ID,
		Amount:      p.Amount,
		Currency:    p.Currency,
		Description: m.Title,
		UserID:      p.UserID,
	}
}

func pendingResult(p *model.Payment, providerRef, checkoutURL string) *PurchaseResult {
	return &PurchaseResult{
		PaymentID:   p.ID,
		MediaID:     p.MediaID,
		Status:      model.PaymentPending,
		Amount:      p.Amount,
		Currency:    p.Currency,
		ProviderRef: providerRef,
		CheckoutURL: checkoutURL,
	}
}

// resultLabel — значение лейбла result для метрик покупок.
func resultLabel(result *PurchaseResult, err error) string {
	switch {
	case err == nil && result != nil:
		return string(result.Status)
	case errors.Is(err, ErrAlreadyUnlocked):
		return "already_unlocked"
	case errors.Is(err, ErrPurchaseInProgress):
		return "in_progress"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrPaymentFailed):
		return "payment_failed"
	default:
		return "error"
	}
}
