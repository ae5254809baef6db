// sweep.go — фоновая сверка зависших pending-платежей с провайдером.
//
// Платёж остаётся pending, если результат списания неизвестен
// (таймаут провайдера, сбой фиксации, потерянный webhook).
// Sweep периодически запрашивает состояние у провайдера:
//   - succeeded → завершение с выдачей доступа
//   - failed → отказ
//   - pending/unknown старше ExpireAfter → отказ с причиной expired
//
// Запускается как горутина с периодическим тикером (PW_SWEEP_INTERVAL).
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/paywall-module/internal/domain/model"
	"github.com/bigkaa/goartstore/paywall-module/internal/payment"
	"github.com/bigkaa/goartstore/paywall-module/internal/repository"
)

// Prometheus метрики sweep
var (
	sweepRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pw_sweep_runs_total",
		Help: "Общее количество запусков сверки платежей",
	})

	sweepPaymentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pw_sweep_payments_total",
		Help: "Платежи, обработанные сверкой (по результату)",
	}, []string{"result"})

	sweepDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pw_sweep_duration_seconds",
		Help:    "Длительность сверки платежей в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// SweepConfig — параметры сверки.
type SweepConfig struct {
	// Interval — период запуска
	Interval time.Duration
	// PendingAge — минимальный возраст pending-платежа для сверки
	PendingAge time.Duration
	// ExpireAfter — возраст, после которого незавершённый платёж отклоняется
	ExpireAfter time.Duration
	// BatchSize — платежей за один запуск
	BatchSize int
	// StatusTimeout — таймаут запроса состояния у провайдера
	StatusTimeout time.Duration
}

// SweepResult — результат одного запуска сверки.
type SweepResult struct {
	// Checked — проверено платежей
	Checked int
	// Completed — завершено успешно
	Completed int
	// Failed — отклонено провайдером
	Failed int
	// Expired — отклонено по возрасту
	Expired int
	// Errors — ошибки обработки
	Errors int
	// Duration — длительность
	Duration time.Duration
}

// SweepService — сверка pending-платежей.
type SweepService struct {
	payments repository.PaymentRepository
	ledger   *Ledger
	gateway  payment.Gateway
	cfg      SweepConfig
	now      func() time.Time
	logger   *slog.Logger

	mu     sync.Mutex // защита от параллельного запуска RunOnce
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweepService создаёт сервис сверки.
func NewSweepService(
	payments repository.PaymentRepository,
	ledger *Ledger,
	gateway payment.Gateway,
	cfg SweepConfig,
	logger *slog.Logger,
) *SweepService {
	return &SweepService{
		payments: payments,
		ledger:   ledger,
		gateway:  gateway,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "sweep")),
	}
}

// Start запускает фоновую горутину сверки.
func (s *SweepService) Start(ctx context.Context) {
	sweepCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(sweepCtx)

	s.logger.Info("Сверка платежей запущена",
		slog.String("interval", s.cfg.Interval.String()),
		slog.String("pending_age", s.cfg.PendingAge.String()),
		slog.String("expire_after", s.cfg.ExpireAfter.String()),
	)
}

// Stop останавливает сверку и ждёт завершения текущего запуска.
func (s *SweepService) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	s.logger.Info("Сверка платежей остановлена")
}

func (s *SweepService) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один цикл сверки.
func (s *SweepService) RunOnce(ctx context.Context) *SweepResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	sweepRunsTotal.Inc()
	result := &SweepResult{}

	now := s.now()
	stale, err := s.payments.ListStalePending(ctx, now.Add(-s.cfg.PendingAge), s.cfg.BatchSize)
	if err != nil {
		s.logger.Error("Ошибка получения зависших платежей", slog.String("error", err.Error()))
		result.Errors++
		return s.finish(result, start)
	}

	for _, p := range stale {
		if ctx.Err() != nil {
			break
		}
		result.Checked++
		s.check(ctx, p, now, result)
	}

	return s.finish(result, start)
}

// check сверяет один платёж с провайдером.
func (s *SweepService) check(ctx context.Context, p *model.Payment, now time.Time, result *SweepResult) {
	log := s.logger.With(slog.String("payment_id", p.ID))

	statusCtx, cancel := context.WithTimeout(ctx, s.cfg.StatusTimeout)
	status, err := s.gateway.Status(statusCtx, p.ID)
	cancel()

	var in *SettleInput
	switch {
	case err != nil:
		log.Warn("Не удалось получить состояние платежа у провайдера", slog.String("error", err.Error()))
		if now.Sub(p.CreatedAt) < s.cfg.ExpireAfter {
			result.Errors++
			sweepPaymentsTotal.WithLabelValues("error").Inc()
			return
		}
		in = &SettleInput{PaymentID: p.ID, Outcome: model.OutcomeFailed, Reason: "expired"}
	case status.Status == payment.StatusSucceeded:
		in = &SettleInput{PaymentID: p.ID, Outcome: model.OutcomeSucceeded, ProviderRef: status.ProviderRef}
	case status.Status == payment.StatusFailed:
		in = &SettleInput{PaymentID: p.ID, Outcome: model.OutcomeFailed, Reason: status.Reason, ProviderRef: status.ProviderRef}
	case now.Sub(p.CreatedAt) >= s.cfg.ExpireAfter:
		in = &SettleInput{PaymentID: p.ID, Outcome: model.OutcomeFailed, Reason: "expired"}
	default:
		sweepPaymentsTotal.WithLabelValues("pending").Inc()
		return
	}

	res, err := s.ledger.Settle(ctx, *in)
	if err != nil {
		log.Error("Ошибка завершения платежа при сверке", slog.String("error", err.Error()))
		result.Errors++
		sweepPaymentsTotal.WithLabelValues("error").Inc()
		return
	}
	if !res.Applied {
		// Платёж завершён webhook или покупкой между выборкой и сверкой
		sweepPaymentsTotal.WithLabelValues("already_terminal").Inc()
		return
	}

	label := "completed"
	switch {
	case in.Outcome == model.OutcomeSucceeded:
		result.Completed++
	case in.Reason == "expired":
		result.Expired++
		label = "expired"
	default:
		result.Failed++
		label = "failed"
	}
	sweepPaymentsTotal.WithLabelValues(label).Inc()
	log.Info("Платёж завершён сверкой", slog.String("result", label))
}

func (s *SweepService) finish(result *SweepResult, start time.Time) *SweepResult {
	result.Duration = time.Since(start)
	sweepDurationSeconds.Observe(result.Duration.Seconds())

	if result.Checked > 0 || result.Errors > 0 {
		s.logger.Info("Сверка платежей завершена",
			slog.Int("checked", result.Checked),
			slog.Int("completed", result.Completed),
			slog.Int("failed", result.Failed),
			slog.Int("expired", result.Expired),
			slog.Int("errors", result.Errors),
			slog.String("duration", result.Duration.String()),
		)
	}
	return result
}
