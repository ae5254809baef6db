// reporting.go — административные отчёты по продажам.
package service

import (
	"context"

	"github.com/bigkaa/goartstore/paywall-module/internal/domain/model"
	"github.com/bigkaa/goartstore/paywall-module/internal/repository"
)

// DefaultRecentPaymentsLimit — количество платежей в отчёте по умолчанию.
const DefaultRecentPaymentsLimit = 50

// maxRecentPaymentsLimit — верхняя граница размера отчёта.
const maxRecentPaymentsLimit = 500

// ReportingService — отчёты для администратора.
type ReportingService struct {
	payments repository.PaymentRepository
}

// NewReportingService создаёт сервис отчётов.
func NewReportingService(payments repository.PaymentRepository) *ReportingService {
	return &ReportingService{payments: payments}
}

// Stats возвращает агрегированную статистику продаж.
func (s *ReportingService) Stats(ctx context.Context) (*model.SalesTotals, error) {
	totals, err := s.payments.Totals(ctx)
	if err != nil {
		return nil, storageError("статистика продаж", err)
	}
	return totals, nil
}

// ListMediaStats возвращает статистику продаж по элементам каталога.
func (s *ReportingService) ListMediaStats(ctx context.Context) ([]*model.MediaSales, error) {
	sales, err := s.payments.MediaSales(ctx)
	if err != nil {
		return nil, storageError("статистика по медиа", err)
	}
	return sales, nil
}

// ListRecentPayments возвращает последние успешные платежи.
// limit <= 0 — DefaultRecentPaymentsLimit.
func (s *ReportingService) ListRecentPayments(ctx context.Context, limit int) ([]*model.PaymentSummary, error) {
	switch {
	case limit <= 0:
		limit = DefaultRecentPaymentsLimit
	case limit > maxRecentPaymentsLimit:
		limit = maxRecentPaymentsLimit
	}

	payments, err := s.payments.ListRecentCompleted(ctx, limit)
	if err != nil {
		return nil, storageError("список платежей", err)
	}
	return payments, nil
}
