package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/paywall-module/internal/domain/model"
)

// PaymentRepository — интерфейс журнала платежей (таблица payments).
// Ни один метод не изменяет сумму платежа после вставки.
type PaymentRepository interface {
	// CreatePending создаёт платёж в статусе pending.
	// ErrConflict — для пары (user, media) уже есть pending или completed платёж.
	CreatePending(ctx context.Context, p *model.Payment) error
	// GetByID возвращает платёж по UUID.
	GetByID(ctx context.Context, id string) (*model.Payment, error)
	// FindOpen возвращает pending или completed платёж пары (user, media).
	FindOpen(ctx context.Context, userID, mediaID string) (*model.Payment, error)
	// HasCompleted проверяет наличие успешного платежа пары (user, media).
	HasCompleted(ctx context.Context, userID, mediaID string) (bool, error)
	// CompletedMediaIDs возвращает подмножество mediaIDs с успешными платежами пользователя.
	CompletedMediaIDs(ctx context.Context, userID string, mediaIDs []string) (map[string]bool, error)
	// SetProviderRef сохраняет идентификатор операции у провайдера.
	SetProviderRef(ctx context.Context, id, providerRef string) error
	// Transition переводит pending-платёж в конечный статус.
	// Возвращает актуальную запись и applied=false, если платёж уже не pending.
	Transition(ctx context.Context, id string, to model.PaymentStatus, at time.Time, reason *string) (*model.Payment, bool, error)
	// ListStalePending возвращает pending-платежи, созданные раньше olderThan.
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*model.Payment, error)
	// ListRecentCompleted возвращает последние успешные платежи.
	ListRecentCompleted(ctx context.Context, limit int) ([]*model.PaymentSummary, error)
	// Totals возвращает агрегированную статистику продаж.
	Totals(ctx context.Context) (*model.SalesTotals, error)
	// MediaSales возвращает статистику продаж по каждому элементу каталога.
	MediaSales(ctx context.Context) ([]*model.MediaSales, error)
}

const paymentColumns = `id, user_id, media_id, amount, currency, status, payment_method,
	provider_ref, failure_reason, created_at, completed_at, updated_at`

// paymentRepo — реализация PaymentRepository.
type paymentRepo struct {
	db DBTX
}

// NewPaymentRepository создаёт репозиторий журнала платежей.
func NewPaymentRepository(db DBTX) PaymentRepository {
	return &paymentRepo{db: db}
}

func scanPayment(row pgx.Row) (*model.Payment, error) {
	p := &model.Payment{}
	err := row.Scan(
		&p.ID, &p.UserID, &p.MediaID, &p.Amount, &p.Currency, &p.Status, &p.Method,
		&p.ProviderRef, &p.FailureReason, &p.CreatedAt, &p.CompletedAt, &p.UpdatedAt,
	)
	return p, err
}

func (r *paymentRepo) CreatePending(ctx context.Context, p *model.Payment) error {
	query := `
		INSERT INTO payments (id, user_id, media_id, amount, currency, status, payment_method, provider_ref)
		VALUES ($1, $2, $3, $4, $5, 'pending', $6, $7)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		p.ID, p.UserID, p.MediaID, p.Amount, p.Currency, p.Method, p.ProviderRef,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: для пары пользователь/медиа уже есть открытый платёж", ErrConflict)
		}
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка создания платежа: %w", err)
	}
	p.Status = model.PaymentPending
	return nil
}

func (r *paymentRepo) GetByID(ctx context.Context, id string) (*model.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`

	p, err := scanPayment(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения платежа: %w", err)
	}
	return p, nil
}

func (r *paymentRepo) FindOpen(ctx context.Context, userID, mediaID string) (*model.Payment, error) {
	query := `SELECT ` + paymentColumns + `
		FROM payments
		WHERE user_id = $1 AND media_id = $2 AND status IN ('pending', 'completed')`

	p, err := scanPayment(r.db.QueryRow(ctx, query, userID, mediaID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка поиска открытого платежа: %w", err)
	}
	return p, nil
}

func (r *paymentRepo) HasCompleted(ctx context.Context, userID, mediaID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM payments
			WHERE user_id = $1 AND media_id = $2 AND status = 'completed'
		)`

	var exists bool
	if err := r.db.QueryRow(ctx, query, userID, mediaID).Scan(&exists); err != nil {
		return false, fmt.Errorf("ошибка проверки успешного платежа: %w", err)
	}
	return exists, nil
}

func (r *paymentRepo) CompletedMediaIDs(ctx context.Context, userID string, mediaIDs []string) (map[string]bool, error) {
	if len(mediaIDs) == 0 {
		return map[string]bool{}, nil
	}

	query := `
		SELECT DISTINCT media_id::text
		FROM payments
		WHERE user_id = $1 AND media_id = ANY($2::uuid[]) AND status = 'completed'`

	rows, err := r.db.Query(ctx, query, userID, mediaIDs)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения оплаченных медиа: %w", err)
	}
	return idSet(rows)
}

func (r *paymentRepo) SetProviderRef(ctx context.Context, id, providerRef string) error {
	query := `
		UPDATE payments
		SET provider_ref = $2, updated_at = NOW()
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, providerRef)
	if err != nil {
		return fmt.Errorf("ошибка сохранения provider_ref: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *paymentRepo) Transition(
	ctx context.Context, id string, to model.PaymentStatus, at time.Time, reason *string,
) (*model.Payment, bool, error) {
	if !model.PaymentPending.CanTransitionTo(to) {
		return nil, false, fmt.Errorf("недопустимый переход платежа: pending → %s", to)
	}

	// Условие status = 'pending' сериализует конкурирующие переходы:
	// строку изменит только первый, остальные увидят конечный статус.
	query := `
		UPDATE payments
		SET status = $2,
			completed_at = CASE WHEN $2 = 'completed' THEN $3::timestamptz ELSE NULL END,
			failure_reason = $4,
			updated_at = $3
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + paymentColumns

	p, err := scanPayment(r.db.QueryRow(ctx, query, id, string(to), at, reason))
	if err == nil {
		return p, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("ошибка смены статуса платежа: %w", err)
	}

	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

func (r *paymentRepo) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*model.Payment, error) {
	query := `SELECT ` + paymentColumns + `
		FROM payments
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения зависших платежей: %w", err)
	}
	defer rows.Close()

	var result []*model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования платежа: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (r *paymentRepo) ListRecentCompleted(ctx context.Context, limit int) ([]*model.PaymentSummary, error) {
	query := `
		SELECT p.id, p.user_id, p.media_id, p.amount, p.currency, p.status, p.payment_method,
			p.provider_ref, p.failure_reason, p.created_at, p.completed_at, p.updated_at, m.title
		FROM payments p
		JOIN media m ON m.id = p.media_id
		WHERE p.status = 'completed'
		ORDER BY p.completed_at DESC
		LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения последних платежей: %w", err)
	}
	defer rows.Close()

	var result []*model.PaymentSummary
	for rows.Next() {
		s := &model.PaymentSummary{}
		if err := rows.Scan(
			&s.ID, &s.UserID, &s.MediaID, &s.Amount, &s.Currency, &s.Status, &s.Method,
			&s.ProviderRef, &s.FailureReason, &s.CreatedAt, &s.CompletedAt, &s.UpdatedAt,
			&s.MediaTitle,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования платежа: %w", err)
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

func (r *paymentRepo) Totals(ctx context.Context) (*model.SalesTotals, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM media),
			COUNT(*),
			COALESCE(SUM(amount), 0),
			COUNT(DISTINCT user_id)
		FROM payments
		WHERE status = 'completed'`

	t := &model.SalesTotals{}
	if err := r.db.QueryRow(ctx, query).Scan(&t.TotalMedia, &t.TotalPurchases, &t.Revenue, &t.Buyers); err != nil {
		return nil, fmt.Errorf("ошибка получения статистики продаж: %w", err)
	}
	return t, nil
}

func (r *paymentRepo) MediaSales(ctx context.Context) ([]*model.MediaSales, error) {
	query := `
		SELECT m.id, m.title, m.price,
			COUNT(p.id),
			COALESCE(SUM(p.amount), 0)
		FROM media m
		LEFT JOIN payments p ON p.media_id = m.id AND p.status = 'completed'
		GROUP BY m.id, m.title, m.price, m.created_at
		ORDER BY m.created_at DESC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения статистики по медиа: %w", err)
	}
	defer rows.Close()

	var result []*model.MediaSales
	for rows.Next() {
		s := &model.MediaSales{}
		if err := rows.Scan(&s.MediaID, &s.Title, &s.Price, &s.Purchases, &s.Revenue); err != nil {
			return nil, fmt.Errorf("ошибка сканирования статистики: %w", err)
		}
		result = append(result, s)
	}
	return result, rows.Err()
}
