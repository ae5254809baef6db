package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/paywall-module/internal/domain/model"
)

// EntitlementRepository — интерфейс хранилища прав доступа (таблица media_access).
type EntitlementRepository interface {
	// Grant открывает доступ к оригиналу (upsert по user_id, media_id).
	// Повторный вызов не меняет unlocked_at.
	Grant(ctx context.Context, userID, mediaID string, at time.Time) (*model.Entitlement, error)
	// Get возвращает право доступа пользователя к медиа.
	Get(ctx context.Context, userID, mediaID string) (*model.Entitlement, error)
	// UnlockedMediaIDs возвращает подмножество mediaIDs, разблокированных пользователем.
	UnlockedMediaIDs(ctx context.Context, userID string, mediaIDs []string) (map[string]bool, error)
}

// entitlementRepo — реализация EntitlementRepository.
type entitlementRepo struct {
	db DBTX
}

// NewEntitlementRepository создаёт репозиторий прав доступа.
func NewEntitlementRepository(db DBTX) EntitlementRepository {
	return &entitlementRepo{db: db}
}

func (r *entitlementRepo) Grant(ctx context.Context, userID, mediaID string, at time.Time) (*model.Entitlement, error) {
	query := `
		INSERT INTO media_access (id, user_id, media_id, unlocked, unlocked_at)
		VALUES ($1, $2, $3, TRUE, $4)
		ON CONFLICT (user_id, media_id) DO UPDATE
		SET unlocked = TRUE,
			unlocked_at = COALESCE(media_access.unlocked_at, EXCLUDED.unlocked_at)
		RETURNING id, user_id, media_id, unlocked, unlocked_at`

	e := &model.Entitlement{}
	err := r.db.QueryRow(ctx, query, uuid.New().String(), userID, mediaID, at).Scan(
		&e.ID, &e.UserID, &e.MediaID, &e.Unlocked, &e.UnlockedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка выдачи доступа: %w", err)
	}
	return e, nil
}

func (r *entitlementRepo) Get(ctx context.Context, userID, mediaID string) (*model.Entitlement, error) {
	query := `
		SELECT id, user_id, media_id, unlocked, unlocked_at
		FROM media_access
		WHERE user_id = $1 AND media_id = $2`

	e := &model.Entitlement{}
	err := r.db.QueryRow(ctx, query, userID, mediaID).Scan(
		&e.ID, &e.UserID, &e.MediaID, &e.Unlocked, &e.UnlockedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения доступа: %w", err)
	}
	return e, nil
}

func (r *entitlementRepo) UnlockedMediaIDs(ctx context.Context, userID string, mediaIDs []string) (map[string]bool, error) {
	if len(mediaIDs) == 0 {
		return map[string]bool{}, nil
	}

	query := `
		SELECT media_id::text
		FROM media_access
		WHERE user_id = $1 AND media_id = ANY($2::uuid[]) AND unlocked`

	rows, err := r.db.Query(ctx, query, userID, mediaIDs)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения разблокированных медиа: %w", err)
	}
	return idSet(rows)
}
