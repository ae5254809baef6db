package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/paywall-module/internal/domain/model"
)

// MediaRepository — интерфейс CRUD для таблицы media.
type MediaRepository interface {
	// Create создаёт новый элемент каталога.
	Create(ctx context.Context, m *model.MediaItem) error
	// GetByID возвращает элемент каталога по UUID.
	GetByID(ctx context.Context, id string) (*model.MediaItem, error)
	// List возвращает элементы каталога, новые первыми.
	List(ctx context.Context, limit, offset int) ([]*model.MediaItem, error)
	// Count возвращает количество элементов каталога.
	Count(ctx context.Context) (int, error)
	// Delete удаляет элемент каталога и возвращает удалённую запись.
	Delete(ctx context.Context, id string) (*model.MediaItem, error)
}

const mediaColumns = `id, owner_id, title, description, original_locator, preview_locator,
	original_name, price, media_type, size, created_at`

// mediaRepo — реализация MediaRepository.
type mediaRepo struct {
	db DBTX
}

// NewMediaRepository создаёт репозиторий каталога медиа.
func NewMediaRepository(db DBTX) MediaRepository {
	return &mediaRepo{db: db}
}

func scanMedia(row pgx.Row) (*model.MediaItem, error) {
	m := &model.MediaItem{}
	err := row.Scan(
		&m.ID, &m.OwnerID, &m.Title, &m.Description, &m.OriginalLocator, &m.PreviewLocator,
		&m.OriginalName, &m.Price, &m.MediaType, &m.Size, &m.CreatedAt,
	)
	return m, err
}

func (r *mediaRepo) Create(ctx context.Context, m *model.MediaItem) error {
	query := `
		INSERT INTO media (id, owner_id, title, description, original_locator, preview_locator,
			original_name, price, media_type, size)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at`

	err := r.db.QueryRow(ctx, query,
		m.ID, m.OwnerID, m.Title, m.Description, m.OriginalLocator, m.PreviewLocator,
		m.OriginalName, m.Price, m.MediaType, m.Size,
	).Scan(&m.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: медиа с таким ID уже существует", ErrConflict)
		}
		return fmt.Errorf("ошибка создания медиа: %w", err)
	}
	return nil
}

func (r *mediaRepo) GetByID(ctx context.Context, id string) (*model.MediaItem, error) {
	query := `SELECT ` + mediaColumns + ` FROM media WHERE id = $1`

	m, err := scanMedia(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения медиа: %w", err)
	}
	return m, nil
}

func (r *mediaRepo) List(ctx context.Context, limit, offset int) ([]*model.MediaItem, error) {
	query := `SELECT ` + mediaColumns + `
		FROM media
		ORDER BY created_at DESC, id
		LIMIT $1 OFFSET $2`

	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка медиа: %w", err)
	}
	defer rows.Close()

	var result []*model.MediaItem
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования медиа: %w", err)
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func (r *mediaRepo) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM media`).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта медиа: %w", err)
	}
	return count, nil
}

func (r *mediaRepo) Delete(ctx context.Context, id string) (*model.MediaItem, error) {
	query := `DELETE FROM media WHERE id = $1 RETURNING ` + mediaColumns

	m, err := scanMedia(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка удаления медиа: %w", err)
	}
	return m, nil
}
