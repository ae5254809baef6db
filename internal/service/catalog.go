// catalog.go — каталог медиа: загрузка, чтение, удаление.
//
// Загрузка:
//  1. Тип медиа по расширению файла
//  2. Сохранение оригинала в blob store
//  3. Превью: изображение — через сервис водяных знаков,
//     видео — копия оригинала. Ошибка водяного знака не прерывает загрузку
//  4. Запись в БД и кэш
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bigkaa/goartstore/paywall-module/internal/domain/model"
	"github.com/bigkaa/goartstore/paywall-module/internal/repository"
	"github.com/bigkaa/goartstore/paywall-module/internal/storage/blobstore"
)

// Watermarker — сервис наложения водяного знака.
type Watermarker interface {
	Apply(ctx context.Context, src io.Reader, contentType, text string) ([]byte, error)
}

// UploadInput — параметры загрузки медиа.
type UploadInput struct {
	Title       string
	Description string
	// Price — цена (nil — цена по умолчанию)
	Price *decimal.Decimal
	// Filename — исходное имя файла
	Filename string
	// Body — содержимое файла
	Body io.Reader
}

// CatalogConfig — параметры каталога.
type CatalogConfig struct {
	// DefaultPrice — цена, если не указана при загрузке
	DefaultPrice decimal.Decimal
	// WatermarkText — текст водяного знака
	WatermarkText string
}

// CatalogService — управление каталогом медиа.
type CatalogService struct {
	media     *MediaStore
	repo      repository.MediaRepository
	access    *AccessResolver
	blobs     BlobStore
	watermark Watermarker
	cfg       CatalogConfig
	now       func() time.Time
	logger    *slog.Logger
}

// NewCatalogService создаёт сервис каталога.
func NewCatalogService(
	media *MediaStore,
	repo repository.MediaRepository,
	access *AccessResolver,
	blobs BlobStore,
	watermark Watermarker,
	cfg CatalogConfig,
	logger *slog.Logger,
) *CatalogService {
	return &CatalogService{
		media:     media,
		repo:      repo,
		access:    access,
		blobs:     blobs,
		watermark: watermark,
		cfg:       cfg,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "catalog_service")),
	}
}

// Upload загружает новый элемент каталога от имени владельца ownerID.
// Ошибки: ErrValidation, ErrStorageUnavailable.
func (s *CatalogService) Upload(ctx context.Context, ownerID string, in UploadInput) (*model.MediaItem, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: название обязательно", ErrValidation)
	}
	mediaType, ok := model.MediaTypeFromFilename(in.Filename)
	if !ok {
		return nil, fmt.Errorf("%w: неподдерживаемый тип файла %q", ErrValidation, in.Filename)
	}

	price := s.cfg.DefaultPrice
	if in.Price != nil {
		if in.Price.IsNegative() {
			return nil, fmt.Errorf("%w: цена не может быть отрицательной", ErrValidation)
		}
		price = in.Price.Round(2)
	}

	// 1. Оригинал
	original, err := s.blobs.Save(in.Body, blobstore.FolderOriginals, in.Filename)
	if err != nil {
		return nil, storageError("сохранение оригинала", err)
	}

	// 2. Превью
	preview, err := s.makePreview(ctx, original.Locator, in.Filename, mediaType)
	if err != nil {
		s.cleanup(original.Locator)
		return nil, storageError("сохранение превью", err)
	}

	// 3. Запись в каталог
	m := &model.MediaItem{
		ID:              uuid.New().String(),
		OwnerID:         ownerID,
		Title:           title,
		Description:     strings.TrimSpace(in.Description),
		OriginalLocator: original.Locator,
		PreviewLocator:  preview.Locator,
		OriginalName:    in.Filename,
		Price:           price,
		MediaType:       mediaType,
		Size:            original.Size,
		CreatedAt:       s.now().UTC(),
	}
	if err := s.repo.Create(ctx, m); err != nil {
		s.cleanup(original.Locator, preview.Locator)
		return nil, storageError("создание записи медиа", err)
	}
	s.media.Put(m)

	s.logger.Info("Медиа загружено",
		slog.String("media_id", m.ID),
		slog.String("owner_id", ownerID),
		slog.String("media_type", string(mediaType)),
		slog.Int64("size", m.Size),
		slog.String("price", m.Price.StringFixed(2)),
	)
	return m, nil
}

// makePreview создаёт превью. Для изображений — водяной знак,
// при его недоступности — копия оригинала (деградированный режим).
func (s *CatalogService) makePreview(ctx context.Context, originalLocator, filename string, mediaType model.MediaType) (*blobstore.SaveResult, error) {
	if mediaType != model.MediaTypeImage {
		return s.blobs.Copy(originalLocator, blobstore.FolderPreviews, filename)
	}

	marked, err := s.applyWatermark(ctx, originalLocator, filename, mediaType)
	if err != nil {
		s.logger.Warn("Водяной знак не наложен, превью — копия оригинала",
			slog.String("filename", filename),
			slog.String("error", err.Error()),
		)
		return s.blobs.Copy(originalLocator, blobstore.FolderPreviews, filename)
	}
	return s.blobs.Save(bytes.NewReader(marked), blobstore.FolderPreviews, filename)
}

func (s *CatalogService) applyWatermark(ctx context.Context, locator, filename string, mediaType model.MediaType) ([]byte, error) {
	f, err := s.blobs.Open(locator)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ct := contentType(&model.MediaItem{OriginalName: filename, MediaType: mediaType})
	return s.watermark.Apply(ctx, f, ct, s.cfg.WatermarkText)
}

// Get возвращает элемент каталога.
func (s *CatalogService) Get(ctx context.Context, id string) (*model.MediaItem, error) {
	return s.media.Get(ctx, id)
}

// List возвращает страницу каталога и общее количество элементов.
func (s *CatalogService) List(ctx context.Context, limit, offset int) ([]*model.MediaItem, int, error) {
	items, err := s.repo.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, storageError("список медиа", err)
	}
	total, err := s.repo.Count(ctx)
	if err != nil {
		return nil, 0, storageError("подсчёт медиа", err)
	}
	return items, total, nil
}

// Delete удаляет элемент каталога, затем оба файла.
// Платежи и доступы удаляются каскадно в БД.
func (s *CatalogService) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return ErrNotFound
	}

	m, err := s.repo.Delete(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return storageError("удаление медиа", err)
	}
	s.media.Invalidate(id)

	s.cleanup(m.OriginalLocator, m.PreviewLocator)

	s.logger.Info("Медиа удалено", slog.String("media_id", id))
	return nil
}

// cleanup удаляет файлы. Ошибки только логируются.
func (s *CatalogService) cleanup(locators ...string) {
	for _, loc := range locators {
		if err := s.blobs.Delete(loc); err != nil {
			s.logger.Warn("Не удалось удалить файл из хранилища",
				slog.String("locator", loc),
				slog.String("error", err.Error()),
			)
		}
	}
}
