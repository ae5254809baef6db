// delivery.go — выдача файлов медиа.
//
// Оригинал выдаётся только после решения AccessResolver. При отказе
// клиент не получает ни локатор, ни байты файла.
package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/paywall-module/internal/domain/model"
	"github.com/bigkaa/goartstore/paywall-module/internal/storage/blobstore"
)

var assetMissingTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pw_asset_missing_total",
	Help: "Количество обращений к медиа, файл которого отсутствует в хранилище.",
}, []string{"kind"})

// BlobStore — хранилище файлов медиа.
type BlobStore interface {
	// Save записывает данные в каталог folder.
	Save(reader io.Reader, folder, filename string) (*blobstore.SaveResult, error)
	// Copy копирует существующий файл в каталог folder.
	Copy(srcLocator, folder, filename string) (*blobstore.SaveResult, error)
	// Open открывает файл для чтения. Отсутствующий файл — blobstore.ErrNotExist.
	Open(locator string) (*os.File, error)
	// Delete удаляет файл (идемпотентно).
	Delete(locator string) error
}

// Asset — открытый файл медиа, готовый к отдаче.
// Вызывающий код обязан закрыть File.
type Asset struct {
	File        *os.File
	Size        int64
	ModTime     time.Time
	ContentType string
	// Filename — безопасное имя файла для Content-Disposition
	Filename string
}

// DeliveryGate — выдача превью и оригиналов.
type DeliveryGate struct {
	media  *MediaStore
	access *AccessResolver
	blobs  BlobStore
	logger *slog.Logger
}

// NewDeliveryGate создаёт DeliveryGate.
func NewDeliveryGate(media *MediaStore, access *AccessResolver, blobs BlobStore, logger *slog.Logger) *DeliveryGate {
	return &DeliveryGate{
		media:  media,
		access: access,
		blobs:  blobs,
		logger: logger.With(slog.String("component", "delivery")),
	}
}

// ServeOriginal открывает оригинал медиа для пользователя.
// Ошибки: ErrNotFound, ErrForbidden, ErrAssetMissing, ErrStorageUnavailable.
func (g *DeliveryGate) ServeOriginal(ctx context.Context, userID, mediaID string) (*Asset, error) {
	m, err := g.media.Get(ctx, mediaID)
	if err != nil {
		return nil, err
	}

	decision, err := g.access.decide(ctx, userID, m)
	if err != nil {
		return nil, err
	}
	if !decision.CanViewOriginal {
		return nil, ErrForbidden
	}

	asset, err := g.open(m, m.OriginalLocator, "original")
	if err != nil {
		return nil, err
	}

	g.logger.Debug("Выдача оригинала",
		slog.String("media_id", m.ID),
		slog.String("user_id", userID),
		slog.String("reason", string(decision.Reason)),
	)
	return asset, nil
}

// ServePreview открывает превью медиа. Превью доступно любому
// аутентифицированному пользователю.
func (g *DeliveryGate) ServePreview(ctx context.Context, mediaID string) (*Asset, error) {
	m, err := g.media.Get(ctx, mediaID)
	if err != nil {
		return nil, err
	}
	return g.open(m, m.PreviewLocator, "preview")
}

func (g *DeliveryGate) open(m *model.MediaItem, locator, kind string) (*Asset, error) {
	f, err := g.blobs.Open(locator)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotExist) {
			assetMissingTotal.WithLabelValues(kind).Inc()
			g.logger.Error("Файл медиа отсутствует в хранилище",
				slog.String("media_id", m.ID),
				slog.String("kind", kind),
				slog.String("locator", locator),
			)
			return nil, ErrAssetMissing
		}
		return nil, storageError("открытие файла", err)
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, storageError("stat файла", err)
	}

	return &Asset{
		File:        f,
		Size:        stat.Size(),
		ModTime:     stat.ModTime(),
		ContentType: contentType(m),
		Filename:    downloadName(m),
	}, nil
}

// contentType определяет Content-Type по расширению исходного файла.
func contentType(m *model.MediaItem) string {
	if ct := mime.TypeByExtension(m.Extension()); ct != "" {
		return ct
	}
	return m.MediaType.DefaultContentType()
}

// downloadName строит имя файла для скачивания из названия медиа.
// Управляющие символы и разделители пути удаляются.
func downloadName(m *model.MediaItem) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r < 0x20 || r == 0x7f:
			return -1
		case r == '/' || r == '\\' || r == '"':
			return '_'
		}
		return r
	}, strings.TrimSpace(m.Title))

	if name == "" {
		name = "media"
	}
	if len([]rune(name)) > 100 {
		name = string([]rune(name)[:100])
	}
	return name + m.Extension()
}
