// Пакет model — доменные сущности Paywall Module.
package model

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MediaType — тип медиафайла.
type MediaType string

const (
	// MediaTypeImage — изображение (превью получает водяной знак)
	MediaTypeImage MediaType = "image"
	// MediaTypeVideo — видео (превью копируется без изменений)
	MediaTypeVideo MediaType = "video"
)

// mediaExtensions — допустимые расширения файлов и соответствующий тип.
var mediaExtensions = map[string]MediaType{
	".jpg":  MediaTypeImage,
	".jpeg": MediaTypeImage,
	".png":  MediaTypeImage,
	".gif":  MediaTypeImage,
	".webp": MediaTypeImage,
	".mp4":  MediaTypeVideo,
	".avi":  MediaTypeVideo,
	".mov":  MediaTypeVideo,
	".wmv":  MediaTypeVideo,
	".flv":  MediaTypeVideo,
	".webm": MediaTypeVideo,
}

// MediaTypeFromFilename определяет тип медиа по расширению файла.
// Второе значение false — расширение не поддерживается.
func MediaTypeFromFilename(name string) (MediaType, bool) {
	t, ok := mediaExtensions[strings.ToLower(filepath.Ext(name))]
	return t, ok
}

// DefaultContentType — Content-Type по умолчанию для типа медиа.
func (t MediaType) DefaultContentType() string {
	if t == MediaTypeVideo {
		return "video/mp4"
	}
	return "image/jpeg"
}

// Valid проверяет, что тип медиа известен.
func (t MediaType) Valid() bool {
	return t == MediaTypeImage || t == MediaTypeVideo
}

// MediaItem — элемент каталога.
// Хранится в таблице media. После создания не изменяется,
// допускается только административное удаление.
type MediaItem struct {
	// ID — UUID записи
	ID string
	// OwnerID — subject администратора, загрузившего файл
	OwnerID string
	// Title — название
	Title string
	// Description — описание
	Description string
	// OriginalLocator — локатор оригинала в blob store
	OriginalLocator string
	// PreviewLocator — локатор превью в blob store
	PreviewLocator string
	// OriginalName — исходное имя загруженного файла
	OriginalName string
	// Price — цена разблокировки
	Price decimal.Decimal
	// MediaType — тип медиа (image, video)
	MediaType MediaType
	// Size — размер оригинала в байтах
	Size int64
	// CreatedAt — время создания
	CreatedAt time.Time
}

// IsOwnedBy проверяет, является ли пользователь владельцем медиа.
func (m *MediaItem) IsOwnedBy(userID string) bool {
	return userID != "" && m.OwnerID == userID
}

// Extension возвращает расширение исходного файла в нижнем регистре.
func (m *MediaItem) Extension() string {
	return strings.ToLower(filepath.Ext(m.OriginalName))
}
