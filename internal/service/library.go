// library.go — каталог глазами пользователя: медиа с решением о доступе.
package service

import (
	"context"

	"github.com/bigkaa/goartstore/paywall-module/internal/domain/model"
)

// LibraryItem — элемент каталога с решением о доступе для пользователя.
type LibraryItem struct {
	Media *model.MediaItem
	// HasAccess — доступ к оригиналу открыт
	HasAccess bool
	// IsOwner — пользователь владелец медиа
	IsOwner bool
	// Reason — основание решения о доступе
	Reason Reason
	// PreviewURL — адрес превью
	PreviewURL string
	// OriginalURL — адрес оригинала (пусто, если доступа нет)
	OriginalURL string
}

// LibraryPage — страница каталога для пользователя.
type LibraryPage struct {
	Items []LibraryItem
	Total int
}

// ListForUser возвращает страницу каталога с решениями о доступе.
// Условие доступа вычисляет AccessResolver, адрес оригинала
// присутствует только при открытом доступе.
func (s *CatalogService) ListForUser(ctx context.Context, userID string, limit, offset int) (*LibraryPage, error) {
	items, total, err := s.List(ctx, limit, offset)
	if err != nil {
		return nil, err
	}

	decisions, err := s.access.ResolveMany(ctx, userID, items)
	if err != nil {
		return nil, err
	}

	page := &LibraryPage{Items: make([]LibraryItem, 0, len(items)), Total: total}
	for _, m := range items {
		page.Items = append(page.Items, NewLibraryItem(m, decisions[m.ID]))
	}
	return page, nil
}

// NewLibraryItem собирает элемент каталога по решению о доступе.
func NewLibraryItem(m *model.MediaItem, d Decision) LibraryItem {
	item := LibraryItem{
		Media:      m,
		HasAccess:  d.CanViewOriginal,
		IsOwner:    d.Reason == ReasonOwner,
		Reason:     d.Reason,
		PreviewURL: PreviewURL(m.ID),
	}
	if d.CanViewOriginal {
		item.OriginalURL = OriginalURL(m.ID)
	}
	return item
}

// PreviewURL — адрес превью медиа в API.
func PreviewURL(mediaID string) string {
	return "/api/v1/media/" + mediaID + "/preview"
}

// OriginalURL — адрес оригинала медиа в API.
func OriginalURL(mediaID string) string {
	return "/api/v1/media/" + mediaID + "/original"
}
