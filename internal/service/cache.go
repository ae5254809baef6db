// cache.go — каталог медиа с LRU-кэшем.
// Обёртка над hashicorp/golang-lru/v2/expirable, промахи кэша
// по одному id объединяются через singleflight.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"

	"github.com/bigkaa/goartstore/paywall-module/internal/domain/model"
	"github.com/bigkaa/goartstore/paywall-module/internal/repository"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pw_catalog_cache_hits_total",
		Help: "Общее количество попаданий в LRU-кэш каталога.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pw_catalog_cache_misses_total",
		Help: "Общее количество промахов LRU-кэша каталога.",
	})
)

// MediaStore — чтение каталога медиа через LRU-кэш с TTL.
// Элементы каталога неизменяемы, поэтому инвалидация нужна только при удалении.
type MediaStore struct {
	repo  repository.MediaRepository
	cache *expirable.LRU[string, *model.MediaItem]
	group singleflight.Group
}

// NewMediaStore создаёт кэширующий каталог.
// maxSize — максимальное количество записей, ttl — время жизни записи.
func NewMediaStore(repo repository.MediaRepository, maxSize int, ttl time.Duration) *MediaStore {
	return &MediaStore{
		repo:  repo,
		cache: expirable.NewLRU[string, *model.MediaItem](maxSize, nil, ttl),
	}
}

// Get возвращает элемент каталога. Отсутствующий или некорректный id — ErrNotFound.
func (s *MediaStore) Get(ctx context.Context, id string) (*model.MediaItem, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}

	if m, ok := s.cache.Get(id); ok {
		cacheHitsTotal.Inc()
		return m, nil
	}
	cacheMissesTotal.Inc()

	v, err, _ := s.group.Do(id, func() (any, error) {
		m, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		s.cache.Add(id, m)
		return m, nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, storageError("получение медиа", err)
	}
	return v.(*model.MediaItem), nil
}

// Put добавляет элемент в кэш (после создания).
func (s *MediaStore) Put(m *model.MediaItem) {
	s.cache.Add(m.ID, m)
}

// Invalidate удаляет элемент из кэша.
func (s *MediaStore) Invalidate(id string) {
	s.group.Forget(id)
	s.cache.Remove(id)
}

// Len возвращает количество записей в кэше.
func (s *MediaStore) Len() int {
	return s.cache.Len()
}
