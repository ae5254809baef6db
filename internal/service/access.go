// access.go — разрешение доступа пользователя к медиа.
//
// Превью доступно любому аутентифицированному пользователю.
// Оригинал доступен, если выполнено хотя бы одно условие:
//  1. пользователь — владелец медиа
//  2. есть разблокированная запись в media_access
//  3. есть успешный платёж пользователя за это медиа
//
// Это единственное место, где вычисляется условие доступа к оригиналу:
// выдача файлов, карточка медиа и списки используют AccessResolver.
package service

import (
	"context"
	"errors"

	"github.com/bigkaa/goartstore/paywall-module/internal/domain/model"
	"github.com/bigkaa/goartstore/paywall-module/internal/repository"
)

// Reason — основание решения о доступе.
type Reason string

const (
	// ReasonOwner — пользователь владеет медиа
	ReasonOwner Reason = "owner"
	// ReasonEntitlement — доступ открыт записью media_access
	ReasonEntitlement Reason = "entitlement"
	// ReasonPayment — есть успешный платёж
	ReasonPayment Reason = "payment"
	// ReasonLocked — доступа к оригиналу нет
	ReasonLocked Reason = "locked"
)

// Decision — решение о доступе к медиа.
type Decision struct {
	CanViewPreview  bool
	CanViewOriginal bool
	Reason          Reason
}

// AccessResolver вычисляет доступ пользователя к медиа. Не изменяет состояние.
type AccessResolver struct {
	media        *MediaStore
	entitlements repository.EntitlementRepository
	payments     repository.PaymentRepository
}

// NewAccessResolver создаёт AccessResolver.
func NewAccessResolver(
	media *MediaStore,
	entitlements repository.EntitlementRepository,
	payments repository.PaymentRepository,
) *AccessResolver {
	return &AccessResolver{
		media:        media,
		entitlements: entitlements,
		payments:     payments,
	}
}

// Resolve возвращает решение о доступе пользователя к медиа.
// Медиа не найдено — ErrNotFound.
func (a *AccessResolver) Resolve(ctx context.Context, userID, mediaID string) (Decision, error) {
	m, err := a.media.Get(ctx, mediaID)
	if err != nil {
		return Decision{}, err
	}
	return a.decide(ctx, userID, m)
}

// decide вычисляет решение для уже загруженного медиа.
func (a *AccessResolver) decide(ctx context.Context, userID string, m *model.MediaItem) (Decision, error) {
	if m.IsOwnedBy(userID) {
		return granted(ReasonOwner), nil
	}

	e, err := a.entitlements.Get(ctx, userID, m.ID)
	switch {
	case err == nil && e.Unlocked:
		return granted(ReasonEntitlement), nil
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		return Decision{}, storageError("проверка доступа", err)
	}

	paid, err := a.payments.HasCompleted(ctx, userID, m.ID)
	if err != nil {
		return Decision{}, storageError("проверка платежа", err)
	}
	if paid {
		return granted(ReasonPayment), nil
	}

	return Decision{CanViewPreview: true, Reason: ReasonLocked}, nil
}

// ResolveMany вычисляет решения для набора медиа двумя запросами к БД.
// Ключ результата — id медиа.
func (a *AccessResolver) ResolveMany(ctx context.Context, userID string, items []*model.MediaItem) (map[string]Decision, error) {
	result := make(map[string]Decision, len(items))

	ids := make([]string, 0, len(items))
	for _, m := range items {
		if m.IsOwnedBy(userID) {
			result[m.ID] = granted(ReasonOwner)
			continue
		}
		ids = append(ids, m.ID)
	}
	if len(ids) == 0 {
		return result, nil
	}

	unlocked, err := a.entitlements.UnlockedMediaIDs(ctx, userID, ids)
	if err != nil {
		return nil, storageError("проверка доступа", err)
	}
	paid, err := a.payments.CompletedMediaIDs(ctx, userID, ids)
	if err != nil {
		return nil, storageError("проверка платежей", err)
	}

	for _, id := range ids {
		switch {
		case unlocked[id]:
			result[id] = granted(ReasonEntitlement)
		case paid[id]:
			result[id] = granted(ReasonPayment)
		default:
			result[id] = Decision{CanViewPreview: true, Reason: ReasonLocked}
		}
	}
	return result, nil
}

func granted(reason Reason) Decision {
	return Decision{CanViewPreview: true, CanViewOriginal: true, Reason: reason}
}
