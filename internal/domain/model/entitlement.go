package model

import "time"

// Entitlement — право пользователя на доступ к оригиналу.
// Хранится в таблице media_access, уникально по (user_id, media_id).
type Entitlement struct {
	// ID — UUID записи
	ID string
	// UserID — subject пользователя
	UserID string
	// MediaID — UUID медиа
	MediaID string
	// Unlocked — доступ к оригиналу открыт
	Unlocked bool
	// UnlockedAt — время первой разблокировки (не перезаписывается)
	UnlockedAt *time.Time
}
