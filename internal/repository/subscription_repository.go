package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Dhoini/scoutflow-billing/internal/domain"
)

// SubscriptionRepository определяет методы для работы с хранилищем подписок.
// Запись одна на пользователя, ключ - user_id.
type SubscriptionRepository interface {
	// GetByUserID возвращает подписку пользователя или ErrNotFound.
	GetByUserID(ctx context.Context, userID string) (*domain.Subscription, error)

	// Upsert вставляет или обновляет запись пользователя.
	// Пустые идентификаторы и периоды не затирают сохраненные значения, cancelled_at не сбрасывается.
	// Если сохраненный last_event_at новее sub.LastEventAt, запись не меняется и возвращается ErrStaleEvent.
	Upsert(ctx context.Context, sub *domain.Subscription) error

	// UpdateStatus меняет статус существующей записи и возвращает число измененных строк.
	// Отсутствие записи не ошибка: вернется 0. Устаревшее событие - ErrStaleEvent.
	UpdateStatus(ctx context.Context, upd domain.StatusUpdate) (int64, error)
}

// ValidateSubscription проверяет запись перед сохранением
func ValidateSubscription(sub *domain.Subscription) error {
	if sub == nil || sub.UserID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidData)
	}
	if !sub.Status.Valid() || sub.Status == domain.SubscriptionStatusNone {
		return fmt.Errorf("%w: status %q", ErrInvalidData, sub.Status)
	}
	return nil
}

// ValidateStatusUpdate проверяет точечное обновление статуса
func ValidateStatusUpdate(upd domain.StatusUpdate) error {
	if upd.UserID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidData)
	}
	if !upd.Status.Valid() || upd.Status == domain.SubscriptionStatusNone {
		return fmt.Errorf("%w: status %q", ErrInvalidData, upd.Status)
	}
	return nil
}

// isStale сообщает, что событие eventAt старше уже примененного stored.
// Событие с тем же временем не считается устаревшим: повтор доставки применяется повторно с тем же результатом.
func isStale(stored, eventAt *time.Time) bool {
	return stored != nil && eventAt != nil && eventAt.Before(*stored)
}

// latest возвращает более позднее из двух времен
func latest(a, b *time.Time) *time.Time {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.After(*a):
		return b
	default:
		return a
	}
}
