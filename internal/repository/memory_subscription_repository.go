package repository

import (
	"context"
	"sync"
	"time"

	"github.com/Dhoini/scoutflow-billing/internal/domain"
	"github.com/Dhoini/scoutflow-billing/pkg/logger"
)

// InMemorySubscriptionRepository реализация репозитория подписок в памяти
type InMemorySubscriptionRepository struct {
	subscriptions map[string]*domain.Subscription
	mutex         sync.RWMutex
	log           *logger.Logger
	now           func() time.Time
}

// NewInMemorySubscriptionRepository создает новый репозиторий подписок в памяти
func NewInMemorySubscriptionRepository(log *logger.Logger) *InMemorySubscriptionRepository {
	return &InMemorySubscriptionRepository{
		subscriptions: make(map[string]*domain.Subscription),
		log:           log,
		now:           time.Now,
	}
}

// GetByUserID возвращает копию записи пользователя
func (r *InMemorySubscriptionRepository) GetByUserID(_ context.Context, userID string) (*domain.Subscription, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	sub, exists := r.subscriptions[userID]
	if !exists {
		return nil, domain.NewNotFoundError("subscription", userID)
	}
	return sub.Clone(), nil
}

// Upsert вставляет или обновляет запись пользователя
func (r *InMemorySubscriptionRepository) Upsert(_ context.Context, sub *domain.Subscription) error {
	if err := ValidateSubscription(sub); err != nil {
		return err
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	now := r.now().UTC()
	existing, exists := r.subscriptions[sub.UserID]
	if !exists {
		stored := sub.Clone()
		stored.CreatedAt = now
		stored.UpdatedAt = now
		r.subscriptions[sub.UserID] = stored
		return nil
	}
	if isStale(existing.LastEventAt, sub.LastEventAt) {
		return ErrStaleEvent
	}

	// указатели входной записи не должны попасть в хранилище
	in := sub.Clone()
	updated := existing.Clone()
	updated.Status = in.Status
	if in.Provider != "" {
		updated.Provider = in.Provider
	}
	updated.ExternalSubscriptionID = coalesceString(in.ExternalSubscriptionID, updated.ExternalSubscriptionID)
	updated.ExternalCustomerID = coalesceString(in.ExternalCustomerID, updated.ExternalCustomerID)
	updated.CurrentPeriodStart = coalesceTime(in.CurrentPeriodStart, updated.CurrentPeriodStart)
	updated.CurrentPeriodEnd = coalesceTime(in.CurrentPeriodEnd, updated.CurrentPeriodEnd)
	updated.TrialEndsAt = coalesceTime(in.TrialEndsAt, updated.TrialEndsAt)
	updated.CancelledAt = coalesceTime(updated.CancelledAt, in.CancelledAt)
	updated.LastEventAt = latest(updated.LastEventAt, in.LastEventAt)
	updated.UpdatedAt = now
	r.subscriptions[sub.UserID] = updated
	return nil
}

// UpdateStatus меняет статус существующей записи
func (r *InMemorySubscriptionRepository) UpdateStatus(_ context.Context, upd domain.StatusUpdate) (int64, error) {
	if err := ValidateStatusUpdate(upd); err != nil {
		return 0, err
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	existing, exists := r.subscriptions[upd.UserID]
	if !exists {
		return 0, nil
	}
	if isStale(existing.LastEventAt, upd.EventAt) {
		return 0, ErrStaleEvent
	}

	updated := existing.Clone()
	updated.Status = upd.Status
	updated.CancelledAt = coalesceTime(updated.CancelledAt, copyTime(upd.CancelledAt))
	updated.LastEventAt = latest(updated.LastEventAt, copyTime(upd.EventAt))
	updated.UpdatedAt = r.now().UTC()
	r.subscriptions[upd.UserID] = updated
	return 1, nil
}

// Count возвращает число записей
func (r *InMemorySubscriptionRepository) Count() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.subscriptions)
}

func coalesceString(a, b *string) *string {
	if a != nil && *a != "" {
		return a
	}
	return b
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func coalesceTime(a, b *time.Time) *time.Time {
	if a != nil {
		return a
	}
	return b
}
