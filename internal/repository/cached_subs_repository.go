package repository

import (
	"context"

	"github.com/Dhoini/scoutflow-billing/internal/domain"
	"github.com/Dhoini/scoutflow-billing/pkg/logger"
)

// CachedSubscriptionRepository реализует SubscriptionRepository с кешированием чтений в Redis.
// Запись всегда идет в основное хранилище, после нее ключ пользователя удаляется из кеша.
type CachedSubscriptionRepository struct {
	repo  SubscriptionRepository
	cache *RedisCacheRepository
	log   *logger.Logger
}

// NewCachedSubscriptionRepository создает новый репозиторий с кешированием
func NewCachedSubscriptionRepository(
	repo SubscriptionRepository,
	cache *RedisCacheRepository,
	log *logger.Logger,
) SubscriptionRepository {
	return &CachedSubscriptionRepository{
		repo:  repo,
		cache: cache,
		log:   log,
	}
}

// GetByUserID получает подписку пользователя (сначала из кеша, потом из БД)
func (r *CachedSubscriptionRepository) GetByUserID(ctx context.Context, userID string) (*domain.Subscription, error) {
	cachedSub, err := r.cache.GetCachedSubscription(ctx, userID)
	if err != nil {
		// Продолжаем выполнение при ошибке кеша
		r.log.Warnw("Error getting subscription from cache", "error", err, "userID", userID)
	}
	if cachedSub != nil {
		r.log.Debugw("Subscription found in cache", "userID", userID)
		return cachedSub, nil
	}

	sub, err := r.repo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := r.cache.CacheSubscription(ctx, sub); err != nil {
		r.log.Warnw("Failed to cache subscription after fetching", "error", err, "userID", userID)
	}
	return sub, nil
}

// Upsert пишет в БД и инвалидирует кеш пользователя
func (r *CachedSubscriptionRepository) Upsert(ctx context.Context, sub *domain.Subscription) error {
	if err := r.repo.Upsert(ctx, sub); err != nil {
		return err
	}
	r.invalidate(ctx, sub.UserID)
	return nil
}

// UpdateStatus пишет в БД и инвалидирует кеш, если запись изменилась
func (r *CachedSubscriptionRepository) UpdateStatus(ctx context.Context, upd domain.StatusUpdate) (int64, error) {
	rows, err := r.repo.UpdateStatus(ctx, upd)
	if err != nil {
		return rows, err
	}
	if rows > 0 {
		r.invalidate(ctx, upd.UserID)
	}
	return rows, nil
}

func (r *CachedSubscriptionRepository) invalidate(ctx context.Context, userID string) {
	if err := r.cache.InvalidateSubscription(ctx, userID); err != nil {
		r.log.Warnw("Failed to invalidate subscription cache after write", "error", err, "userID", userID)
	}
}
