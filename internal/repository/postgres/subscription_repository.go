// Package postgres holds the PostgreSQL implementations of the repositories.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Dhoini/scoutflow-billing/internal/domain"
	"github.com/Dhoini/scoutflow-billing/internal/repository"
	"github.com/Dhoini/scoutflow-billing/pkg/logger"
)

// DB - подмножество pgxpool.Pool, которое нужно репозиторию. Его же реализует pgxmock.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const selectSubscription = `
	SELECT user_id, status, provider, external_subscription_id, external_customer_id,
	       current_period_start, current_period_end, trial_ends_at, cancelled_at,
	       last_event_at, created_at, updated_at
	FROM subscriptions
	WHERE user_id = $1`

// Вставка или обновление с отсечением устаревших событий.
// При конфликте условие WHERE не пропускает событие старше сохраненного, и затронутых строк будет 0.
const upsertSubscription = `
	INSERT INTO subscriptions (
		user_id, status, provider, external_subscription_id, external_customer_id,
		current_period_start, current_period_end, trial_ends_at, cancelled_at,
		last_event_at, created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
	ON CONFLICT (user_id) DO UPDATE SET
		status                   = EXCLUDED.status,
		provider                 = COALESCE(NULLIF(EXCLUDED.provider, ''), subscriptions.provider),
		external_subscription_id = COALESCE(EXCLUDED.external_subscription_id, subscriptions.external_subscription_id),
		external_customer_id     = COALESCE(EXCLUDED.external_customer_id, subscriptions.external_customer_id),
		current_period_start     = COALESCE(EXCLUDED.current_period_start, subscriptions.current_period_start),
		current_period_end       = COALESCE(EXCLUDED.current_period_end, subscriptions.current_period_end),
		trial_ends_at            = COALESCE(EXCLUDED.trial_ends_at, subscriptions.trial_ends_at),
		cancelled_at             = COALESCE(subscriptions.cancelled_at, EXCLUDED.cancelled_at),
		last_event_at            = GREATEST(subscriptions.last_event_at, EXCLUDED.last_event_at),
		updated_at               = now()
	WHERE subscriptions.last_event_at IS NULL
	   OR EXCLUDED.last_event_at IS NULL
	   OR EXCLUDED.last_event_at >= subscriptions.last_event_at`

const updateStatus = `
	UPDATE subscriptions SET
		status        = $2,
		cancelled_at  = COALESCE(cancelled_at, $3),
		last_event_at = GREATEST(last_event_at, $4),
		updated_at    = now()
	WHERE user_id = $1
	  AND (last_event_at IS NULL OR $4::timestamptz IS NULL OR $4::timestamptz >= last_event_at)`

const selectLastEventAt = `SELECT last_event_at FROM subscriptions WHERE user_id = $1`

// SubscriptionRepository реализует repository.SubscriptionRepository для PostgreSQL
type SubscriptionRepository struct {
	db  DB
	log *logger.Logger
}

// NewSubscriptionRepository создает репозиторий поверх пула pgx
func NewSubscriptionRepository(db DB, log *logger.Logger) *SubscriptionRepository {
	return &SubscriptionRepository{db: db, log: log}
}

// GetByUserID возвращает подписку пользователя
func (r *SubscriptionRepository) GetByUserID(ctx context.Context, userID string) (*domain.Subscription, error) {
	var (
		sub    domain.Subscription
		status string
	)
	err := r.db.QueryRow(ctx, selectSubscription, userID).Scan(
		&sub.UserID,
		&status,
		&sub.Provider,
		&sub.ExternalSubscriptionID,
		&sub.ExternalCustomerID,
		&sub.CurrentPeriodStart,
		&sub.CurrentPeriodEnd,
		&sub.TrialEndsAt,
		&sub.CancelledAt,
		&sub.LastEventAt,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("subscription", userID)
		}
		r.log.Errorw("Failed to get subscription from DB", "error", err, "userID", userID)
		return nil, fmt.Errorf("repository: failed to get subscription: %w", err)
	}
	sub.Status = domain.SubscriptionStatus(status)
	return &sub, nil
}

// Upsert вставляет или обновляет запись пользователя
func (r *SubscriptionRepository) Upsert(ctx context.Context, sub *domain.Subscription) error {
	if err := repository.ValidateSubscription(sub); err != nil {
		return err
	}

	tag, err := r.db.Exec(ctx, upsertSubscription,
		sub.UserID,
		string(sub.Status),
		sub.Provider,
		nullIfEmpty(sub.ExternalSubscriptionID),
		nullIfEmpty(sub.ExternalCustomerID),
		sub.CurrentPeriodStart,
		sub.CurrentPeriodEnd,
		sub.TrialEndsAt,
		sub.CancelledAt,
		sub.LastEventAt,
	)
	if err != nil {
		r.log.Errorw("Failed to upsert subscription in DB", "error", err, "userID", sub.UserID)
		return fmt.Errorf("repository: failed to upsert subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		r.log.Infow("Subscription upsert skipped, stored event is newer", "userID", sub.UserID, "eventAt", sub.LastEventAt)
		return repository.ErrStaleEvent
	}

	r.log.Debugw("Subscription upserted", "userID", sub.UserID, "status", sub.Status)
	return nil
}

// UpdateStatus меняет статус существующей записи
func (r *SubscriptionRepository) UpdateStatus(ctx context.Context, upd domain.StatusUpdate) (int64, error) {
	if err := repository.ValidateStatusUpdate(upd); err != nil {
		return 0, err
	}

	tag, err := r.db.Exec(ctx, updateStatus, upd.UserID, string(upd.Status), upd.CancelledAt, upd.EventAt)
	if err != nil {
		r.log.Errorw("Failed to update subscription status in DB", "error", err, "userID", upd.UserID)
		return 0, fmt.Errorf("repository: failed to update subscription status: %w", err)
	}
	rows := tag.RowsAffected()
	if rows > 0 || upd.EventAt == nil {
		return rows, nil
	}

	// 0 строк: либо записи нет, либо событие устарело
	var stored *time.Time
	err = r.db.QueryRow(ctx, selectLastEventAt, upd.UserID).Scan(&stored)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return 0, nil
	case err != nil:
		r.log.Warnw("Failed to check last_event_at after empty update", "error", err, "userID", upd.UserID)
		return 0, nil
	case stored != nil && upd.EventAt.Before(*stored):
		return 0, repository.ErrStaleEvent
	default:
		return 0, nil
	}
}

func nullIfEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}
