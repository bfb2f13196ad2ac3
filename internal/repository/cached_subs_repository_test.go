package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dhoini/scoutflow-billing/internal/domain"
	"github.com/Dhoini/scoutflow-billing/pkg/logger"
)

func newCachedRepo(t *testing.T) (SubscriptionRepository, *InMemorySubscriptionRepository, redismock.ClientMock) {
	t.Helper()
	client, mock := redismock.NewClientMock()
	cache := NewRedisCacheRepositoryFromClient(client, time.Minute, logger.NewNop())
	backing := NewInMemorySubscriptionRepository(logger.NewNop())
	return NewCachedSubscriptionRepository(backing, cache, logger.NewNop()), backing, mock
}

func TestCachedRepository_ReadThrough(t *testing.T) {
	repo, backing, mock := newCachedRepo(t)
	ctx := context.Background()
	require.NoError(t, backing.Upsert(ctx, &domain.Subscription{UserID: "user-1", Status: domain.SubscriptionStatusActive}))
	stored, err := backing.GetByUserID(ctx, "user-1")
	require.NoError(t, err)
	data, err := json.Marshal(stored)
	require.NoError(t, err)

	mock.ExpectGet("subscription:user:user-1").RedisNil()
	mock.ExpectSet("subscription:user:user-1", data, time.Minute).SetVal("OK")

	got, err := repo.GetByUserID(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusActive, got.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCachedRepository_CacheHit(t *testing.T) {
	repo, _, mock := newCachedRepo(t)
	cached := domain.Subscription{UserID: "user-1", Status: domain.SubscriptionStatusTrialing}
	data, err := json.Marshal(cached)
	require.NoError(t, err)

	mock.ExpectGet("subscription:user:user-1").SetVal(string(data))

	got, err := repo.GetByUserID(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusTrialing, got.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCachedRepository_RedisErrorFallsBackToStore(t *testing.T) {
	repo, backing, mock := newCachedRepo(t)
	ctx := context.Background()
	require.NoError(t, backing.Upsert(ctx, &domain.Subscription{UserID: "user-1", Status: domain.SubscriptionStatusPaused}))

	mock.ExpectGet("subscription:user:user-1").SetErr(assert.AnError)
	mock.Regexp().ExpectSet("subscription:user:user-1", `.*`, time.Minute).SetErr(assert.AnError)

	got, err := repo.GetByUserID(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusPaused, got.Status)
}

func TestCachedRepository_WritesInvalidate(t *testing.T) {
	repo, _, mock := newCachedRepo(t)
	ctx := context.Background()

	mock.ExpectDel("subscription:user:user-1").SetVal(1)
	require.NoError(t, repo.Upsert(ctx, &domain.Subscription{UserID: "user-1", Status: domain.SubscriptionStatusActive}))

	mock.ExpectDel("subscription:user:user-1").SetVal(1)
	rows, err := repo.UpdateStatus(ctx, domain.StatusUpdate{UserID: "user-1", Status: domain.SubscriptionStatusPastDue})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)

	// нет строки - нечего инвалидировать
	rows, err = repo.UpdateStatus(ctx, domain.StatusUpdate{UserID: "ghost", Status: domain.SubscriptionStatusPastDue})
	require.NoError(t, err)
	assert.Zero(t, rows)

	assert.NoError(t, mock.ExpectationsWereMet())
}
