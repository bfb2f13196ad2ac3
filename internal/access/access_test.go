package access

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dhoini/scoutflow-billing/internal/domain"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func ptr(t time.Time) *time.Time { return &t }

func TestEvaluate_StatusGrantsAccess(t *testing.T) {
	granted := []domain.SubscriptionStatus{
		domain.SubscriptionStatusActive,
		domain.SubscriptionStatusTrialing,
		domain.SubscriptionStatusPastDue,
	}
	denied := []domain.SubscriptionStatus{
		domain.SubscriptionStatusCancelled,
		domain.SubscriptionStatusExpired,
		domain.SubscriptionStatusPaused,
		domain.SubscriptionStatusNone,
	}

	for _, st := range granted {
		t.Run("granted_"+string(st), func(t *testing.T) {
			a := Evaluate(&domain.Subscription{UserID: "u1", Status: st}, false, now)
			assert.True(t, a.HasAccess)
		})
	}
	for _, st := range denied {
		t.Run("denied_"+string(st), func(t *testing.T) {
			a := Evaluate(&domain.Subscription{UserID: "u1", Status: st}, false, now)
			assert.False(t, a.HasAccess)
		})
	}
}

func TestEvaluate_NoRecord(t *testing.T) {
	a := Evaluate(nil, false, now)
	assert.False(t, a.HasAccess)
	assert.Equal(t, domain.SubscriptionStatusNone, a.Status)
	assert.Nil(t, a.DaysRemaining)
}

func TestEvaluate_AdminAlwaysHasAccess(t *testing.T) {
	for _, st := range domain.AllSubscriptionStatuses {
		a := Evaluate(&domain.Subscription{UserID: "u1", Status: st}, true, now)
		assert.True(t, a.HasAccess, "status %s", st)
	}
	assert.True(t, Evaluate(nil, true, now).HasAccess)
}

func TestEvaluate_DaysRemaining(t *testing.T) {
	t.Run("trial rounds up", func(t *testing.T) {
		sub := &domain.Subscription{
			Status:           domain.SubscriptionStatusTrialing,
			TrialEndsAt:      ptr(now.Add(3 * day)),
			CurrentPeriodEnd: ptr(now.Add(30 * day)),
		}
		a := Evaluate(sub, false, now)
		require.NotNil(t, a.DaysRemaining)
		assert.Equal(t, 3, *a.DaysRemaining)
		assert.True(t, a.IsTrialing)
	})

	t.Run("partial day counts as a day", func(t *testing.T) {
		sub := &domain.Subscription{
			Status:      domain.SubscriptionStatusTrialing,
			TrialEndsAt: ptr(now.Add(2*day + time.Hour)),
		}
		a := Evaluate(sub, false, now)
		require.NotNil(t, a.DaysRemaining)
		assert.Equal(t, 3, *a.DaysRemaining)
	})

	t.Run("active uses period end", func(t *testing.T) {
		sub := &domain.Subscription{
			Status:           domain.SubscriptionStatusActive,
			TrialEndsAt:      ptr(now.Add(1 * day)),
			CurrentPeriodEnd: ptr(now.Add(10 * day)),
		}
		a := Evaluate(sub, false, now)
		require.NotNil(t, a.DaysRemaining)
		assert.Equal(t, 10, *a.DaysRemaining)
	})

	t.Run("trialing without trial end falls back to period end", func(t *testing.T) {
		sub := &domain.Subscription{
			Status:           domain.SubscriptionStatusTrialing,
			CurrentPeriodEnd: ptr(now.Add(5 * day)),
		}
		a := Evaluate(sub, false, now)
		require.NotNil(t, a.DaysRemaining)
		assert.Equal(t, 5, *a.DaysRemaining)
	})

	t.Run("past end is zero", func(t *testing.T) {
		sub := &domain.Subscription{
			Status:           domain.SubscriptionStatusCancelled,
			CurrentPeriodEnd: ptr(now.Add(-4 * day)),
		}
		a := Evaluate(sub, false, now)
		require.NotNil(t, a.DaysRemaining)
		assert.Equal(t, 0, *a.DaysRemaining)
		assert.True(t, a.IsCancelled)
	})

	t.Run("no dates", func(t *testing.T) {
		a := Evaluate(&domain.Subscription{Status: domain.SubscriptionStatusActive}, false, now)
		assert.Nil(t, a.DaysRemaining)
	})
}

func TestEvaluate_Flags(t *testing.T) {
	assert.True(t, Evaluate(&domain.Subscription{Status: domain.SubscriptionStatusPastDue}, false, now).IsPastDue)
	assert.True(t, Evaluate(&domain.Subscription{Status: domain.SubscriptionStatusExpired}, false, now).IsExpired)
}

func TestDaysUntil_NeverNegative(t *testing.T) {
	for _, d := range []time.Duration{-72 * time.Hour, -time.Second, 0} {
		assert.Equal(t, 0, DaysUntil(now.Add(d), now))
	}
	assert.Equal(t, 1, DaysUntil(now.Add(time.Second), now))
}
