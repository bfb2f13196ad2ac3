// Package access derives feature-gating decisions from a subscription record.
package access

import (
	"math"
	"time"

	"github.com/Dhoini/scoutflow-billing/internal/domain"
)

const day = 24 * time.Hour

// Access результат оценки доступа для текущего пользователя
type Access struct {
	HasAccess     bool                      `json:"has_access"`
	Status        domain.SubscriptionStatus `json:"status"`
	DaysRemaining *int                      `json:"days_remaining"`
	IsTrialing    bool                      `json:"is_trialing"`
	IsPastDue     bool                      `json:"is_past_due"`
	IsCancelled   bool                      `json:"is_cancelled"`
	IsExpired     bool                      `json:"is_expired"`
}

// Evaluate вычисляет доступ по записи подписки (nil - записи нет) и флагу администратора.
// Функция чистая: время передается снаружи.
func Evaluate(sub *domain.Subscription, isAdmin bool, now time.Time) Access {
	status := sub.StatusOrNone()

	a := Access{
		HasAccess:   isAdmin || status.GrantsAccess(),
		Status:      status,
		IsTrialing:  status == domain.SubscriptionStatusTrialing,
		IsPastDue:   status == domain.SubscriptionStatusPastDue,
		IsCancelled: status == domain.SubscriptionStatusCancelled,
		IsExpired:   status == domain.SubscriptionStatusExpired,
	}

	if sub == nil {
		return a
	}

	var end *time.Time
	if status == domain.SubscriptionStatusTrialing && sub.TrialEndsAt != nil {
		end = sub.TrialEndsAt
	} else if sub.CurrentPeriodEnd != nil {
		end = sub.CurrentPeriodEnd
	}
	if end != nil {
		days := DaysUntil(*end, now)
		a.DaysRemaining = &days
	}
	return a
}

// DaysUntil возвращает ceil((end-now)/сутки), не меньше нуля
func DaysUntil(end, now time.Time) int {
	diff := end.Sub(now)
	if diff <= 0 {
		return 0
	}
	return int(math.Ceil(float64(diff) / float64(day)))
}
