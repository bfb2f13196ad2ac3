package domain

import (
	"time"
)

// SubscriptionStatus статус подписки
type SubscriptionStatus string

const (
	SubscriptionStatusTrialing  SubscriptionStatus = "trialing"
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusPastDue   SubscriptionStatus = "past_due"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
	SubscriptionStatusPaused    SubscriptionStatus = "paused"
	// SubscriptionStatusNone - записи о подписке нет
	SubscriptionStatusNone SubscriptionStatus = "none"
)

// AllSubscriptionStatuses перечисляет все значения статуса
var AllSubscriptionStatuses = []SubscriptionStatus{
	SubscriptionStatusTrialing,
	SubscriptionStatusActive,
	SubscriptionStatusPastDue,
	SubscriptionStatusCancelled,
	SubscriptionStatusExpired,
	SubscriptionStatusPaused,
	SubscriptionStatusNone,
}

// Valid проверяет, что статус входит в перечисление
func (s SubscriptionStatus) Valid() bool {
	for _, v := range AllSubscriptionStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// GrantsAccess возвращает true для статусов, открывающих платные функции.
// past_due считается льготным периодом, а не отказом.
func (s SubscriptionStatus) GrantsAccess() bool {
	switch s {
	case SubscriptionStatusActive, SubscriptionStatusTrialing, SubscriptionStatusPastDue:
		return true
	default:
		return false
	}
}

// Subscription - запись о подписке пользователя. Не более одной на user_id.
type Subscription struct {
	UserID                 string             `db:"user_id" json:"user_id"`
	Status                 SubscriptionStatus `db:"status" json:"status"`
	Provider               string             `db:"provider" json:"provider,omitempty"`
	ExternalSubscriptionID *string            `db:"external_subscription_id" json:"external_subscription_id"`
	ExternalCustomerID     *string            `db:"external_customer_id" json:"external_customer_id"`
	CurrentPeriodStart     *time.Time         `db:"current_period_start" json:"current_period_start"`
	CurrentPeriodEnd       *time.Time         `db:"current_period_end" json:"current_period_end"`
	TrialEndsAt            *time.Time         `db:"trial_ends_at" json:"trial_ends_at"`
	CancelledAt            *time.Time         `db:"cancelled_at" json:"cancelled_at"`
	// LastEventAt - время последнего примененного события провайдера, используется для отсечения устаревших событий
	LastEventAt *time.Time `db:"last_event_at" json:"last_event_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// Clone возвращает глубокую копию записи
func (s *Subscription) Clone() *Subscription {
	if s == nil {
		return nil
	}
	c := *s
	c.ExternalSubscriptionID = cloneString(s.ExternalSubscriptionID)
	c.ExternalCustomerID = cloneString(s.ExternalCustomerID)
	c.CurrentPeriodStart = cloneTime(s.CurrentPeriodStart)
	c.CurrentPeriodEnd = cloneTime(s.CurrentPeriodEnd)
	c.TrialEndsAt = cloneTime(s.TrialEndsAt)
	c.CancelledAt = cloneTime(s.CancelledAt)
	c.LastEventAt = cloneTime(s.LastEventAt)
	return &c
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// StatusOrNone возвращает статус записи или none, если записи нет
func (s *Subscription) StatusOrNone() SubscriptionStatus {
	if s == nil || s.Status == "" {
		return SubscriptionStatusNone
	}
	return s.Status
}

// StatusUpdate описывает точечное изменение статуса существующей записи
type StatusUpdate struct {
	UserID      string
	Status      SubscriptionStatus
	EventAt     *time.Time
	CancelledAt *time.Time
}
