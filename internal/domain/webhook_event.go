package domain

import (
	"time"
)

// EventKind нормализованный тип события провайдера
type EventKind string

const (
	EventKindCreated              EventKind = "created"
	EventKindUpdated              EventKind = "updated"
	EventKindActivated            EventKind = "activated"
	EventKindTrialing             EventKind = "trialing"
	EventKindCanceled             EventKind = "canceled"
	EventKindPastDue              EventKind = "past_due"
	EventKindPaused               EventKind = "paused"
	EventKindResumed              EventKind = "resumed"
	EventKindExpired              EventKind = "expired"
	EventKindTransactionCompleted EventKind = "transaction_completed"
	EventKindUnknown              EventKind = "unknown"
)

// UserHint - все, что событие говорит о пользователе
type UserHint struct {
	UserID string
	Email  string
}

// BillingEvent - разобранное событие вебхука, независимое от провайдера
type BillingEvent struct {
	Provider string    `json:"provider"`
	EventID  string    `json:"event_id,omitempty"`
	RawType  string    `json:"raw_type"`
	Kind     EventKind `json:"kind"`

	// Status - статус, полученный из таблицы соответствия провайдера
	Status                 SubscriptionStatus `json:"status,omitempty"`
	RawStatus              string             `json:"raw_status,omitempty"`
	StatusFallback         bool               `json:"status_fallback,omitempty"`
	User                   UserHint           `json:"-"`
	ExternalSubscriptionID string             `json:"external_subscription_id,omitempty"`
	ExternalCustomerID     string             `json:"external_customer_id,omitempty"`
	PeriodStart            *time.Time         `json:"period_start,omitempty"`
	PeriodEnd              *time.Time         `json:"period_end,omitempty"`
	TrialEndsAt            *time.Time         `json:"trial_ends_at,omitempty"`

	// TransactionTotal заполняется только для transaction_completed, в минимальных единицах валюты
	TransactionTotal *int64    `json:"transaction_total,omitempty"`
	OccurredAt       time.Time `json:"occurred_at"`
}

// SubscriptionChangedEvent публикуется в Kafka после применения изменения
type SubscriptionChangedEvent struct {
	ID         string             `json:"id"`
	UserID     string             `json:"user_id"`
	Provider   string             `json:"provider"`
	Kind       EventKind          `json:"kind"`
	Status     SubscriptionStatus `json:"status"`
	OccurredAt time.Time          `json:"occurred_at"`
	Timestamp  time.Time          `json:"timestamp"`
}
