package stripe

import (
	"github.com/Dhoini/scoutflow-billing/internal/domain"
	"github.com/Dhoini/scoutflow-billing/internal/integration"
)

// eventKinds таблица типов событий Stripe
var eventKinds = map[string]domain.EventKind{
	"customer.subscription.created":        domain.EventKindCreated,
	"customer.subscription.updated":        domain.EventKindUpdated,
	"customer.subscription.deleted":        domain.EventKindCanceled,
	"customer.subscription.paused":         domain.EventKindPaused,
	"customer.subscription.resumed":        domain.EventKindResumed,
	"customer.subscription.trial_will_end": domain.EventKindTrialing,
	"invoice.paid":                         domain.EventKindTransactionCompleted,
	"invoice.payment_succeeded":            domain.EventKindTransactionCompleted,
	"invoice.payment_failed":               domain.EventKindPastDue,
}

// Statuses таблица статусов подписки Stripe. Неизвестные значения отображаются в active.
var Statuses = integration.StatusTable{
	Known: map[string]domain.SubscriptionStatus{
		"active":             domain.SubscriptionStatusActive,
		"trialing":           domain.SubscriptionStatusTrialing,
		"past_due":           domain.SubscriptionStatusPastDue,
		"unpaid":             domain.SubscriptionStatusPastDue,
		"incomplete":         domain.SubscriptionStatusPastDue,
		"incomplete_expired": domain.SubscriptionStatusExpired,
		"canceled":           domain.SubscriptionStatusCancelled,
		"paused":             domain.SubscriptionStatusPaused,
	},
	Fallback: domain.SubscriptionStatusActive,
}

// userIDFromMetadata достает user_id из metadata объекта Stripe
func userIDFromMetadata(md map[string]string) string {
	if md == nil {
		return ""
	}
	if v := md[metadataUserIDKey]; v != "" {
		return v
	}
	return md["userId"]
}
