// Package lemonsqueezy adapts Lemon Squeezy subscription webhooks and checkouts.
package lemonsqueezy

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Dhoini/scoutflow-billing/internal/domain"
	"github.com/Dhoini/scoutflow-billing/internal/integration"
)

const (
	// ProviderName имя провайдера в URL и в записи подписки
	ProviderName = "lemonsqueezy"
	// SignatureHeader - hex HMAC-SHA256 от сырого тела
	SignatureHeader = "X-Signature"
)

// eventKinds таблица типов событий Lemon Squeezy. Успешная оплата счета подтверждает подписку.
var eventKinds = map[string]domain.EventKind{
	"subscription_created":           domain.EventKindCreated,
	"subscription_updated":           domain.EventKindUpdated,
	"subscription_cancelled":         domain.EventKindCanceled,
	"subscription_resumed":           domain.EventKindResumed,
	"subscription_unpaused":          domain.EventKindResumed,
	"subscription_paused":            domain.EventKindPaused,
	"subscription_expired":           domain.EventKindExpired,
	"subscription_payment_failed":    domain.EventKindPastDue,
	"subscription_payment_success":   domain.EventKindActivated,
	"subscription_payment_recovered": domain.EventKindActivated,
}

// invoiceStatuses статусы для событий по счетам. В атрибутах счета лежит статус счета, а не подписки.
var invoiceStatuses = map[string]domain.SubscriptionStatus{
	"subscription_payment_success":   domain.SubscriptionStatusActive,
	"subscription_payment_recovered": domain.SubscriptionStatusActive,
	"subscription_payment_failed":    domain.SubscriptionStatusPastDue,
}

const subscriptionsType = "subscriptions"

// Statuses таблица статусов Lemon Squeezy. Неизвестные значения отображаются в active.
var Statuses = integration.StatusTable{
	Known: map[string]domain.SubscriptionStatus{
		"on_trial":  domain.SubscriptionStatusTrialing,
		"active":    domain.SubscriptionStatusActive,
		"paused":    domain.SubscriptionStatusPaused,
		"past_due":  domain.SubscriptionStatusPastDue,
		"unpaid":    domain.SubscriptionStatusPastDue,
		"cancelled": domain.SubscriptionStatusCancelled,
		"expired":   domain.SubscriptionStatusExpired,
	},
	Fallback: domain.SubscriptionStatusActive,
}

type webhookPayload struct {
	Meta struct {
		EventName  string                 `json:"event_name"`
		WebhookID  string                 `json:"webhook_id"`
		CustomData map[string]interface{} `json:"custom_data"`
	} `json:"meta"`
	Data struct {
		ID         interface{} `json:"id"`
		Type       string      `json:"type"`
		Attributes attributes  `json:"attributes"`
	} `json:"data"`
}

type attributes struct {
	Status         string      `json:"status"`
	CustomerID     interface{} `json:"customer_id"`
	SubscriptionID interface{} `json:"subscription_id"`
	UserEmail      string      `json:"user_email"`
	RenewsAt       string      `json:"renews_at"`
	EndsAt         string      `json:"ends_at"`
	TrialEndsAt    string      `json:"trial_ends_at"`
	UpdatedAt      string      `json:"updated_at"`
}

// Provider реализует integration.Provider для Lemon Squeezy
type Provider struct {
	secret string
}

// NewProvider создает адаптер. Пустой secret означает, что проверка подписи не настроена.
func NewProvider(secret string) *Provider {
	return &Provider{secret: secret}
}

// Name возвращает имя провайдера
func (p *Provider) Name() string { return ProviderName }

// SignatureHeader возвращает имя заголовка подписи
func (p *Provider) SignatureHeader() string { return SignatureHeader }

// Verify проверяет X-Signature
func (p *Provider) Verify(header string, payload []byte, _ time.Time) integration.Verification {
	if p.secret == "" {
		return integration.Unconfigured()
	}
	if header == "" {
		return integration.Missing(SignatureHeader)
	}
	expected := integration.HMACSHA256Hex(p.secret, payload)
	if !integration.EqualSignatures(expected, header) {
		return integration.Invalid("signature mismatch")
	}
	return integration.Verified()
}

// Parse разбирает тело вебхука
func (p *Provider) Parse(payload []byte) (*domain.BillingEvent, error) {
	var body webhookPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	if body.Meta.EventName == "" {
		return nil, fmt.Errorf("%w: meta.event_name is empty", domain.ErrMalformedPayload)
	}

	attrs := body.Data.Attributes
	kind, ok := eventKinds[body.Meta.EventName]
	if !ok {
		kind = domain.EventKindUnknown
	}

	ev := &domain.BillingEvent{
		Provider:           ProviderName,
		EventID:            body.Meta.WebhookID,
		RawType:            body.Meta.EventName,
		Kind:               kind,
		RawStatus:          attrs.Status,
		ExternalCustomerID: integration.Stringify(attrs.CustomerID),
		User: domain.UserHint{
			UserID: integration.UserIDFromCustomData(body.Meta.CustomData),
			Email:  attrs.UserEmail,
		},
		PeriodEnd:   integration.ParseTime(attrs.RenewsAt),
		TrialEndsAt: integration.ParseTime(attrs.TrialEndsAt),
	}
	if ev.PeriodEnd == nil {
		ev.PeriodEnd = integration.ParseTime(attrs.EndsAt)
	}

	invoiceStatus, isInvoiceStatus := invoiceStatuses[body.Meta.EventName]
	if body.Data.Type == subscriptionsType {
		ev.ExternalSubscriptionID = integration.Stringify(body.Data.ID)
		if t := integration.ParseTime(attrs.UpdatedAt); t != nil {
			ev.OccurredAt = *t
		}
		isInvoiceStatus = false
	} else {
		// subscription-invoices: updated_at счета не сравним с updated_at подписки,
		// такие события не участвуют в fencing
		ev.ExternalSubscriptionID = integration.Stringify(attrs.SubscriptionID)
	}

	if isInvoiceStatus {
		ev.Status = invoiceStatus
	} else {
		var known bool
		ev.Status, known = Statuses.Map(attrs.Status)
		ev.StatusFallback = !known
	}
	return ev, nil
}
