// Package stripe adapts Stripe subscription webhooks and Checkout sessions.
package stripe

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/Dhoini/scoutflow-billing/internal/domain"
	"github.com/Dhoini/scoutflow-billing/internal/integration"
)

const (
	// ProviderName имя провайдера в URL и в записи подписки
	ProviderName = "stripe"
	// SignatureHeader заголовок подписи Stripe
	SignatureHeader = "Stripe-Signature"

	// Ключ метаданных для связи объектов Stripe с user_id
	metadataUserIDKey = "user_id"
)

// Provider реализует integration.Provider для Stripe
type Provider struct {
	secret    string
	tolerance time.Duration
}

// NewProvider создает адаптер. Пустой secret означает, что проверка подписи не настроена.
func NewProvider(secret string, tolerance time.Duration) *Provider {
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &Provider{secret: secret, tolerance: tolerance}
}

// Name возвращает имя провайдера
func (p *Provider) Name() string { return ProviderName }

// SignatureHeader возвращает имя заголовка подписи
func (p *Provider) SignatureHeader() string { return SignatureHeader }

// Verify проверяет Stripe-Signature средствами stripe-go.
// Свежесть метки времени stripe-go сверяет с системными часами, now не используется.
func (p *Provider) Verify(header string, payload []byte, _ time.Time) integration.Verification {
	if p.secret == "" {
		return integration.Unconfigured()
	}
	if header == "" {
		return integration.Missing(SignatureHeader)
	}
	err := webhook.ValidatePayloadWithTolerance(payload, header, p.secret, p.tolerance)
	switch {
	case err == nil:
		return integration.Verified()
	case errors.Is(err, webhook.ErrNotSigned):
		return integration.Missing(SignatureHeader)
	default:
		return integration.Invalid("%v", err)
	}
}

// Parse разбирает событие Stripe. Проверку версии API, которую делает webhook.ConstructEvent,
// пропускаем: нужные поля подписки и счета стабильны между версиями.
func (p *Provider) Parse(payload []byte) (*domain.BillingEvent, error) {
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	if event.Type == "" || event.Data == nil {
		return nil, fmt.Errorf("%w: event type or data is empty", domain.ErrMalformedPayload)
	}

	kind, ok := eventKinds[string(event.Type)]
	if !ok {
		kind = domain.EventKindUnknown
	}
	ev := &domain.BillingEvent{
		Provider: ProviderName,
		EventID:  event.ID,
		RawType:  string(event.Type),
		Kind:     kind,
	}
	// без created событие не участвует в fencing
	if event.Created != 0 {
		ev.OccurredAt = time.Unix(event.Created, 0).UTC()
	}

	var err error
	switch {
	case strings.HasPrefix(ev.RawType, "customer.subscription."):
		err = fillFromSubscription(ev, event.Data.Raw)
	case strings.HasPrefix(ev.RawType, "invoice."):
		err = fillFromInvoice(ev, event.Data.Raw)
	}
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func fillFromSubscription(ev *domain.BillingEvent, raw json.RawMessage) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return fmt.Errorf("%w: subscription object: %v", domain.ErrMalformedPayload, err)
	}

	ev.RawStatus = string(sub.Status)
	var known bool
	ev.Status, known = Statuses.Map(ev.RawStatus)
	ev.StatusFallback = !known
	ev.ExternalSubscriptionID = sub.ID
	ev.User.UserID = userIDFromMetadata(sub.Metadata)
	// В вебхуке customer не раскрыт и email пуст, поэтому пользователь находится по metadata.user_id,
	// который проставляет StripeCheckout. Email используется, только если объект пришел раскрытым.
	if sub.Customer != nil {
		ev.ExternalCustomerID = sub.Customer.ID
		ev.User.Email = sub.Customer.Email
	}
	ev.PeriodStart = integration.UnixTime(sub.CurrentPeriodStart)
	ev.PeriodEnd = integration.UnixTime(sub.CurrentPeriodEnd)
	ev.TrialEndsAt = integration.UnixTime(sub.TrialEnd)
	return nil
}

func fillFromInvoice(ev *domain.BillingEvent, raw json.RawMessage) error {
	var inv stripe.Invoice
	if err := json.Unmarshal(raw, &inv); err != nil {
		return fmt.Errorf("%w: invoice object: %v", domain.ErrMalformedPayload, err)
	}

	ev.RawStatus = string(inv.Status)
	// статус счета (paid, open) не является статусом подписки.
	// Для оплаченного счета итоговый статус выводится из суммы: нулевой счет выставляется на триал.
	// Период счета описывает прошедший цикл, поэтому границы периода берем только из событий подписки.
	if ev.Kind == domain.EventKindPastDue {
		ev.Status = domain.SubscriptionStatusPastDue
	} else {
		ev.Status = domain.SubscriptionStatusActive
	}
	if inv.Subscription != nil {
		ev.ExternalSubscriptionID = inv.Subscription.ID
		ev.User.UserID = userIDFromMetadata(inv.Subscription.Metadata)
	}
	if ev.User.UserID == "" && inv.SubscriptionDetails != nil {
		ev.User.UserID = userIDFromMetadata(inv.SubscriptionDetails.Metadata)
	}
	if ev.User.UserID == "" {
		ev.User.UserID = userIDFromMetadata(inv.Metadata)
	}
	if inv.Customer != nil {
		ev.ExternalCustomerID = inv.Customer.ID
	}
	ev.User.Email = inv.CustomerEmail
	total := inv.Total
	ev.TransactionTotal = &total
	return nil
}
