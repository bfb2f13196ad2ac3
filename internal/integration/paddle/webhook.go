// Package paddle adapts Paddle Billing webhooks.
package paddle

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/Dhoini/scoutflow-billing/internal/domain"
	"github.com/Dhoini/scoutflow-billing/internal/integration"
)

const (
	// ProviderName имя провайдера в URL и в записи подписки
	ProviderName = "paddle"
	// SignatureHeader имеет вид ts=<unix>;h1=<hex>
	SignatureHeader = "Paddle-Signature"
	// DefaultTolerance допустимое расхождение ts и текущего времени
	DefaultTolerance = 5 * time.Minute
)

var eventKinds = map[string]domain.EventKind{
	"subscription.created":   domain.EventKindCreated,
	"subscription.updated":   domain.EventKindUpdated,
	"subscription.activated": domain.EventKindActivated,
	"subscription.trialing":  domain.EventKindTrialing,
	"subscription.canceled":  domain.EventKindCanceled,
	"subscription.past_due":  domain.EventKindPastDue,
	"subscription.paused":    domain.EventKindPaused,
	"subscription.resumed":   domain.EventKindResumed,
	"transaction.completed":  domain.EventKindTransactionCompleted,
}

// Statuses таблица статусов Paddle. Неизвестные значения отображаются в active.
var Statuses = integration.StatusTable{
	Known: map[string]domain.SubscriptionStatus{
		"active":   domain.SubscriptionStatusActive,
		"trialing": domain.SubscriptionStatusTrialing,
		"past_due": domain.SubscriptionStatusPastDue,
		"paused":   domain.SubscriptionStatusPaused,
		"canceled": domain.SubscriptionStatusCancelled,
	},
	Fallback: domain.SubscriptionStatusActive,
}

type webhookPayload struct {
	EventID    string `json:"event_id"`
	EventType  string `json:"event_type"`
	OccurredAt string `json:"occurred_at"`
	Data       data   `json:"data"`
}

type period struct {
	StartsAt string `json:"starts_at"`
	EndsAt   string `json:"ends_at"`
}

type totals struct {
	Total string `json:"total"`
}

type customer struct {
	Email string `json:"email"`
}

type item struct {
	TrialDates *period `json:"trial_dates"`
}

type details struct {
	Totals *totals `json:"totals"`
}

type data struct {
	ID                   string                 `json:"id"`
	Status               string                 `json:"status"`
	CustomerID           string                 `json:"customer_id"`
	SubscriptionID       string                 `json:"subscription_id"`
	CustomData           map[string]interface{} `json:"custom_data"`
	CurrentBillingPeriod *period                `json:"current_billing_period"`
	BillingPeriod        *period                `json:"billing_period"`
	Customer             *customer              `json:"customer"`
	Items                []item                 `json:"items"`
	Details              *details               `json:"details"`
	Totals               *totals                `json:"totals"`
}

// Provider реализует integration.Provider для Paddle Billing
type Provider struct {
	secret    string
	tolerance time.Duration
}

// NewProvider создает адаптер. tolerance <= 0 заменяется на DefaultTolerance.
func NewProvider(secret string, tolerance time.Duration) *Provider {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Provider{secret: secret, tolerance: tolerance}
}

// Name возвращает имя провайдера
func (p *Provider) Name() string { return ProviderName }

// SignatureHeader возвращает имя заголовка подписи
func (p *Provider) SignatureHeader() string { return SignatureHeader }

// Verify проверяет Paddle-Signature: HMAC-SHA256 от "ts:body" и свежесть ts
func (p *Provider) Verify(header string, payload []byte, now time.Time) integration.Verification {
	if p.secret == "" {
		return integration.Unconfigured()
	}
	if header == "" {
		return integration.Missing(SignatureHeader)
	}

	ts, signatures := parseSignatureHeader(header)
	if ts == "" || len(signatures) == 0 {
		return integration.Invalid("malformed %s header", SignatureHeader)
	}
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return integration.Invalid("bad timestamp %q", ts)
	}
	if skew := now.Sub(time.Unix(sec, 0)); math.Abs(float64(skew)) > float64(p.tolerance) {
		return integration.Invalid("timestamp outside tolerance: %s", skew.Round(time.Second))
	}

	expected := integration.HMACSHA256Hex(p.secret, []byte(ts), []byte(":"), payload)
	// при ротации секрета Paddle присылает несколько h1
	for _, sig := range signatures {
		if integration.EqualSignatures(expected, sig) {
			return integration.Verified()
		}
	}
	return integration.Invalid("signature mismatch")
}

func parseSignatureHeader(header string) (string, []string) {
	var ts string
	var signatures []string
	for _, part := range strings.Split(header, ";") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "ts":
			ts = kv[1]
		case "h1":
			signatures = append(signatures, kv[1])
		}
	}
	return ts, signatures
}

// Parse разбирает тело вебхука
func (p *Provider) Parse(payload []byte) (*domain.BillingEvent, error) {
	var body webhookPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	if body.EventType == "" {
		return nil, fmt.Errorf("%w: event_type is empty", domain.ErrMalformedPayload)
	}

	d := body.Data
	kind, ok := eventKinds[body.EventType]
	if !ok {
		kind = domain.EventKindUnknown
	}

	ev := &domain.BillingEvent{
		Provider:           ProviderName,
		EventID:            body.EventID,
		RawType:            body.EventType,
		Kind:               kind,
		RawStatus:          d.Status,
		ExternalCustomerID: d.CustomerID,
		User: domain.UserHint{
			UserID: integration.UserIDFromCustomData(d.CustomData),
		},
	}
	if d.Customer != nil {
		ev.User.Email = strings.TrimSpace(d.Customer.Email)
	}
	var known bool
	ev.Status, known = Statuses.Map(d.Status)
	ev.StatusFallback = !known

	billing := d.CurrentBillingPeriod
	if kind == domain.EventKindTransactionCompleted {
		ev.ExternalSubscriptionID = d.SubscriptionID
		if billing == nil {
			billing = d.BillingPeriod
		}
		total, err := transactionTotal(d)
		if err != nil {
			return nil, err
		}
		ev.TransactionTotal = total
	} else {
		ev.ExternalSubscriptionID = d.ID
	}
	if billing != nil {
		ev.PeriodStart = integration.ParseTime(billing.StartsAt)
		ev.PeriodEnd = integration.ParseTime(billing.EndsAt)
	}

	for _, item := range d.Items {
		if item.TrialDates != nil {
			if t := integration.ParseTime(item.TrialDates.EndsAt); t != nil {
				ev.TrialEndsAt = t
				break
			}
		}
	}
	if ev.TrialEndsAt == nil && kind == domain.EventKindTrialing {
		ev.TrialEndsAt = ev.PeriodEnd
	}

	// без occurred_at событие не участвует в fencing
	if t := integration.ParseTime(body.OccurredAt); t != nil {
		ev.OccurredAt = *t
	}
	return ev, nil
}

// transactionTotal достает сумму транзакции. Paddle передает суммы строкой в минимальных единицах.
func transactionTotal(d data) (*int64, error) {
	var raw string
	if d.Details != nil && d.Details.Totals != nil {
		raw = d.Details.Totals.Total
	}
	if raw == "" && d.Totals != nil {
		raw = d.Totals.Total
	}
	if raw == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad transaction total %q", domain.ErrMalformedPayload, raw)
	}
	total := int64(math.Round(f))
	return &total, nil
}
