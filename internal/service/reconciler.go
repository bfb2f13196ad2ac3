// Package service holds the webhook reconciliation logic.
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Dhoini/scoutflow-billing/internal/domain"
	"github.com/Dhoini/scoutflow-billing/internal/kafka"
	"github.com/Dhoini/scoutflow-billing/internal/metrics"
	"github.com/Dhoini/scoutflow-billing/internal/repository"
	"github.com/Dhoini/scoutflow-billing/internal/resolver"
	"github.com/Dhoini/scoutflow-billing/pkg/logger"
)

// Outcome итог обработки одного события
type Outcome string

const (
	OutcomeApplied        Outcome = "applied"
	OutcomeIgnoredUnknown Outcome = "ignored_unknown"
	OutcomeUnresolved     Outcome = "unresolved"
	OutcomeStale          Outcome = "stale"
	OutcomeNoop           Outcome = "noop"
	OutcomeStoreFailed    Outcome = "store_failed"
)

// Resolver находит пользователя по подсказке из события
type Resolver interface {
	Resolve(ctx context.Context, hint domain.UserHint) (resolver.Resolution, error)
}

// handler применяет событие к записи пользователя и возвращает итог и новый статус
type handler func(ctx context.Context, userID string, ev *domain.BillingEvent) (Outcome, domain.SubscriptionStatus)

// Reconciler переводит нормализованные события провайдеров в изменения записи подписки.
// Ошибки хранилища логируются и не возвращаются: провайдер в любом случае получает подтверждение.
type Reconciler struct {
	repo      repository.SubscriptionRepository
	resolvers map[string]Resolver
	fallback  Resolver
	producer  kafka.Producer
	metrics   metrics.WebhookMetrics
	log       *logger.Logger
	now       func() time.Time
	dispatch  map[domain.EventKind]handler
	publishWG sync.WaitGroup
}

// Option настраивает Reconciler
type Option func(*Reconciler)

// WithProviderResolver задает отдельную цепочку резолвинга для провайдера
func WithProviderResolver(provider string, r Resolver) Option {
	return func(rc *Reconciler) { rc.resolvers[provider] = r }
}

// WithProducer включает публикацию subscription.changed
func WithProducer(p kafka.Producer) Option {
	return func(rc *Reconciler) { rc.producer = p }
}

// WithMetrics подключает метрики
func WithMetrics(m metrics.WebhookMetrics) Option {
	return func(rc *Reconciler) { rc.metrics = m }
}

// WithClock подменяет источник времени
func WithClock(now func() time.Time) Option {
	return func(rc *Reconciler) { rc.now = now }
}

// NewReconciler создает Reconciler. fallback используется для провайдеров без своей цепочки.
func NewReconciler(repo repository.SubscriptionRepository, fallback Resolver, log *logger.Logger, opts ...Option) *Reconciler {
	rc := &Reconciler{
		repo:      repo,
		resolvers: make(map[string]Resolver),
		fallback:  fallback,
		metrics:   metrics.Nop(),
		log:       log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(rc)
	}
	if rc.producer == nil {
		log.Warnw("Kafka producer is nil, subscription change publishing will be skipped")
	}

	rc.dispatch = map[domain.EventKind]handler{
		domain.EventKindCreated:              rc.upsertMapped,
		domain.EventKindUpdated:              rc.upsertMapped,
		domain.EventKindActivated:            rc.upsertMapped,
		domain.EventKindTrialing:             rc.upsertTrialing,
		domain.EventKindTransactionCompleted: rc.upsertTransaction,
		domain.EventKindCanceled:             rc.setStatus(domain.SubscriptionStatusCancelled),
		domain.EventKindPastDue:              rc.setStatus(domain.SubscriptionStatusPastDue),
		domain.EventKindPaused:               rc.setStatus(domain.SubscriptionStatusPaused),
		domain.EventKindResumed:              rc.setStatus(domain.SubscriptionStatusActive),
		domain.EventKindExpired:              rc.setStatus(domain.SubscriptionStatusExpired),
	}
	return rc
}

// Reconcile применяет событие провайдера. Никогда не паникует на данных события и не возвращает ошибок.
func (r *Reconciler) Reconcile(ctx context.Context, provider string, ev *domain.BillingEvent) Outcome {
	start := r.now()
	outcome := r.reconcile(ctx, provider, ev)
	r.metrics.IncReconciled(provider, string(ev.Kind), string(outcome))
	r.metrics.ObserveReconcileDuration(provider, r.now().Sub(start))
	return outcome
}

func (r *Reconciler) reconcile(ctx context.Context, provider string, ev *domain.BillingEvent) Outcome {
	log := r.log.With("provider", provider, "eventID", ev.EventID, "eventType", ev.RawType)

	apply, ok := r.dispatch[ev.Kind]
	if !ok {
		log.Infow("Unhandled webhook event type, acknowledging without changes")
		return OutcomeIgnoredUnknown
	}

	res, err := r.resolverFor(provider).Resolve(ctx, ev.User)
	if err != nil {
		r.metrics.IncResolution(provider, "none")
		log.Warnw("Could not resolve user for webhook event, acknowledging without changes", "error", err)
		return OutcomeUnresolved
	}
	r.metrics.IncResolution(provider, res.Strategy)
	log = log.With("userID", res.UserID, "resolvedBy", res.Strategy)

	outcome, status := apply(ctx, res.UserID, ev)
	switch outcome {
	case OutcomeApplied:
		log.Infow("Subscription updated from webhook", "kind", ev.Kind, "status", status)
		r.publish(ctx, res.UserID, provider, ev, status)
	case OutcomeNoop:
		log.Infow("No subscription row to update, event acknowledged", "kind", ev.Kind)
	case OutcomeStale:
		log.Infow("Ignoring out-of-order webhook event", "kind", ev.Kind, "occurredAt", ev.OccurredAt)
	}
	return outcome
}

func (r *Reconciler) resolverFor(provider string) Resolver {
	if res, ok := r.resolvers[provider]; ok {
		return res
	}
	return r.fallback
}

// upsertMapped записывает статус из таблицы соответствия провайдера
func (r *Reconciler) upsertMapped(ctx context.Context, userID string, ev *domain.BillingEvent) (Outcome, domain.SubscriptionStatus) {
	if ev.StatusFallback {
		r.log.Warnw("Unknown provider subscription status, using default mapping",
			"provider", ev.Provider, "rawStatus", ev.RawStatus, "status", ev.Status, "userID", userID)
	}
	return r.upsert(ctx, r.subscriptionFromEvent(userID, ev, ev.Status))
}

// upsertTrialing принудительно ставит trialing и конец триала
func (r *Reconciler) upsertTrialing(ctx context.Context, userID string, ev *domain.BillingEvent) (Outcome, domain.SubscriptionStatus) {
	sub := r.subscriptionFromEvent(userID, ev, domain.SubscriptionStatusTrialing)
	if sub.TrialEndsAt == nil {
		sub.TrialEndsAt = ev.PeriodEnd
	}
	return r.upsert(ctx, sub)
}

// upsertTransaction: нулевая сумма оплаченной транзакции означает старт триала
func (r *Reconciler) upsertTransaction(ctx context.Context, userID string, ev *domain.BillingEvent) (Outcome, domain.SubscriptionStatus) {
	status := domain.SubscriptionStatusActive
	if ev.TransactionTotal != nil && *ev.TransactionTotal == 0 {
		status = domain.SubscriptionStatusTrialing
	}
	sub := r.subscriptionFromEvent(userID, ev, status)
	if status == domain.SubscriptionStatusTrialing && sub.TrialEndsAt == nil {
		sub.TrialEndsAt = ev.PeriodEnd
	}
	return r.upsert(ctx, sub)
}

func (r *Reconciler) upsert(ctx context.Context, sub *domain.Subscription) (Outcome, domain.SubscriptionStatus) {
	err := r.repo.Upsert(ctx, sub)
	switch {
	case err == nil:
		return OutcomeApplied, sub.Status
	case errors.Is(err, repository.ErrStaleEvent):
		return OutcomeStale, sub.Status
	default:
		r.log.Errorw("Failed to upsert subscription from webhook", "error", err, "userID", sub.UserID, "status", sub.Status)
		return OutcomeStoreFailed, sub.Status
	}
}

// setStatus обновляет статус существующей записи. Отсутствие записи - не ошибка.
func (r *Reconciler) setStatus(status domain.SubscriptionStatus) handler {
	return func(ctx context.Context, userID string, ev *domain.BillingEvent) (Outcome, domain.SubscriptionStatus) {
		upd := domain.StatusUpdate{
			UserID:  userID,
			Status:  status,
			EventAt: eventTime(ev),
		}
		if status == domain.SubscriptionStatusCancelled {
			now := r.now().UTC()
			upd.CancelledAt = &now
		}

		rows, err := r.repo.UpdateStatus(ctx, upd)
		switch {
		case errors.Is(err, repository.ErrStaleEvent):
			return OutcomeStale, status
		case err != nil:
			r.log.Errorw("Failed to update subscription status from webhook", "error", err, "userID", userID, "status", status)
			return OutcomeStoreFailed, status
		case rows == 0:
			return OutcomeNoop, status
		default:
			return OutcomeApplied, status
		}
	}
}

func (r *Reconciler) subscriptionFromEvent(userID string, ev *domain.BillingEvent, status domain.SubscriptionStatus) *domain.Subscription {
	sub := &domain.Subscription{
		UserID:                 userID,
		Status:                 status,
		Provider:               ev.Provider,
		ExternalSubscriptionID: optional(ev.ExternalSubscriptionID),
		ExternalCustomerID:     optional(ev.ExternalCustomerID),
		CurrentPeriodStart:     ev.PeriodStart,
		CurrentPeriodEnd:       ev.PeriodEnd,
		TrialEndsAt:            ev.TrialEndsAt,
		LastEventAt:            eventTime(ev),
	}
	if status == domain.SubscriptionStatusCancelled {
		now := r.now().UTC()
		sub.CancelledAt = &now
	}
	return sub
}

// publish отправляет subscription.changed в фоне, не задерживая ответ провайдеру
func (r *Reconciler) publish(ctx context.Context, userID, provider string, ev *domain.BillingEvent, status domain.SubscriptionStatus) {
	if r.producer == nil {
		return
	}
	msg := domain.SubscriptionChangedEvent{
		ID:         uuid.NewString(),
		UserID:     userID,
		Provider:   provider,
		Kind:       ev.Kind,
		Status:     status,
		OccurredAt: ev.OccurredAt,
		Timestamp:  r.now().UTC(),
	}

	r.publishWG.Add(1)
	go func() {
		defer r.publishWG.Done()
		kafkaCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := r.producer.PublishSubscriptionChanged(kafkaCtx, msg); err != nil {
			r.log.Errorw("Failed to publish subscription change", "error", err, "userID", userID)
		}
	}()
}

// Wait дожидается фоновых публикаций, вызывается при остановке сервиса
func (r *Reconciler) Wait() {
	r.publishWG.Wait()
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func eventTime(ev *domain.BillingEvent) *time.Time {
	if ev.OccurredAt.IsZero() {
		return nil
	}
	t := ev.OccurredAt.UTC()
	return &t
}
