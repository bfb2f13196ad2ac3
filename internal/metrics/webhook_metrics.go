package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// WebhookMetrics интерфейс для метрик обработки вебхуков
type WebhookMetrics interface {
	IncWebhookReceived(provider string)
	IncSignatureResult(provider, result string)
	IncReconciled(provider, kind, outcome string)
	IncResolution(provider, strategy string)
	ObserveReconcileDuration(provider string, d time.Duration)
	IncCheckout(provider, result string)
}

type webhookMetrics struct {
	received   *prometheus.CounterVec
	signatures *prometheus.CounterVec
	reconciled *prometheus.CounterVec
	resolution *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	checkouts  *prometheus.CounterVec
}

// NewWebhookMetrics регистрирует метрики вебхуков в registry
func NewWebhookMetrics(registry *prometheus.Registry) WebhookMetrics {
	factory := promauto.With(registry)
	return &webhookMetrics{
		received: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_webhooks_received_total",
				Help: "The total number of received provider webhooks",
			},
			[]string{"provider"},
		),
		signatures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_webhook_signatures_total",
				Help: "Webhook signature verification results",
			},
			[]string{"provider", "result"},
		),
		reconciled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_webhooks_reconciled_total",
				Help: "Reconciled webhook events by normalized kind and outcome",
			},
			[]string{"provider", "kind", "outcome"},
		),
		resolution: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_user_resolution_total",
				Help: "User resolution results by strategy",
			},
			[]string{"provider", "strategy"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "billing_reconcile_duration_seconds",
				Help:    "Time spent reconciling a webhook event",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms .. ~2.5s
			},
			[]string{"provider"},
		),
		checkouts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_checkouts_total",
				Help: "Checkout session creation attempts",
			},
			[]string{"provider", "result"},
		),
	}
}

// IncWebhookReceived увеличивает счетчик полученных вебхуков
func (m *webhookMetrics) IncWebhookReceived(provider string) {
	m.received.WithLabelValues(provider).Inc()
}

// IncSignatureResult считает результаты проверки подписи
func (m *webhookMetrics) IncSignatureResult(provider, result string) {
	m.signatures.WithLabelValues(provider, result).Inc()
}

// IncReconciled считает итог обработки события
func (m *webhookMetrics) IncReconciled(provider, kind, outcome string) {
	m.reconciled.WithLabelValues(provider, kind, outcome).Inc()
}

// IncResolution считает, какая стратегия нашла пользователя ("none" - никакая)
func (m *webhookMetrics) IncResolution(provider, strategy string) {
	m.resolution.WithLabelValues(provider, strategy).Inc()
}

// ObserveReconcileDuration записывает длительность обработки
func (m *webhookMetrics) ObserveReconcileDuration(provider string, d time.Duration) {
	m.duration.WithLabelValues(provider).Observe(d.Seconds())
}

// IncCheckout считает попытки создать сессию оплаты
func (m *webhookMetrics) IncCheckout(provider, result string) {
	m.checkouts.WithLabelValues(provider, result).Inc()
}

// Nop возвращает реализацию, которая ничего не записывает
func Nop() WebhookMetrics { return nopMetrics{} }

type nopMetrics struct{}

func (nopMetrics) IncWebhookReceived(string)                      {}
func (nopMetrics) IncSignatureResult(string, string)              {}
func (nopMetrics) IncReconciled(string, string, string)           {}
func (nopMetrics) IncResolution(string, string)                   {}
func (nopMetrics) ObserveReconcileDuration(string, time.Duration) {}
func (nopMetrics) IncCheckout(string, string)                     {}
