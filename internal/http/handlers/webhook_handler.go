package handlers

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Dhoini/scoutflow-billing/internal/domain"
	"github.com/Dhoini/scoutflow-billing/internal/integration"
	"github.com/Dhoini/scoutflow-billing/internal/metrics"
	"github.com/Dhoini/scoutflow-billing/internal/service"
	"github.com/Dhoini/scoutflow-billing/pkg/logger"
	"github.com/Dhoini/scoutflow-billing/pkg/res"
)

const (
	// Ограничение на размер тела запроса вебхука
	maxRequestBodySize = int64(65536)
)

// Reconciler применяет разобранное событие к данным подписки
type Reconciler interface {
	Reconcile(ctx context.Context, provider string, ev *domain.BillingEvent) service.Outcome
}

// WebhookAck - тело ответа провайдеру после приема события
type WebhookAck struct {
	Received bool `json:"received"`
}

// WebhookHandler принимает вебхуки всех провайдеров.
// Провайдер получает 200 на все, что прошло проверку подписи, даже если событие не удалось применить.
type WebhookHandler struct {
	reconciler    Reconciler
	metrics       metrics.WebhookMetrics
	log           *logger.Logger
	allowUnsigned bool
	now           func() time.Time
}

// NewWebhookHandler создает обработчик. allowUnsigned разрешает прием событий
// от провайдеров без настроенного секрета и используется только в development.
func NewWebhookHandler(reconciler Reconciler, m metrics.WebhookMetrics, allowUnsigned bool, log *logger.Logger) *WebhookHandler {
	if allowUnsigned {
		log.Warnw("Webhooks from providers without a configured secret will be accepted unsigned")
	}
	return &WebhookHandler{
		reconciler:    reconciler,
		metrics:       m,
		log:           log,
		allowUnsigned: allowUnsigned,
		now:           time.Now,
	}
}

// Handle возвращает gin-обработчик для конкретного провайдера
func (h *WebhookHandler) Handle(p integration.Provider) gin.HandlerFunc {
	provider := p.Name()
	return func(c *gin.Context) {
		log := h.log.With("provider", provider)
		defer func() {
			if r := recover(); r != nil {
				log.Errorw("Panic while handling webhook", "panic", r)
				res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Internal server error processing webhook"}, http.StatusInternalServerError)
				c.Abort()
			}
		}()
		h.metrics.IncWebhookReceived(provider)

		// 1. Тело читается один раз: оно нужно и для подписи, и для разбора
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBodySize)
		payload, err := io.ReadAll(c.Request.Body)
		//goland:noinspection GoUnhandledErrorResult
		defer c.Request.Body.Close()
		if err != nil {
			log.Errorw("Failed to read webhook request body", "error", err)
			res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Cannot read request body"}, http.StatusInternalServerError)
			c.Abort()
			return
		}

		// 2. Подпись
		verification := p.Verify(c.GetHeader(p.SignatureHeader()), payload, h.now())
		h.metrics.IncSignatureResult(provider, string(verification.Result))
		if !h.signatureAccepted(log, verification) {
			res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Webhook signature verification failed"}, http.StatusUnauthorized)
			c.Abort()
			return
		}

		// 3. Разбор. Ошибка разбора тоже подтверждается 200
		event, err := p.Parse(payload)
		if err != nil {
			log.Warnw("Failed to parse webhook payload, acknowledging", "error", err)
			res.JsonResponse(c.Writer, WebhookAck{Received: true}, http.StatusOK)
			return
		}
		log.Infow("Received webhook event", "eventID", event.EventID, "eventType", event.RawType, "kind", event.Kind)

		// 4. Применение
		outcome := h.reconciler.Reconcile(c.Request.Context(), provider, event)
		log.Infow("Webhook event processed", "eventID", event.EventID, "eventType", event.RawType, "outcome", outcome)
		res.JsonResponse(c.Writer, WebhookAck{Received: true}, http.StatusOK)
	}
}

func (h *WebhookHandler) signatureAccepted(log *logger.Logger, v integration.Verification) bool {
	switch v.Result {
	case integration.VerificationVerified:
		return true
	case integration.VerificationUnconfigured:
		if h.allowUnsigned {
			log.Warnw("Webhook secret is not configured, accepting unsigned event")
			return true
		}
		log.Errorw("Webhook secret is not configured, rejecting event")
		return false
	default:
		log.Warnw("Webhook signature rejected", "result", v.Result, "reason", v.Reason)
		return false
	}
}
