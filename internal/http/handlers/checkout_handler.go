package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Dhoini/scoutflow-billing/internal/domain"
	"github.com/Dhoini/scoutflow-billing/internal/integration"
	"github.com/Dhoini/scoutflow-billing/internal/metrics"
	"github.com/Dhoini/scoutflow-billing/internal/middleware"
	"github.com/Dhoini/scoutflow-billing/pkg/logger"
	"github.com/Dhoini/scoutflow-billing/pkg/req"
	"github.com/Dhoini/scoutflow-billing/pkg/res"
)

// CheckoutHandler создает сессии оплаты у провайдеров
type CheckoutHandler struct {
	creators        map[string]integration.CheckoutCreator
	defaultProvider string
	metrics         metrics.WebhookMetrics
	log             *logger.Logger
}

// NewCheckoutHandler создает обработчик. defaultProvider используется, если клиент не указал провайдера.
func NewCheckoutHandler(creators map[string]integration.CheckoutCreator, defaultProvider string, m metrics.WebhookMetrics, log *logger.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		creators:        creators,
		defaultProvider: defaultProvider,
		metrics:         m,
		log:             log,
	}
}

type CreateCheckoutRequest struct {
	Provider    string `json:"provider" validate:"omitempty,max=32"`
	RedirectURL string `json:"redirect_url" validate:"required,url"`
}

type CreateCheckoutResponse struct {
	URL string `json:"url"`
}

// CreateCheckout обрабатывает POST /checkout
func (h *CheckoutHandler) CreateCheckout(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Unauthenticated"}, http.StatusUnauthorized)
		c.Abort()
		return
	}

	body, err := req.HandleBody[CreateCheckoutRequest](c.Writer, c.Request, h.log)
	if err != nil {
		c.Abort()
		return
	}

	provider := body.Provider
	if provider == "" {
		provider = h.defaultProvider
	}
	creator, ok := h.creators[provider]
	if !ok {
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Unsupported checkout provider", Details: provider}, http.StatusBadRequest)
		c.Abort()
		return
	}

	url, err := creator.CreateCheckout(c.Request.Context(), integration.CheckoutRequest{
		UserID:      userID,
		Email:       middleware.UserEmail(c),
		RedirectURL: body.RedirectURL,
	})
	if err != nil {
		h.metrics.IncCheckout(provider, "error")
		h.log.Errorw("Failed to create checkout session", "error", err, "provider", provider, "userID", userID)
		var extErr *domain.ExternalServiceError
		switch {
		case errors.Is(err, domain.ErrInvalidInput):
			res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Checkout is not available"}, http.StatusBadRequest)
		case errors.As(err, &extErr):
			res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Payment provider is unavailable"}, http.StatusBadGateway)
		default:
			res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Failed to create checkout session"}, http.StatusInternalServerError)
		}
		c.Abort()
		return
	}

	h.metrics.IncCheckout(provider, "created")
	h.log.Infow("Checkout session created", "provider", provider, "userID", userID)
	res.JsonResponse(c.Writer, CreateCheckoutResponse{URL: url}, http.StatusOK)
}
