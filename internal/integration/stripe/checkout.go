package stripe

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	"github.com/Dhoini/scoutflow-billing/internal/domain"
	"github.com/Dhoini/scoutflow-billing/internal/integration"
	"github.com/Dhoini/scoutflow-billing/pkg/logger"
)

// CheckoutConfig параметры Stripe Checkout
type CheckoutConfig struct {
	APIKey    string
	PriceID   string
	TrialDays int64
}

// CheckoutClient создает сессии Stripe Checkout в режиме подписки
type CheckoutClient struct {
	client *client.API
	cfg    CheckoutConfig
	log    *logger.Logger
}

// NewCheckoutClient создает клиента. backends == nil означает стандартные адреса API Stripe.
func NewCheckoutClient(cfg CheckoutConfig, backends *stripe.Backends, log *logger.Logger) *CheckoutClient {
	sc := &client.API{}
	sc.Init(cfg.APIKey, backends)
	return &CheckoutClient{client: sc, cfg: cfg, log: log}
}

// CreateCheckout находит или создает клиента Stripe и открывает для него сессию оплаты
func (c *CheckoutClient) CreateCheckout(ctx context.Context, req integration.CheckoutRequest) (string, error) {
	if c.cfg.APIKey == "" || c.cfg.PriceID == "" {
		return "", fmt.Errorf("%w: stripe checkout is not configured", domain.ErrInvalidInput)
	}
	if req.UserID == "" {
		return "", fmt.Errorf("%w: user id is required", domain.ErrInvalidInput)
	}

	customerID, err := c.getOrCreateCustomer(ctx, req.UserID, req.Email)
	if err != nil {
		return "", err
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:          stripe.String(customerID),
		ClientReferenceID: stripe.String(req.UserID),
		SuccessURL:        stripe.String(req.RedirectURL),
		CancelURL:         stripe.String(req.RedirectURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(c.cfg.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			// user_id в метаданных подписки приходит обратно во всех событиях customer.subscription.*
			Metadata: map[string]string{metadataUserIDKey: req.UserID},
		},
	}
	if c.cfg.TrialDays > 0 {
		params.SubscriptionData.TrialPeriodDays = stripe.Int64(c.cfg.TrialDays)
	}
	params.Context = ctx

	sess, err := c.client.CheckoutSessions.New(params)
	if err != nil {
		logStripeError(c.log, "CreateCheckoutSession", err)
		return "", wrapStripeError("create checkout session", err)
	}

	c.log.Infow("Stripe checkout session created", "sessionID", sess.ID, "userID", req.UserID)
	return sess.URL, nil
}

// getOrCreateCustomer ищет клиента по user_id в метаданных, если не находит - создает нового.
func (c *CheckoutClient) getOrCreateCustomer(ctx context.Context, userID, email string) (string, error) {
	searchParams := &stripe.CustomerSearchParams{
		SearchParams: stripe.SearchParams{
			Query:   fmt.Sprintf("metadata['%s']:'%s'", metadataUserIDKey, userID),
			Limit:   stripe.Int64(1),
			Context: ctx,
		},
	}
	customers := c.client.Customers.Search(searchParams)
	if customers.Next() {
		customer := customers.Customer()
		c.log.Debugw("Found existing Stripe customer", "stripeCustomerID", customer.ID, "userID", userID)
		return customer.ID, nil
	}
	if err := customers.Err(); err != nil {
		// поиск может быть недоступен в отдельных регионах, в этом случае просто создаем клиента
		logStripeError(c.log, "SearchCustomers", err)
		c.log.Warnw("Stripe customer search failed, creating new customer", "userID", userID, "error", err)
	}

	params := &stripe.CustomerParams{
		Metadata: map[string]string{metadataUserIDKey: userID},
	}
	if email != "" {
		params.Email = stripe.String(email)
	}
	params.Context = ctx

	cus, err := c.client.Customers.New(params)
	if err != nil {
		logStripeError(c.log, "CreateCustomer", err)
		return "", wrapStripeError("create customer", err)
	}
	c.log.Infow("Stripe customer created", "stripeCustomerID", cus.ID, "userID", userID)
	return cus.ID, nil
}

func wrapStripeError(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return domain.NewExternalServiceError(ProviderName, string(stripeErr.Code), stripeErr.Msg, stripeErr.HTTPStatusCode, err)
	}
	return domain.NewExternalServiceError(ProviderName, "", op+" failed", 0, err)
}

// logStripeError - вспомогательная функция для логирования деталей ошибки Stripe.
func logStripeError(log *logger.Logger, operation string, err error) {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		log.Errorw("Stripe API error",
			"operation", operation,
			"type", string(stripeErr.Type),
			"code", string(stripeErr.Code),
			"param", stripeErr.Param,
			"message", stripeErr.Msg,
			"request_id", stripeErr.RequestID,
			"status_code", stripeErr.HTTPStatusCode,
		)
	} else {
		log.Errorw("Non-Stripe error during Stripe operation",
			"operation", operation,
			"error", err,
		)
	}
}
