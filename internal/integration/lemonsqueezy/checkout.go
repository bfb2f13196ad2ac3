package lemonsqueezy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Dhoini/scoutflow-billing/internal/domain"
	"github.com/Dhoini/scoutflow-billing/internal/integration"
	"github.com/Dhoini/scoutflow-billing/pkg/logger"
)

const (
	defaultAPIBaseURL = "https://api.lemonsqueezy.com"
	jsonAPIMediaType  = "application/vnd.api+json"
)

// CheckoutConfig параметры создания checkout в Lemon Squeezy
type CheckoutConfig struct {
	APIKey    string
	StoreID   string
	VariantID string
	BaseURL   string
	// MaxElapsed ограничивает суммарное время повторных попыток
	MaxElapsed time.Duration
}

// CheckoutClient создает checkout через REST API Lemon Squeezy
type CheckoutClient struct {
	cfg  CheckoutConfig
	http *http.Client
	log  *logger.Logger
}

// NewCheckoutClient создает клиент. httpClient может быть nil.
func NewCheckoutClient(cfg CheckoutConfig, httpClient *http.Client, log *logger.Logger) *CheckoutClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultAPIBaseURL
	}
	if cfg.MaxElapsed == 0 {
		cfg.MaxElapsed = 10 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &CheckoutClient{cfg: cfg, http: httpClient, log: log}
}

type checkoutRequest struct {
	Data checkoutRequestData `json:"data"`
}

type checkoutRequestData struct {
	Type          string                 `json:"type"`
	Attributes    checkoutAttributes     `json:"attributes"`
	Relationships map[string]relationRef `json:"relationships"`
}

type checkoutAttributes struct {
	CheckoutData struct {
		Email  string            `json:"email,omitempty"`
		Custom map[string]string `json:"custom"`
	} `json:"checkout_data"`
	ProductOptions struct {
		RedirectURL string `json:"redirect_url,omitempty"`
	} `json:"product_options"`
}

type relationRef struct {
	Data struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	} `json:"data"`
}

type checkoutResponse struct {
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			URL string `json:"url"`
		} `json:"attributes"`
	} `json:"data"`
}

func relation(kind, id string) relationRef {
	var r relationRef
	r.Data.Type = kind
	r.Data.ID = id
	return r
}

// CreateCheckout создает checkout и возвращает его URL
func (c *CheckoutClient) CreateCheckout(ctx context.Context, req integration.CheckoutRequest) (string, error) {
	if c.cfg.APIKey == "" || c.cfg.StoreID == "" || c.cfg.VariantID == "" {
		return "", fmt.Errorf("lemonsqueezy: checkout is not configured: %w", domain.ErrInvalidInput)
	}
	if req.UserID == "" {
		return "", fmt.Errorf("lemonsqueezy: user id is required: %w", domain.ErrInvalidInput)
	}

	body := checkoutRequest{Data: checkoutRequestData{
		Type: "checkouts",
		Relationships: map[string]relationRef{
			"store":   relation("stores", c.cfg.StoreID),
			"variant": relation("variants", c.cfg.VariantID),
		},
	}}
	body.Data.Attributes.CheckoutData.Email = req.Email
	body.Data.Attributes.CheckoutData.Custom = map[string]string{"user_id": req.UserID}
	body.Data.Attributes.ProductOptions.RedirectURL = req.RedirectURL

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("lemonsqueezy: failed to marshal checkout request: %w", err)
	}

	var url string
	operation := func() error {
		var opErr error
		url, opErr = c.post(ctx, payload)
		if opErr == nil {
			return nil
		}
		var extErr *domain.ExternalServiceError
		if errors.As(opErr, &extErr) && extErr.Retryable() {
			c.log.Warnw("Retryable Lemon Squeezy error, retrying", "error", opErr, "userID", req.UserID)
			return opErr
		}
		return backoff.Permanent(opErr)
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = c.cfg.MaxElapsed
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		c.log.Errorw("Failed to create Lemon Squeezy checkout", "error", err, "userID", req.UserID)
		return "", err
	}

	c.log.Infow("Lemon Squeezy checkout created", "userID", req.UserID)
	return url, nil
}

func (c *CheckoutClient) post(ctx context.Context, payload []byte) (string, error) {
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/checkouts"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("lemonsqueezy: failed to build request: %w", err)
	}
	httpReq.Header.Set("Accept", jsonAPIMediaType)
	httpReq.Header.Set("Content-Type", jsonAPIMediaType)
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", domain.NewExternalServiceError(ProviderName, "network", "request failed", 0, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", domain.NewExternalServiceError(ProviderName, "read", "failed to read response", 0, err)
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", domain.NewExternalServiceError(ProviderName, "status", strings.TrimSpace(string(raw)), resp.StatusCode, domain.ErrExternalServiceUnavailable)
	}

	var out checkoutResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("lemonsqueezy: failed to decode checkout response: %w", err)
	}
	if out.Data.Attributes.URL == "" {
		return "", fmt.Errorf("lemonsqueezy: checkout response has no url")
	}
	return out.Data.Attributes.URL, nil
}
