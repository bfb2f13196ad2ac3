package stripe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v78"

	"github.com/Dhoini/scoutflow-billing/internal/integration"
	"github.com/Dhoini/scoutflow-billing/pkg/logger"
)

func testBackends(url string) *stripe.Backends {
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(url),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	return &stripe.Backends{API: backend, Connect: backend, Uploads: backend}
}

func TestCheckoutClient_CreateCheckout(t *testing.T) {
	var sessionForm map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/customers/search":
			_, _ = w.Write([]byte(`{"object":"search_result","data":[],"has_more":false,"url":"/v1/customers/search"}`))
		case "/v1/customers":
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "user-1", r.PostForm.Get("metadata[user_id]"))
			_, _ = w.Write([]byte(`{"id":"cus_new","object":"customer"}`))
		case "/v1/checkout/sessions":
			require.NoError(t, r.ParseForm())
			sessionForm = r.PostForm
			_, _ = w.Write([]byte(`{"id":"cs_1","object":"checkout.session","url":"https://checkout.stripe.com/c/pay/cs_1"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewCheckoutClient(CheckoutConfig{APIKey: "sk_test_1", PriceID: "price_1", TrialDays: 7}, testBackends(srv.URL), logger.NewNop())
	url, err := c.CreateCheckout(context.Background(), integration.CheckoutRequest{
		UserID: "user-1", Email: "scout@example.com", RedirectURL: "https://app.example.com/billing",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_1", url)

	require.NotNil(t, sessionForm)
	assert.Equal(t, "subscription", sessionForm["mode"][0])
	assert.Equal(t, "cus_new", sessionForm["customer"][0])
	assert.Equal(t, "user-1", sessionForm["subscription_data[metadata][user_id]"][0])
	assert.Equal(t, "7", sessionForm["subscription_data[trial_period_days]"][0])
}

func TestCheckoutClient_NotConfigured(t *testing.T) {
	c := NewCheckoutClient(CheckoutConfig{}, nil, logger.NewNop())
	_, err := c.CreateCheckout(context.Background(), integration.CheckoutRequest{UserID: "user-1"})
	assert.Error(t, err)
}
