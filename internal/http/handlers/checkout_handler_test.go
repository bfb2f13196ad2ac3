package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/Dhoini/scoutflow-billing/internal/domain"
	"github.com/Dhoini/scoutflow-billing/internal/integration"
	"github.com/Dhoini/scoutflow-billing/internal/metrics"
	"github.com/Dhoini/scoutflow-billing/internal/middleware"
	"github.com/Dhoini/scoutflow-billing/pkg/logger"
)

type mockCheckout struct {
	mock.Mock
}

func (m *mockCheckout) CreateCheckout(ctx context.Context, req integration.CheckoutRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

// withUser подставляет пользователя так же, как это делает RequireAuth
func withUser(userID, email string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(string(middleware.ContextUserIDKey), userID)
		c.Set(string(middleware.ContextUserEmailKey), email)
		c.Next()
	}
}

func newCheckoutRouter(creators map[string]integration.CheckoutCreator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewCheckoutHandler(creators, "lemonsqueezy", metrics.Nop(), logger.NewNop())
	r := gin.New()
	r.POST("/checkout", withUser("user-1", "scout@example.com"), h.CreateCheckout)
	return r
}

func postCheckout(router *gin.Engine, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(body)))
	return rec
}

func TestCheckoutHandler_DefaultProvider(t *testing.T) {
	ls := new(mockCheckout)
	ls.On("CreateCheckout", mock.Anything, integration.CheckoutRequest{
		UserID:      "user-1",
		Email:       "scout@example.com",
		RedirectURL: "https://app.example.com/billing",
	}).Return("https://store.lemonsqueezy.com/checkout/abc", nil)

	rec := postCheckout(newCheckoutRouter(map[string]integration.CheckoutCreator{"lemonsqueezy": ls}),
		`{"redirect_url":"https://app.example.com/billing"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"url":"https://store.lemonsqueezy.com/checkout/abc"}`, rec.Body.String())
	ls.AssertExpectations(t)
}

func TestCheckoutHandler_Errors(t *testing.T) {
	cases := []struct {
		name string
		body string
		err  error
		want int
	}{
		{"invalid body", `{"redirect_url":"not a url"}`, nil, http.StatusUnprocessableEntity},
		{"unknown provider", `{"provider":"paypal","redirect_url":"https://a.io"}`, nil, http.StatusBadRequest},
		{"not configured", `{"redirect_url":"https://a.io"}`, domain.ErrInvalidInput, http.StatusBadRequest},
		{"provider down", `{"redirect_url":"https://a.io"}`, domain.NewExternalServiceError("stripe", "status", "bad gateway", 502, domain.ErrExternalServiceUnavailable), http.StatusBadGateway},
		{"unexpected", `{"redirect_url":"https://a.io"}`, errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			creator := new(mockCheckout)
			if tc.err != nil {
				creator.On("CreateCheckout", mock.Anything, mock.Anything).Return("", tc.err)
			}
			rec := postCheckout(newCheckoutRouter(map[string]integration.CheckoutCreator{"lemonsqueezy": creator}), tc.body)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}
