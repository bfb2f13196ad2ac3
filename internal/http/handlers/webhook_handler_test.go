package handlers

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/Dhoini/scoutflow-billing/internal/domain"
	"github.com/Dhoini/scoutflow-billing/internal/integration"
	"github.com/Dhoini/scoutflow-billing/internal/metrics"
	"github.com/Dhoini/scoutflow-billing/internal/service"
	"github.com/Dhoini/scoutflow-billing/pkg/logger"
)

type fakeProvider struct {
	verification integration.Verification
	event        *domain.BillingEvent
	parseErr     error
	panicOnParse bool
}

func (p *fakeProvider) Name() string            { return "fake" }
func (p *fakeProvider) SignatureHeader() string { return "X-Fake-Signature" }

func (p *fakeProvider) Verify(string, []byte, time.Time) integration.Verification {
	return p.verification
}

func (p *fakeProvider) Parse([]byte) (*domain.BillingEvent, error) {
	if p.panicOnParse {
		panic("unexpected payload shape")
	}
	return p.event, p.parseErr
}

type mockReconciler struct {
	mock.Mock
}

func (m *mockReconciler) Reconcile(ctx context.Context, provider string, ev *domain.BillingEvent) service.Outcome {
	args := m.Called(ctx, provider, ev)
	return args.Get(0).(service.Outcome)
}

func newWebhookRouter(p integration.Provider, rc Reconciler, allowUnsigned bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewWebhookHandler(rc, metrics.Nop(), allowUnsigned, logger.NewNop())
	r := gin.New()
	r.POST("/webhooks/fake", h.Handle(p))
	return r
}

func postWebhook(router *gin.Engine, body []byte) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/fake", bytes.NewReader(body)))
	return rec
}

func TestWebhookHandler_SignaturePolicy(t *testing.T) {
	event := &domain.BillingEvent{Provider: "fake", Kind: domain.EventKindCreated}
	cases := []struct {
		name          string
		result        integration.VerificationResult
		allowUnsigned bool
		want          int
	}{
		{"verified", integration.VerificationVerified, false, http.StatusOK},
		{"invalid", integration.VerificationInvalid, true, http.StatusUnauthorized},
		{"missing", integration.VerificationMissing, true, http.StatusUnauthorized},
		{"unconfigured in production", integration.VerificationUnconfigured, false, http.StatusUnauthorized},
		{"unconfigured in development", integration.VerificationUnconfigured, true, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rc := new(mockReconciler)
			rc.On("Reconcile", mock.Anything, "fake", event).Return(service.OutcomeApplied)
			p := &fakeProvider{verification: integration.Verification{Result: tc.result}, event: event}

			rec := postWebhook(newWebhookRouter(p, rc, tc.allowUnsigned), []byte(`{}`))
			assert.Equal(t, tc.want, rec.Code)
			if tc.want == http.StatusOK {
				assert.JSONEq(t, `{"received":true}`, rec.Body.String())
				rc.AssertNumberOfCalls(t, "Reconcile", 1)
			} else {
				rc.AssertNotCalled(t, "Reconcile", mock.Anything, mock.Anything, mock.Anything)
			}
		})
	}
}

func TestWebhookHandler_AcknowledgesEveryOutcome(t *testing.T) {
	outcomes := []service.Outcome{
		service.OutcomeApplied, service.OutcomeIgnoredUnknown, service.OutcomeUnresolved,
		service.OutcomeStale, service.OutcomeNoop, service.OutcomeStoreFailed,
	}
	for _, outcome := range outcomes {
		t.Run(string(outcome), func(t *testing.T) {
			rc := new(mockReconciler)
			rc.On("Reconcile", mock.Anything, "fake", mock.Anything).Return(outcome)
			p := &fakeProvider{verification: integration.Verified(), event: &domain.BillingEvent{}}

			rec := postWebhook(newWebhookRouter(p, rc, false), []byte(`{}`))
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.JSONEq(t, `{"received":true}`, rec.Body.String())
		})
	}
}

func TestWebhookHandler_MalformedPayloadIsAcknowledged(t *testing.T) {
	rc := new(mockReconciler)
	p := &fakeProvider{verification: integration.Verified(), parseErr: errors.Join(domain.ErrMalformedPayload, errors.New("unexpected EOF"))}

	rec := postWebhook(newWebhookRouter(p, rc, false), []byte(`{"meta":`))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received":true}`, rec.Body.String())
	rc.AssertNotCalled(t, "Reconcile", mock.Anything, mock.Anything, mock.Anything)
}

func TestWebhookHandler_OversizedBody(t *testing.T) {
	rc := new(mockReconciler)
	p := &fakeProvider{verification: integration.Verified(), event: &domain.BillingEvent{}}

	body := []byte(`{"pad":"` + strings.Repeat("x", int(maxRequestBodySize)) + `"}`)
	rec := postWebhook(newWebhookRouter(p, rc, false), body)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "error")
	rc.AssertNotCalled(t, "Reconcile", mock.Anything, mock.Anything, mock.Anything)
}

func TestWebhookHandler_PanicIsRecovered(t *testing.T) {
	rc := new(mockReconciler)
	p := &fakeProvider{verification: integration.Verified(), panicOnParse: true}

	rec := postWebhook(newWebhookRouter(p, rc, false), []byte(`{}`))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "error")
}
