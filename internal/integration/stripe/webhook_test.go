package stripe

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/Dhoini/scoutflow-billing/internal/domain"
	"github.com/Dhoini/scoutflow-billing/internal/integration"
)

const subscriptionUpdated = `{
  "id": "evt_1",
  "object": "event",
  "type": "customer.subscription.updated",
  "created": 1773144000,
  "data": {
    "object": {
      "id": "sub_1",
      "object": "subscription",
      "status": "trialing",
      "customer": "cus_1",
      "metadata": {"user_id": "user-1"},
      "current_period_start": 1773100800,
      "current_period_end": 1775779200,
      "trial_end": 1774310400
    }
  }
}`

func TestProvider_Verify(t *testing.T) {
	body := []byte(subscriptionUpdated)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   body,
		Secret:    "whsec_test",
		Timestamp: time.Now(),
	})
	p := NewProvider("whsec_test", 0)

	assert.Equal(t, integration.VerificationVerified, p.Verify(signed.Header, body, time.Now()).Result)
	assert.Equal(t, integration.VerificationInvalid, p.Verify(signed.Header, []byte(`{}`), time.Now()).Result)
	assert.Equal(t, integration.VerificationMissing, p.Verify("", body, time.Now()).Result)
	assert.Equal(t, integration.VerificationUnconfigured, NewProvider("", 0).Verify(signed.Header, body, time.Now()).Result)

	old := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   body,
		Secret:    "whsec_test",
		Timestamp: time.Now().Add(-time.Hour),
	})
	assert.Equal(t, integration.VerificationInvalid, p.Verify(old.Header, body, time.Now()).Result)
}

func TestProvider_ParseSubscription(t *testing.T) {
	ev, err := NewProvider("", 0).Parse([]byte(subscriptionUpdated))
	require.NoError(t, err)

	assert.Equal(t, "evt_1", ev.EventID)
	assert.Equal(t, domain.EventKindUpdated, ev.Kind)
	assert.Equal(t, domain.SubscriptionStatusTrialing, ev.Status)
	assert.Equal(t, "user-1", ev.User.UserID)
	assert.Equal(t, "sub_1", ev.ExternalSubscriptionID)
	assert.Equal(t, "cus_1", ev.ExternalCustomerID)
	// customer не раскрыт: остается только metadata.user_id
	assert.Empty(t, ev.User.Email)
	require.NotNil(t, ev.TrialEndsAt)
	assert.Equal(t, time.Unix(1774310400, 0).UTC(), *ev.TrialEndsAt)
	require.NotNil(t, ev.PeriodEnd)
	assert.Equal(t, time.Unix(1773144000, 0).UTC(), ev.OccurredAt)
}

func TestProvider_ParseDeletedMapsToCanceled(t *testing.T) {
	body := `{"id":"evt_2","type":"customer.subscription.deleted","created":1773144000,
	  "data":{"object":{"id":"sub_1","object":"subscription","status":"canceled","customer":"cus_1","metadata":{}}}}`
	ev, err := NewProvider("", 0).Parse([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, domain.EventKindCanceled, ev.Kind)
	assert.Equal(t, domain.SubscriptionStatusCancelled, ev.Status)
	assert.Empty(t, ev.User.UserID)
}

func TestProvider_ParseInvoice(t *testing.T) {
	body := `{"id":"evt_3","type":"invoice.paid","created":1773144000,
	  "data":{"object":{"id":"in_1","object":"invoice","status":"paid","total":0,
	    "customer":"cus_1","customer_email":"scout@example.com","subscription":"sub_1",
	    "subscription_details":{"metadata":{"user_id":"user-9"}}}}}`
	ev, err := NewProvider("", 0).Parse([]byte(body))
	require.NoError(t, err)

	assert.Equal(t, domain.EventKindTransactionCompleted, ev.Kind)
	assert.Equal(t, "user-9", ev.User.UserID)
	assert.Equal(t, "scout@example.com", ev.User.Email)
	assert.Equal(t, "sub_1", ev.ExternalSubscriptionID)
	require.NotNil(t, ev.TransactionTotal)
	assert.Equal(t, int64(0), *ev.TransactionTotal)
}

func TestProvider_ParseUnknownAndMalformed(t *testing.T) {
	ev, err := NewProvider("", 0).Parse([]byte(`{"id":"evt_4","type":"charge.refunded","data":{"object":{"id":"ch_1"}}}`))
	require.NoError(t, err)
	assert.Equal(t, domain.EventKindUnknown, ev.Kind)

	_, err = NewProvider("", 0).Parse([]byte(`[]`))
	assert.True(t, errors.Is(err, domain.ErrMalformedPayload))
	_, err = NewProvider("", 0).Parse([]byte(`{"id":"evt_5"}`))
	assert.True(t, errors.Is(err, domain.ErrMalformedPayload))
}

func TestStatuses(t *testing.T) {
	for raw, want := range map[string]domain.SubscriptionStatus{
		"unpaid":             domain.SubscriptionStatusPastDue,
		"incomplete":         domain.SubscriptionStatusPastDue,
		"incomplete_expired": domain.SubscriptionStatusExpired,
		"canceled":           domain.SubscriptionStatusCancelled,
		"brand_new_status":   domain.SubscriptionStatusActive,
	} {
		got, _ := Statuses.Map(raw)
		assert.Equal(t, want, got, raw)
	}
}

func TestProvider_ParseWithoutCreated(t *testing.T) {
	body := `{"id":"evt_3","type":"customer.subscription.paused",
	  "data":{"object":{"id":"sub_1","object":"subscription","status":"paused","customer":"cus_1","metadata":{"user_id":"user-1"}}}}`
	ev, err := NewProvider("", 0).Parse([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, domain.EventKindPaused, ev.Kind)
	assert.True(t, ev.OccurredAt.IsZero())
}
