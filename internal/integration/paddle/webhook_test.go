package paddle

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dhoini/scoutflow-billing/internal/domain"
	"github.com/Dhoini/scoutflow-billing/internal/integration"
)

func signedHeader(secret string, ts time.Time, body []byte) string {
	unix := fmt.Sprintf("%d", ts.Unix())
	return fmt.Sprintf("ts=%s;h1=%s", unix, integration.HMACSHA256Hex(secret, []byte(unix), []byte(":"), body))
}

func TestProvider_Verify(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	body := []byte(`{"event_type":"subscription.created"}`)
	p := NewProvider("pdl_secret", 0)

	tests := []struct {
		name   string
		header string
		want   integration.VerificationResult
	}{
		{"valid", signedHeader("pdl_secret", now, body), integration.VerificationVerified},
		{"rotated secret second h1", signedHeader("pdl_secret", now, body) + ";h1=deadbeef", integration.VerificationVerified},
		{"wrong secret", signedHeader("other", now, body), integration.VerificationInvalid},
		{"too old", signedHeader("pdl_secret", now.Add(-10*time.Minute), body), integration.VerificationInvalid},
		{"no h1", "ts=123", integration.VerificationInvalid},
		{"garbage", "nonsense", integration.VerificationInvalid},
		{"missing", "", integration.VerificationMissing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Verify(tt.header, body, now).Result)
		})
	}

	assert.Equal(t, integration.VerificationUnconfigured, NewProvider("", 0).Verify("ts=1;h1=aa", body, now).Result)
}

func TestProvider_ParseSubscriptionCreated(t *testing.T) {
	body := `{
	  "event_id": "evt_01",
	  "event_type": "subscription.created",
	  "occurred_at": "2026-03-10T12:00:00.000Z",
	  "data": {
	    "id": "sub_01",
	    "status": "active",
	    "customer_id": "ctm_01",
	    "custom_data": {"user_id": "user-1"},
	    "current_billing_period": {"starts_at": "2026-03-10T00:00:00Z", "ends_at": "2026-04-10T00:00:00Z"}
	  }
	}`
	ev, err := NewProvider("", 0).Parse([]byte(body))
	require.NoError(t, err)

	assert.Equal(t, "evt_01", ev.EventID)
	assert.Equal(t, domain.EventKindCreated, ev.Kind)
	assert.Equal(t, domain.SubscriptionStatusActive, ev.Status)
	assert.Equal(t, "user-1", ev.User.UserID)
	assert.Equal(t, "sub_01", ev.ExternalSubscriptionID)
	assert.Equal(t, "ctm_01", ev.ExternalCustomerID)
	require.NotNil(t, ev.PeriodStart)
	require.NotNil(t, ev.PeriodEnd)
	assert.Equal(t, time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC), *ev.PeriodEnd)
	assert.Nil(t, ev.TransactionTotal)
}

func TestProvider_ParseTrialingUsesItemTrialDates(t *testing.T) {
	body := `{
	  "event_type": "subscription.trialing",
	  "data": {
	    "id": "sub_02",
	    "status": "trialing",
	    "customer": {"email": "scout@example.com"},
	    "items": [{"trial_dates": {"starts_at": "2026-03-10T00:00:00Z", "ends_at": "2026-03-24T00:00:00Z"}}]
	  }
	}`
	ev, err := NewProvider("", 0).Parse([]byte(body))
	require.NoError(t, err)

	assert.Equal(t, domain.EventKindTrialing, ev.Kind)
	assert.Equal(t, "scout@example.com", ev.User.Email)
	assert.Empty(t, ev.User.UserID)
	require.NotNil(t, ev.TrialEndsAt)
	assert.Equal(t, time.Date(2026, 3, 24, 0, 0, 0, 0, time.UTC), *ev.TrialEndsAt)
	assert.False(t, ev.OccurredAt.IsZero())
}

func TestProvider_ParseTransactionCompleted(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int64
	}{
		{
			name: "details totals",
			body: `{"event_type":"transaction.completed","data":{"id":"txn_1","subscription_id":"sub_1","details":{"totals":{"total":"0"}}}}`,
			want: 0,
		},
		{
			name: "top level totals",
			body: `{"event_type":"transaction.completed","data":{"id":"txn_2","subscription_id":"sub_1","totals":{"total":"1999"}}}`,
			want: 1999,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := NewProvider("", 0).Parse([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, domain.EventKindTransactionCompleted, ev.Kind)
			assert.Equal(t, "sub_1", ev.ExternalSubscriptionID)
			require.NotNil(t, ev.TransactionTotal)
			assert.Equal(t, tt.want, *ev.TransactionTotal)
		})
	}

	_, err := NewProvider("", 0).Parse([]byte(`{"event_type":"transaction.completed","data":{"totals":{"total":"abc"}}}`))
	assert.True(t, errors.Is(err, domain.ErrMalformedPayload))
}

func TestProvider_ParseUnknownAndMalformed(t *testing.T) {
	ev, err := NewProvider("", 0).Parse([]byte(`{"event_type":"subscription.archived","data":{}}`))
	require.NoError(t, err)
	assert.Equal(t, domain.EventKindUnknown, ev.Kind)

	_, err = NewProvider("", 0).Parse([]byte(`{`))
	assert.True(t, errors.Is(err, domain.ErrMalformedPayload))
	_, err = NewProvider("", 0).Parse([]byte(`{"data":{}}`))
	assert.True(t, errors.Is(err, domain.ErrMalformedPayload))
}

func TestStatuses(t *testing.T) {
	st, known := Statuses.Map("canceled")
	assert.True(t, known)
	assert.Equal(t, domain.SubscriptionStatusCancelled, st)

	st, known = Statuses.Map("mystery")
	assert.False(t, known)
	assert.Equal(t, domain.SubscriptionStatusActive, st)
}

func TestProvider_ParseWithoutOccurredAt(t *testing.T) {
	body := `{"event_id":"evt_02","event_type":"subscription.past_due",
	  "data":{"id":"sub_01","status":"past_due","custom_data":{"user_id":"user-1"}}}`
	ev, err := NewProvider("", 0).Parse([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, domain.EventKindPastDue, ev.Kind)
	assert.True(t, ev.OccurredAt.IsZero())
}
