package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dhoini/scoutflow-billing/internal/domain"
	"github.com/Dhoini/scoutflow-billing/pkg/logger"
)

func usersPage(page, perPage, total int) string {
	body := `{"users":[`
	first := true
	for i := (page-1)*perPage + 1; i <= page*perPage && i <= total; i++ {
		if !first {
			body += ","
		}
		first = false
		body += fmt.Sprintf(`{"id":"user-%d","email":"user%d@example.com"}`, i, i)
	}
	return body + `]}`
}

func newTestServer(t *testing.T, total int, failFirst int32, calls *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(calls, 1)
		assert.Equal(t, "/auth/v1/admin/users", r.URL.Path)
		assert.Equal(t, "Bearer svc_key", r.Header.Get("Authorization"))
		assert.Equal(t, "svc_key", r.Header.Get("apikey"))
		if n <= failFirst {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var page, perPage int
		_, _ = fmt.Sscan(r.URL.Query().Get("page"), &page)
		_, _ = fmt.Sscan(r.URL.Query().Get("per_page"), &perPage)
		_, _ = w.Write([]byte(usersPage(page, perPage, total)))
	}))
}

func TestClient_FindUserIDByEmail_Paginates(t *testing.T) {
	var calls int32
	srv := newTestServer(t, 7, 0, &calls)
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL + "/", ServiceKey: "svc_key", PerPage: 3}, srv.Client(), logger.NewNop())
	id, err := c.FindUserIDByEmail(context.Background(), "USER5@example.com")
	require.NoError(t, err)
	assert.Equal(t, "user-5", id)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestClient_FindUserIDByEmail_NotFoundStopsAtShortPage(t *testing.T) {
	var calls int32
	srv := newTestServer(t, 4, 0, &calls)
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, ServiceKey: "svc_key", PerPage: 3}, srv.Client(), logger.NewNop())
	_, err := c.FindUserIDByEmail(context.Background(), "ghost@example.com")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestClient_FindUserIDByEmail_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := newTestServer(t, 2, 2, &calls)
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, ServiceKey: "svc_key", PerPage: 3, MaxElapsed: 5 * time.Second}, srv.Client(), logger.NewNop())
	id, err := c.FindUserIDByEmail(context.Background(), "user2@example.com")
	require.NoError(t, err)
	assert.Equal(t, "user-2", id)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClient_FindUserIDByEmail_Unauthorized(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, ServiceKey: "bad"}, srv.Client(), logger.NewNop())
	_, err := c.FindUserIDByEmail(context.Background(), "user1@example.com")
	var extErr *domain.ExternalServiceError
	require.True(t, errors.As(err, &extErr))
	assert.Equal(t, http.StatusUnauthorized, extErr.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClient_NotConfigured(t *testing.T) {
	c := NewClient(Config{}, nil, logger.NewNop())
	assert.False(t, c.Configured())
	_, err := c.FindUserIDByEmail(context.Background(), "a@b.c")
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}
