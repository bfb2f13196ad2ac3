// Package identity talks to the identity provider's administrative user API.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Dhoini/scoutflow-billing/internal/domain"
	"github.com/Dhoini/scoutflow-billing/pkg/logger"
)

const (
	serviceName     = "identity_provider"
	defaultPerPage  = 50
	defaultMaxPages = 20
	maxResponseSize = 4 << 20
)

// Config параметры административного API
type Config struct {
	BaseURL    string
	ServiceKey string
	PerPage    int
	MaxPages   int
	// MaxElapsed ограничивает суммарное время повторов одной страницы
	MaxElapsed time.Duration
}

// User - пользователь в ответе админского API
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type listUsersResponse struct {
	Users []User `json:"users"`
}

// Client ищет пользователей через GET /auth/v1/admin/users
type Client struct {
	cfg        Config
	httpClient *http.Client
	log        *logger.Logger
}

// NewClient создает клиента. httpClient == nil заменяется клиентом с таймаутом 10s.
func NewClient(cfg Config, httpClient *http.Client, log *logger.Logger) *Client {
	if cfg.PerPage <= 0 {
		cfg.PerPage = defaultPerPage
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	if cfg.MaxElapsed <= 0 {
		cfg.MaxElapsed = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{cfg: cfg, httpClient: httpClient, log: log}
}

// Configured сообщает, заданы ли адрес и ключ
func (c *Client) Configured() bool {
	return c.cfg.BaseURL != "" && c.cfg.ServiceKey != ""
}

// FindUserIDByEmail листает список пользователей, пока не найдет email или не дойдет до неполной страницы.
// Не найденный пользователь - domain.ErrNotFound.
func (c *Client) FindUserIDByEmail(ctx context.Context, email string) (string, error) {
	if !c.Configured() {
		return "", fmt.Errorf("%w: identity provider admin api is not configured", domain.ErrInvalidInput)
	}
	email = strings.ToLower(strings.TrimSpace(email))

	for page := 1; page <= c.cfg.MaxPages; page++ {
		users, err := c.listUsersWithRetry(ctx, page)
		if err != nil {
			return "", err
		}
		for _, u := range users {
			if strings.EqualFold(strings.TrimSpace(u.Email), email) {
				c.log.Debugw("User found via identity provider", "userID", u.ID, "page", page)
				return u.ID, nil
			}
		}
		if len(users) < c.cfg.PerPage {
			return "", domain.NewNotFoundError("user", email)
		}
	}

	c.log.Warnw("Identity provider user scan hit page limit", "maxPages", c.cfg.MaxPages)
	return "", domain.NewNotFoundError("user", email)
}

func (c *Client) listUsersWithRetry(ctx context.Context, page int) ([]User, error) {
	var users []User
	op := func() error {
		var err error
		users, err = c.listUsers(ctx, page)
		if err == nil {
			return nil
		}
		var extErr *domain.ExternalServiceError
		if errors.As(err, &extErr) && extErr.Retryable() {
			c.log.Warnw("Identity provider request failed, retrying", "page", page, "error", err)
			return err
		}
		return backoff.Permanent(err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxElapsedTime = c.cfg.MaxElapsed
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return users, nil
}

func (c *Client) listUsers(ctx context.Context, page int) ([]User, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(c.cfg.PerPage))
	endpoint := c.cfg.BaseURL + "/auth/v1/admin/users?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.ServiceKey)
	req.Header.Set("apikey", c.cfg.ServiceKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.NewExternalServiceError(serviceName, "", "request failed", 0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, domain.NewExternalServiceError(serviceName, "", "read response", 0, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, domain.NewExternalServiceError(serviceName, strconv.Itoa(resp.StatusCode), truncate(string(body), 200), resp.StatusCode, nil)
	}

	var out listUsersResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, domain.NewExternalServiceError(serviceName, "", "decode response", resp.StatusCode, err)
	}
	return out.Users, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
