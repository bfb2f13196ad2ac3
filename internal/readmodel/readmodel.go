// Package readmodel serves the client-side view of a user's subscription and admin flag.
package readmodel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/Dhoini/scoutflow-billing/internal/access"
	"github.com/Dhoini/scoutflow-billing/internal/domain"
	"github.com/Dhoini/scoutflow-billing/pkg/logger"
)

const (
	DefaultSubscriptionTTL = 5 * time.Minute
	DefaultAdminTTL        = 10 * time.Minute
)

// SubscriptionReader читает запись подписки
type SubscriptionReader interface {
	GetByUserID(ctx context.Context, userID string) (*domain.Subscription, error)
}

// AdminChecker проверяет роль администратора
type AdminChecker interface {
	IsAdmin(ctx context.Context, userID string) (bool, error)
}

// Config время жизни кэшей
type Config struct {
	SubscriptionTTL time.Duration
	AdminTTL        time.Duration
}

// View то, что клиент получает о своей подписке
type View struct {
	Subscription *domain.Subscription `json:"subscription"`
	Access       access.Access        `json:"access"`
	IsAdmin      bool                 `json:"is_admin"`
}

// cachedRecord позволяет кэшировать и отсутствие записи
type cachedRecord struct {
	sub *domain.Subscription
}

// Service кэширует записи подписок и флаги администраторов в памяти процесса.
// Изменения из вебхуков становятся видны после истечения TTL или вызова Refresh.
type Service struct {
	subs       SubscriptionReader
	admins     AdminChecker
	subCache   *cache.Cache
	adminCache *cache.Cache
	log        *logger.Logger
	now        func() time.Time
}

// New создает сервис чтения
func New(subs SubscriptionReader, admins AdminChecker, cfg Config, log *logger.Logger) *Service {
	if cfg.SubscriptionTTL <= 0 {
		cfg.SubscriptionTTL = DefaultSubscriptionTTL
	}
	if cfg.AdminTTL <= 0 {
		cfg.AdminTTL = DefaultAdminTTL
	}
	return &Service{
		subs:       subs,
		admins:     admins,
		subCache:   cache.New(cfg.SubscriptionTTL, 2*cfg.SubscriptionTTL),
		adminCache: cache.New(cfg.AdminTTL, 2*cfg.AdminTTL),
		log:        log,
		now:        time.Now,
	}
}

// SubscriptionView возвращает запись (или nil) и вычисленный доступ
func (s *Service) SubscriptionView(ctx context.Context, userID string, isAdmin bool) (View, error) {
	sub, err := s.subscription(ctx, userID)
	if err != nil {
		return View{}, err
	}
	return View{
		Subscription: sub,
		Access:       access.Evaluate(sub, isAdmin, s.now()),
		IsAdmin:      isAdmin,
	}, nil
}

func (s *Service) subscription(ctx context.Context, userID string) (*domain.Subscription, error) {
	if cached, found := s.subCache.Get(userID); found {
		return cached.(cachedRecord).sub, nil
	}

	sub, err := s.subs.GetByUserID(ctx, userID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("load subscription: %w", err)
	}
	if err != nil {
		sub = nil
	}
	s.subCache.Set(userID, cachedRecord{sub: sub}, cache.DefaultExpiration)
	return sub, nil
}

// IsAdmin возвращает флаг администратора из кэша или базы
func (s *Service) IsAdmin(ctx context.Context, userID string) (bool, error) {
	if cached, found := s.adminCache.Get(userID); found {
		return cached.(bool), nil
	}
	isAdmin, err := s.admins.IsAdmin(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("check admin role: %w", err)
	}
	s.adminCache.Set(userID, isAdmin, cache.DefaultExpiration)
	return isAdmin, nil
}

// Refresh сбрасывает закэшированные данные пользователя
func (s *Service) Refresh(userID string) {
	s.subCache.Delete(userID)
	s.adminCache.Delete(userID)
	s.log.Debugw("Read model cache refreshed", "userID", userID)
}
