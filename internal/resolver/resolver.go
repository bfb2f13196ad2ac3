// Package resolver maps a loosely identified billing customer to an internal user id.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Dhoini/scoutflow-billing/internal/domain"
	"github.com/Dhoini/scoutflow-billing/pkg/logger"
)

// Strategy - один способ найти пользователя по подсказке из события.
// Пустая строка без ошибки означает "не найдено, пробуем следующую стратегию".
type Strategy interface {
	Name() string
	Resolve(ctx context.Context, hint domain.UserHint) (string, error)
}

// EmailLookup ищет пользователя по email. Отсутствие пользователя - domain.ErrNotFound или пустая строка.
type EmailLookup interface {
	FindUserIDByEmail(ctx context.Context, email string) (string, error)
}

// Resolution результат разрешения пользователя
type Resolution struct {
	UserID   string
	Strategy string
}

// Resolver перебирает стратегии по порядку и останавливается на первом найденном пользователе
type Resolver struct {
	strategies []Strategy
	log        *logger.Logger
}

// New создает резолвер с упорядоченным списком стратегий
func New(log *logger.Logger, strategies ...Strategy) *Resolver {
	return &Resolver{strategies: strategies, log: log}
}

// Strategies возвращает имена стратегий в порядке применения
func (r *Resolver) Strategies() []string {
	names := make([]string, 0, len(r.strategies))
	for _, s := range r.strategies {
		names = append(names, s.Name())
	}
	return names
}

// Resolve возвращает пользователя или domain.ErrUserNotResolved.
// Ошибка отдельной стратегии логируется и не прерывает цепочку.
func (r *Resolver) Resolve(ctx context.Context, hint domain.UserHint) (Resolution, error) {
	var failed []string
	for _, s := range r.strategies {
		if err := ctx.Err(); err != nil {
			return Resolution{}, err
		}
		userID, err := s.Resolve(ctx, hint)
		if err != nil {
			failed = append(failed, s.Name())
			r.log.Warnw("User resolution strategy failed", "strategy", s.Name(), "error", err)
			continue
		}
		if userID != "" {
			return Resolution{UserID: userID, Strategy: s.Name()}, nil
		}
	}
	if len(failed) > 0 {
		return Resolution{}, fmt.Errorf("%w (failed strategies: %s)", domain.ErrUserNotResolved, strings.Join(failed, ","))
	}
	return Resolution{}, domain.ErrUserNotResolved
}

// StrategyFunc позволяет использовать функцию как стратегию
type StrategyFunc struct {
	StrategyName string
	Fn           func(ctx context.Context, hint domain.UserHint) (string, error)
}

func (f StrategyFunc) Name() string { return f.StrategyName }

func (f StrategyFunc) Resolve(ctx context.Context, hint domain.UserHint) (string, error) {
	return f.Fn(ctx, hint)
}

// ByMetadataID берет user_id, переданный при создании оплаты в пользовательских метаданных
func ByMetadataID() Strategy {
	return StrategyFunc{
		StrategyName: "metadata_id",
		Fn: func(_ context.Context, hint domain.UserHint) (string, error) {
			return strings.TrimSpace(hint.UserID), nil
		},
	}
}

// ByLocalEmail ищет email в локальной таблице профилей
func ByLocalEmail(lookup EmailLookup) Strategy {
	return emailStrategy{name: "local_email", lookup: lookup}
}

// ByIdentityProviderEmail ищет email через административный API провайдера идентификации
func ByIdentityProviderEmail(lookup EmailLookup) Strategy {
	return emailStrategy{name: "identity_provider_email", lookup: lookup}
}

type emailStrategy struct {
	name   string
	lookup EmailLookup
}

func (s emailStrategy) Name() string { return s.name }

func (s emailStrategy) Resolve(ctx context.Context, hint domain.UserHint) (string, error) {
	email := NormalizeEmail(hint.Email)
	if email == "" {
		return "", nil
	}
	userID, err := s.lookup.FindUserIDByEmail(ctx, email)
	if errors.Is(err, domain.ErrNotFound) {
		return "", nil
	}
	return userID, err
}

// NormalizeEmail приводит email к виду, в котором он хранится в каталоге
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
