package repository

import (
	"errors"

	"github.com/Dhoini/scoutflow-billing/internal/domain"
)

var (
	// ErrNotFound запись не найдена
	ErrNotFound = domain.ErrNotFound

	// ErrStaleEvent событие старше уже примененного
	ErrStaleEvent = domain.ErrStaleEvent

	// ErrInvalidData неверные данные
	ErrInvalidData = errors.New("invalid data")
)
