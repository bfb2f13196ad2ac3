package repository

import (
	"context"
	"strings"
	"sync"

	"github.com/Dhoini/scoutflow-billing/internal/domain"
)

// UserDirectory - локальный справочник пользователей: поиск по email и роль администратора
type UserDirectory interface {
	FindUserIDByEmail(ctx context.Context, email string) (string, error)
	IsAdmin(ctx context.Context, userID string) (bool, error)
}

// InMemoryUserDirectory справочник пользователей в памяти для разработки и тестов
type InMemoryUserDirectory struct {
	mutex   sync.RWMutex
	byEmail map[string]string
	admins  map[string]bool
}

func NewInMemoryUserDirectory() *InMemoryUserDirectory {
	return &InMemoryUserDirectory{
		byEmail: make(map[string]string),
		admins:  make(map[string]bool),
	}
}

// AddUser регистрирует пользователя
func (d *InMemoryUserDirectory) AddUser(userID, email string, isAdmin bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.byEmail[strings.ToLower(strings.TrimSpace(email))] = userID
	if isAdmin {
		d.admins[userID] = true
	}
}

func (d *InMemoryUserDirectory) FindUserIDByEmail(_ context.Context, email string) (string, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	userID, ok := d.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return "", domain.NewNotFoundError("profile", email)
	}
	return userID, nil
}

func (d *InMemoryUserDirectory) IsAdmin(_ context.Context, userID string) (bool, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.admins[userID], nil
}
