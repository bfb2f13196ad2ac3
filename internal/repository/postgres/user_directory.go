package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/Dhoini/scoutflow-billing/internal/domain"
	"github.com/Dhoini/scoutflow-billing/pkg/logger"
)

const adminRole = "admin"

// UserDirectory читает локальные таблицы профилей и ролей
type UserDirectory struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewUserDirectory создает каталог пользователей
func NewUserDirectory(db *sqlx.DB, log *logger.Logger) *UserDirectory {
	return &UserDirectory{db: db, log: log}
}

// FindUserIDByEmail ищет пользователя по email без учета регистра
func (d *UserDirectory) FindUserIDByEmail(ctx context.Context, email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", domain.NewNotFoundError("profile", email)
	}

	var userID string
	query := `SELECT id FROM profiles WHERE lower(email) = $1 LIMIT 1`
	if err := d.db.GetContext(ctx, &userID, query, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", domain.NewNotFoundError("profile", email)
		}
		d.log.Errorw("Failed to look up profile by email", "error", err)
		return "", fmt.Errorf("repository: failed to find profile by email: %w", err)
	}
	return userID, nil
}

// IsAdmin проверяет наличие роли admin
func (d *UserDirectory) IsAdmin(ctx context.Context, userID string) (bool, error) {
	var isAdmin bool
	query := `SELECT EXISTS (SELECT 1 FROM user_roles WHERE user_id = $1 AND role = $2)`
	if err := d.db.GetContext(ctx, &isAdmin, query, userID, adminRole); err != nil {
		d.log.Errorw("Failed to check admin role", "error", err, "userID", userID)
		return false, fmt.Errorf("repository: failed to check admin role: %w", err)
	}
	return isAdmin, nil
}
