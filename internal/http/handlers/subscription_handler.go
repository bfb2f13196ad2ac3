package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Dhoini/scoutflow-billing/internal/middleware"
	"github.com/Dhoini/scoutflow-billing/internal/readmodel"
	"github.com/Dhoini/scoutflow-billing/pkg/logger"
	"github.com/Dhoini/scoutflow-billing/pkg/res"
)

// ReadModel - клиентское представление подписки
type ReadModel interface {
	SubscriptionView(ctx context.Context, userID string, isAdmin bool) (readmodel.View, error)
	IsAdmin(ctx context.Context, userID string) (bool, error)
	Refresh(userID string)
}

// SubscriptionHandler отдает пользователю его подписку и вычисленный доступ
type SubscriptionHandler struct {
	readModel ReadModel
	log       *logger.Logger
}

func NewSubscriptionHandler(readModel ReadModel, log *logger.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{readModel: readModel, log: log}
}

// GetSubscription обрабатывает GET /subscription. ?refresh=true сбрасывает кэш пользователя.
func (h *SubscriptionHandler) GetSubscription(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Unauthenticated"}, http.StatusUnauthorized)
		c.Abort()
		return
	}
	if c.Query("refresh") == "true" {
		h.readModel.Refresh(userID)
	}

	isAdmin := h.isAdmin(c.Request.Context(), userID)
	view, err := h.readModel.SubscriptionView(c.Request.Context(), userID, isAdmin)
	if err != nil {
		h.log.Errorw("Failed to load subscription view", "error", err, "userID", userID)
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Failed to load subscription"}, http.StatusInternalServerError)
		c.Abort()
		return
	}
	res.JsonResponse(c.Writer, view, http.StatusOK)
}

// GetAdminFlag обрабатывает GET /me/admin
func (h *SubscriptionHandler) GetAdminFlag(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Unauthenticated"}, http.StatusUnauthorized)
		c.Abort()
		return
	}
	if c.Query("refresh") == "true" {
		h.readModel.Refresh(userID)
	}
	res.JsonResponse(c.Writer, gin.H{"is_admin": h.isAdmin(c.Request.Context(), userID)}, http.StatusOK)
}

// isAdmin: при ошибке проверки роли пользователь считается не администратором
func (h *SubscriptionHandler) isAdmin(ctx context.Context, userID string) bool {
	isAdmin, err := h.readModel.IsAdmin(ctx, userID)
	if err != nil {
		h.log.Warnw("Failed to check admin role, assuming regular user", "error", err, "userID", userID)
		return false
	}
	return isAdmin
}
