package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Dhoini/scoutflow-billing/internal/app"
	"github.com/Dhoini/scoutflow-billing/internal/http/handlers"
	"github.com/Dhoini/scoutflow-billing/internal/middleware"
	"github.com/Dhoini/scoutflow-billing/pkg/logger"
)

// SetupRoutes настраивает все маршруты API для Gin роутера
func SetupRoutes(router *gin.Engine, app *app.App, log *logger.Logger) {
	router.Use(app.LoggerMiddleware)
	router.Use(gin.Recovery())

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(app.MetricsRegistry, promhttp.HandlerOpts{})))

	api := router.Group("/api/v1")
	{
		api.GET("/health", handlers.HealthCheck)

		// Вебхуки провайдеров: подпись проверяет сам обработчик
		webhooks := api.Group("/webhooks")
		webhooks.Use(middleware.WebhookCORS())
		for _, name := range app.Providers.Names() {
			provider, _ := app.Providers.Get(name)
			webhooks.POST("/"+name, app.WebhookHandler.Handle(provider))
			webhooks.OPTIONS("/"+name, func(c *gin.Context) {})
		}

		// Защищенные маршруты (требуют аутентификации)
		auth := api.Group("")
		auth.Use(app.AuthMiddleware.RequireAuth())
		{
			auth.POST("/checkout", app.CheckoutHandler.CreateCheckout)
			auth.GET("/subscription", app.SubscriptionHandler.GetSubscription)
			auth.GET("/me/admin", app.SubscriptionHandler.GetAdminFlag)
		}
	}

	log.Infow("API routes successfully configured", "providers", app.Providers.Names())
}
