package middleware

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// WebhookCORS отвечает на preflight-запросы к вебхукам разрешающими заголовками
func WebhookCORS() gin.HandlerFunc {
	config := cors.DefaultConfig()
	config.AllowAllOrigins = true
	config.AllowMethods = []string{"POST", "OPTIONS"}
	config.AllowHeaders = []string{
		"Origin", "Content-Length", "Content-Type", "Authorization",
		"X-Signature", "Paddle-Signature", "Stripe-Signature",
	}
	config.MaxAge = 12 * time.Hour
	return cors.New(config)
}
