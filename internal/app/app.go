package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Dhoini/scoutflow-billing/internal/config"
	"github.com/Dhoini/scoutflow-billing/internal/http/handlers"
	"github.com/Dhoini/scoutflow-billing/internal/identity"
	"github.com/Dhoini/scoutflow-billing/internal/integration"
	"github.com/Dhoini/scoutflow-billing/internal/integration/lemonsqueezy"
	"github.com/Dhoini/scoutflow-billing/internal/integration/paddle"
	"github.com/Dhoini/scoutflow-billing/internal/integration/stripe"
	"github.com/Dhoini/scoutflow-billing/internal/kafka"
	"github.com/Dhoini/scoutflow-billing/internal/metrics"
	"github.com/Dhoini/scoutflow-billing/internal/middleware"
	"github.com/Dhoini/scoutflow-billing/internal/readmodel"
	"github.com/Dhoini/scoutflow-billing/internal/repository"
	"github.com/Dhoini/scoutflow-billing/internal/repository/postgres"
	"github.com/Dhoini/scoutflow-billing/internal/resolver"
	"github.com/Dhoini/scoutflow-billing/internal/service"
	"github.com/Dhoini/scoutflow-billing/pkg/logger"
)

// App представляет собой контейнер для всех компонентов приложения
type App struct {
	Config              *config.Config
	Logger              *logger.Logger
	MetricsRegistry     *prometheus.Registry
	SystemMetrics       metrics.SystemMetrics
	Providers           *integration.Registry
	Reconciler          *service.Reconciler
	ReadModel           *readmodel.Service
	WebhookHandler      *handlers.WebhookHandler
	CheckoutHandler     *handlers.CheckoutHandler
	SubscriptionHandler *handlers.SubscriptionHandler
	AuthMiddleware      *middleware.JWTMiddleware
	LoggerMiddleware    gin.HandlerFunc

	closers []func()
}

// NewApp создает и связывает компоненты приложения. Необязательные зависимости
// (Redis, Kafka, API провайдера идентификации) отключаются с предупреждением, если не настроены.
func NewApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: log}

	a.MetricsRegistry = prometheus.NewRegistry()
	a.MetricsRegistry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	webhookMetrics := metrics.NewWebhookMetrics(a.MetricsRegistry)
	a.SystemMetrics = metrics.NewSystemMetrics(a.MetricsRegistry, log)

	subscriptions, directory, err := a.initStorage(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	var producer kafka.Producer
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err = kafka.NewKafkaProducer(kafka.ProducerConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
		}, log)
		if err != nil {
			log.Errorw("Failed to initialize Kafka producer, continuing without event publishing", "error", err)
			producer = nil
		} else {
			log.Infow("Kafka producer initialized", "topic", cfg.Kafka.Topic)
			a.onClose(func() {
				if err := producer.Close(); err != nil {
					log.Errorw("Error closing Kafka producer", "error", err)
				}
			})
		}
	}

	httpClient := &http.Client{Timeout: 10 * time.Second}

	// Цепочки резолвинга пользователя: поиск через провайдера идентификации есть только у Paddle
	defaultChain := resolver.New(log, resolver.ByMetadataID(), resolver.ByLocalEmail(directory))
	reconcilerOpts := []service.Option{
		service.WithMetrics(webhookMetrics),
		service.WithProducer(producer),
	}
	idp := identity.NewClient(identity.Config{
		BaseURL:    cfg.Identity.BaseURL,
		ServiceKey: cfg.Identity.ServiceKey,
		PerPage:    cfg.Identity.PerPage,
		MaxPages:   cfg.Identity.MaxPages,
	}, httpClient, log)
	if idp.Configured() {
		paddleChain := resolver.New(log,
			resolver.ByMetadataID(),
			resolver.ByLocalEmail(directory),
			resolver.ByIdentityProviderEmail(idp),
		)
		reconcilerOpts = append(reconcilerOpts, service.WithProviderResolver(paddle.ProviderName, paddleChain))
	} else {
		log.Warnw("Identity provider admin API is not configured, Paddle events resolve by metadata and local email only")
	}
	a.Reconciler = service.NewReconciler(subscriptions, defaultChain, log, reconcilerOpts...)
	a.onClose(a.Reconciler.Wait)

	a.Providers = integration.NewRegistry(
		lemonsqueezy.NewProvider(cfg.Providers.LemonSqueezy.WebhookSecret),
		paddle.NewProvider(cfg.Providers.Paddle.WebhookSecret, cfg.Providers.Paddle.Tolerance),
		stripe.NewProvider(cfg.Providers.Stripe.WebhookSecret, cfg.Providers.Stripe.Tolerance),
	)
	for _, name := range a.Providers.Names() {
		p, _ := a.Providers.Get(name)
		if p.Verify("", nil, time.Now()).Result == integration.VerificationUnconfigured {
			log.Warnw("Webhook secret is not configured", "provider", name, "env", cfg.App.Env)
		}
	}

	creators := map[string]integration.CheckoutCreator{
		lemonsqueezy.ProviderName: lemonsqueezy.NewCheckoutClient(lemonsqueezy.CheckoutConfig{
			APIKey:    cfg.Providers.LemonSqueezy.APIKey,
			StoreID:   cfg.Providers.LemonSqueezy.StoreID,
			VariantID: cfg.Providers.LemonSqueezy.VariantID,
		}, httpClient, log),
		stripe.ProviderName: stripe.NewCheckoutClient(stripe.CheckoutConfig{
			APIKey:    cfg.Providers.Stripe.APIKey,
			PriceID:   cfg.Providers.Stripe.PriceID,
			TrialDays: cfg.Providers.Stripe.TrialDays,
		}, nil, log),
	}

	a.ReadModel = readmodel.New(subscriptions, directory, readmodel.Config{
		SubscriptionTTL: cfg.Cache.SubscriptionTTL,
		AdminTTL:        cfg.Cache.AdminTTL,
	}, log)

	a.WebhookHandler = handlers.NewWebhookHandler(a.Reconciler, webhookMetrics, cfg.AllowUnsignedWebhooks(), log)
	a.CheckoutHandler = handlers.NewCheckoutHandler(creators, cfg.Providers.DefaultCheckout, webhookMetrics, log)
	a.SubscriptionHandler = handlers.NewSubscriptionHandler(a.ReadModel, log)
	a.AuthMiddleware = middleware.NewJWTMiddleware(log, &middleware.DefaultTokenValidator{
		Secret: []byte(cfg.Auth.JWTSecret),
	})
	a.LoggerMiddleware = middleware.RequestLogger(log)
	return a, nil
}

// initStorage подключает Postgres (и Redis поверх него) или, без DSN, хранилище в памяти
func (a *App) initStorage(ctx context.Context) (repository.SubscriptionRepository, repository.UserDirectory, error) {
	cfg, log := a.Config, a.Logger

	if cfg.Database.DSN == "" {
		log.Warnw("Database DSN is not set, using in-memory storage")
		return repository.NewInMemorySubscriptionRepository(log), repository.NewInMemoryUserDirectory(), nil
	}

	pool, err := postgres.NewConnection(ctx, postgres.PoolConfig{
		DSN:             cfg.Database.DSN,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
	}, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.onClose(pool.Close)
	log.Infow("Database connection established")

	sqlxDB := postgres.NewSQLX(pool)
	a.onClose(func() {
		if err := sqlxDB.Close(); err != nil {
			log.Errorw("Error closing sqlx handle", "error", err)
		}
	})

	var subscriptions repository.SubscriptionRepository = postgres.NewSubscriptionRepository(pool, log)
	directory := postgres.NewUserDirectory(sqlxDB, log)

	if cfg.Redis.Addr == "" {
		log.Infow("Using non-cached subscription repository")
		return subscriptions, directory, nil
	}
	redisCache, err := repository.NewRedisCacheRepository(repository.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		TTL:      cfg.Redis.TTL,
	}, log)
	if err != nil {
		log.Warnw("Failed to initialize Redis cache, continuing without caching", "error", err)
		return subscriptions, directory, nil
	}
	a.onClose(func() {
		if err := redisCache.Close(); err != nil {
			log.Errorw("Error closing Redis connection", "error", err)
		}
	})
	log.Infow("Using cached subscription repository")
	return repository.NewCachedSubscriptionRepository(subscriptions, redisCache, log), directory, nil
}

func (a *App) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// Close освобождает ресурсы в обратном порядке создания
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
