package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config представляет структуру конфигурации для приложения.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Identity  IdentityConfig  `mapstructure:"identity"`
	Cache     CacheConfig     `mapstructure:"cache"`
}

type AppConfig struct {
	Port     string `mapstructure:"port"`
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"logLevel"`
}

type ServerConfig struct {
	ReadTimeout     time.Duration `mapstructure:"readTimeout"`
	WriteTimeout    time.Duration `mapstructure:"writeTimeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
}

// DatabaseConfig - пустой DSN включает хранилище в памяти (только для разработки)
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"maxConns"`
	MinConns        int32         `mapstructure:"minConns"`
	MaxConnLifetime time.Duration `mapstructure:"maxConnLifetime"`
}

// RedisConfig - пустой Addr отключает кэш
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// KafkaConfig - пустой список брокеров отключает публикацию
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwtSecret"`
}

type ProvidersConfig struct {
	// DefaultCheckout - провайдер для оплаты, если клиент его не указал
	DefaultCheckout string               `mapstructure:"defaultCheckout"`
	LemonSqueezy    LemonSqueezyConfig   `mapstructure:"lemonsqueezy"`
	Paddle          PaddleConfig         `mapstructure:"paddle"`
	Stripe          StripeProviderConfig `mapstructure:"stripe"`
}

type LemonSqueezyConfig struct {
	WebhookSecret string `mapstructure:"webhookSecret"`
	APIKey        string `mapstructure:"apiKey"`
	StoreID       string `mapstructure:"storeId"`
	VariantID     string `mapstructure:"variantId"`
}

type PaddleConfig struct {
	WebhookSecret string        `mapstructure:"webhookSecret"`
	Tolerance     time.Duration `mapstructure:"tolerance"`
}

type StripeProviderConfig struct {
	WebhookSecret string        `mapstructure:"webhookSecret"`
	Tolerance     time.Duration `mapstructure:"tolerance"`
	APIKey        string        `mapstructure:"apiKey"`
	PriceID       string        `mapstructure:"priceId"`
	TrialDays     int64         `mapstructure:"trialDays"`
}

type IdentityConfig struct {
	BaseURL    string `mapstructure:"baseUrl"`
	ServiceKey string `mapstructure:"serviceKey"`
	PerPage    int    `mapstructure:"perPage"`
	MaxPages   int    `mapstructure:"maxPages"`
}

type CacheConfig struct {
	SubscriptionTTL time.Duration `mapstructure:"subscriptionTtl"`
	AdminTTL        time.Duration `mapstructure:"adminTtl"`
}

// IsProduction сообщает, что сервис запущен в production
func (c *Config) IsProduction() bool {
	return c.App.Env == EnvProduction
}

// AllowUnsignedWebhooks разрешает вебхуки без настроенного секрета только при локальной разработке
func (c *Config) AllowUnsignedWebhooks() bool {
	return c.App.Env == EnvDevelopment
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.port", "8080")
	v.SetDefault("app.env", EnvDevelopment)
	v.SetDefault("app.logLevel", "info")

	v.SetDefault("server.readTimeout", 10*time.Second)
	v.SetDefault("server.writeTimeout", 10*time.Second)
	v.SetDefault("server.shutdownTimeout", 10*time.Second)

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.maxConns", 10)
	v.SetDefault("database.minConns", 2)
	v.SetDefault("database.maxConnLifetime", time.Hour)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 5*time.Minute)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "subscription.changed")

	v.SetDefault("auth.jwtSecret", "")

	v.SetDefault("providers.defaultCheckout", "lemonsqueezy")
	v.SetDefault("providers.lemonsqueezy.webhookSecret", "")
	v.SetDefault("providers.lemonsqueezy.apiKey", "")
	v.SetDefault("providers.lemonsqueezy.storeId", "")
	v.SetDefault("providers.lemonsqueezy.variantId", "")
	v.SetDefault("providers.paddle.webhookSecret", "")
	v.SetDefault("providers.paddle.tolerance", 5*time.Minute)
	v.SetDefault("providers.stripe.webhookSecret", "")
	v.SetDefault("providers.stripe.tolerance", 5*time.Minute)
	v.SetDefault("providers.stripe.apiKey", "")
	v.SetDefault("providers.stripe.priceId", "")
	v.SetDefault("providers.stripe.trialDays", 0)

	v.SetDefault("identity.baseUrl", "")
	v.SetDefault("identity.serviceKey", "")
	v.SetDefault("identity.perPage", 50)
	v.SetDefault("identity.maxPages", 20)

	v.SetDefault("cache.subscriptionTtl", 5*time.Minute)
	v.SetDefault("cache.adminTtl", 10*time.Minute)
}

// LoadConfig загружает конфигурацию из config.yml в path и переменных окружения.
// Переменные окружения имеют приоритет: providers.paddle.webhookSecret -> PROVIDERS_PADDLE_WEBHOOKSECRET.
func LoadConfig(path string) (*Config, error) {
	if os.Getenv("APP_ENV") != EnvProduction {
		// .env необязателен
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("config")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("app.logLevel", "APP_LOGLEVEL", "LOG_LEVEL"); err != nil {
		return nil, fmt.Errorf("failed to bind env: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) validate() error {
	switch c.App.Env {
	case EnvDevelopment, EnvProduction, "staging", "test":
	default:
		return fmt.Errorf("unknown app.env %q", c.App.Env)
	}
	if c.IsProduction() {
		if c.Auth.JWTSecret == "" {
			return errors.New("auth.jwtSecret is required in production")
		}
		if c.Database.DSN == "" {
			return errors.New("database.dsn is required in production")
		}
	}
	return nil
}
