package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// JWT configuration
	JWT JWTConfig

	// CORS configuration
	CORS CORSConfig

	// Lesson marketplace backend
	LessonAPI LessonAPIConfig

	// Payment method and wallet configuration
	Payments PaymentsConfig

	// Redis configuration
	Redis RedisConfig

	// RabbitMQ configuration
	RabbitMQ RabbitMQConfig

	// Checkout session configuration
	Checkout CheckoutConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port        string
	Environment string // development, staging, production
	LogLevel    string // debug, info, warn, error
}

// IsDevelopment reports whether the server runs in development mode
func (s ServerConfig) IsDevelopment() bool {
	return strings.EqualFold(s.Environment, "development")
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	URL                string
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
}

// JWTConfig holds JWT-related configuration
type JWTConfig struct {
	Secret string
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// LessonAPIConfig points at the marketplace backend that owns bookings,
// pricing, payments and wallets
type LessonAPIConfig struct {
	BaseURL string
	Timeout time.Duration
}

// PaymentsConfig controls where saved cards come from
type PaymentsConfig struct {
	MethodsSource   string // "api" or "stripe"
	StripeSecretKey string // SECRET - never expose to client
	DemoCards       bool   // synthetic card, development only
}

// RedisConfig holds the session state store configuration. An empty URL
// keeps state in memory.
type RedisConfig struct {
	URL string
	TTL time.Duration
}

// RabbitMQConfig holds outcome event publishing configuration. An empty URL
// disables publishing.
type RabbitMQConfig struct {
	URL      string
	Exchange string
}

// CheckoutConfig holds checkout session tuning
type CheckoutConfig struct {
	Timeout        time.Duration
	SessionIdleTTL time.Duration
	SweepSchedule  string
	PayRatePerMin  int
	PayBurst       int
	PaymentInline  bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	config := &Config{
		Server: ServerConfig{
			Port:        v.GetString("PORT"),
			Environment: v.GetString("ENVIRONMENT"),
			LogLevel:    v.GetString("LOG_LEVEL"),
		},
		Database: DatabaseConfig{
			URL:                v.GetString("DATABASE_URL"),
			MaxConnections:     v.GetInt("DATABASE_MAX_CONNECTIONS"),
			MaxIdleConnections: v.GetInt("DATABASE_MAX_IDLE_CONNECTIONS"),
			ConnMaxLifetime:    time.Duration(v.GetInt("DATABASE_CONN_MAX_LIFETIME")) * time.Second,
		},
		JWT: JWTConfig{
			Secret: v.GetString("JWT_SECRET"),
		},
		CORS: CORSConfig{
			AllowedOrigins: getSlice(v, "CORS_ALLOWED_ORIGINS"),
			AllowedMethods: getSlice(v, "CORS_ALLOWED_METHODS"),
			AllowedHeaders: getSlice(v, "CORS_ALLOWED_HEADERS"),
		},
		LessonAPI: LessonAPIConfig{
			BaseURL: strings.TrimRight(v.GetString("LESSON_API_BASE_URL"), "/"),
			Timeout: v.GetDuration("LESSON_API_TIMEOUT"),
		},
		Payments: PaymentsConfig{
			MethodsSource:   strings.ToLower(v.GetString("PAYMENT_METHODS_SOURCE")),
			StripeSecretKey: v.GetString("STRIPE_SECRET_KEY"),
			DemoCards:       v.GetBool("PAYMENT_DEMO_CARDS"),
		},
		Redis: RedisConfig{
			URL: v.GetString("REDIS_URL"),
			TTL: v.GetDuration("REDIS_STATE_TTL"),
		},
		RabbitMQ: RabbitMQConfig{
			URL:      v.GetString("RABBITMQ_URL"),
			Exchange: v.GetString("RABBITMQ_EXCHANGE"),
		},
		Checkout: CheckoutConfig{
			Timeout:        v.GetDuration("CHECKOUT_TIMEOUT"),
			SessionIdleTTL: v.GetDuration("SESSION_IDLE_TTL"),
			SweepSchedule:  v.GetString("SESSION_SWEEP_SCHEDULE"),
			PayRatePerMin:  v.GetInt("PAY_RATE_LIMIT_PER_MINUTE"),
			PayBurst:       v.GetInt("PAY_RATE_LIMIT_BURST"),
			PaymentInline:  v.GetBool("PAYMENT_METHOD_INLINE"),
		},
	}

	// Demo cards never leave development
	if !config.Server.IsDevelopment() {
		config.Payments.DemoCards = false
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("DATABASE_MAX_CONNECTIONS", 10)
	v.SetDefault("DATABASE_MAX_IDLE_CONNECTIONS", 5)
	v.SetDefault("DATABASE_CONN_MAX_LIFETIME", 300)

	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("CORS_ALLOWED_METHODS", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	v.SetDefault("CORS_ALLOWED_HEADERS", "Content-Type,Authorization")

	v.SetDefault("LESSON_API_TIMEOUT", "15s")

	v.SetDefault("PAYMENT_METHODS_SOURCE", "api")
	v.SetDefault("PAYMENT_DEMO_CARDS", false)

	v.SetDefault("REDIS_STATE_TTL", "24h")
	v.SetDefault("RABBITMQ_EXCHANGE", "checkout_events")

	v.SetDefault("CHECKOUT_TIMEOUT", "60s")
	v.SetDefault("SESSION_IDLE_TTL", "30m")
	v.SetDefault("SESSION_SWEEP_SCHEDULE", "0 */5 * * * *")
	v.SetDefault("PAY_RATE_LIMIT_PER_MINUTE", 10)
	v.SetDefault("PAY_RATE_LIMIT_BURST", 3)
	v.SetDefault("PAYMENT_METHOD_INLINE", false)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.LessonAPI.BaseURL == "" {
		return fmt.Errorf("LESSON_API_BASE_URL is required")
	}

	switch c.Payments.MethodsSource {
	case "api":
	case "stripe":
		if c.Payments.StripeSecretKey == "" {
			return fmt.Errorf("STRIPE_SECRET_KEY is required when PAYMENT_METHODS_SOURCE is stripe")
		}
	default:
		return fmt.Errorf("invalid payment methods source: %s (must be 'api' or 'stripe')", c.Payments.MethodsSource)
	}

	if c.Checkout.Timeout < 0 {
		return fmt.Errorf("CHECKOUT_TIMEOUT cannot be negative")
	}

	return nil
}

// getSlice splits a comma separated value, dropping blanks
func getSlice(v *viper.Viper, key string) []string {
	var result []string
	for _, part := range strings.Split(v.GetString(key), ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
