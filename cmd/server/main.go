package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/lessonmarket/checkout-service/internal/checkout"
	"github.com/lessonmarket/checkout-service/internal/config"
	"github.com/lessonmarket/checkout-service/internal/database"
	"github.com/lessonmarket/checkout-service/internal/handlers"
	"github.com/lessonmarket/checkout-service/internal/middleware"
	"github.com/lessonmarket/checkout-service/internal/services"
	"github.com/lessonmarket/checkout-service/internal/storage"
	"github.com/lessonmarket/checkout-service/pkg/jwt"
	"github.com/sirupsen/logrus"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logger.Info("Starting lesson checkout service")
	logger.Infof("Version: %s, Build Time: %s", version, buildTime)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Set log level
	logLevel, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Set Gin mode
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	checks := map[string]handlers.Pinger{}

	// Audit log is optional; without a database milestones only go to the log
	var auditWriter services.AuditWriter
	var auditReader handlers.AuditReader
	if cfg.Database.URL != "" {
		logger.Info("Connecting to database...")
		db, err := database.NewConnection(cfg.Database)
		if err != nil {
			logger.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
		logger.Info("Database connection established")

		auditRepo := database.NewCheckoutAuditRepository(db, logger)
		auditWriter = auditRepo
		auditReader = auditRepo
		checks["database"] = db
	} else {
		logger.Warn("DATABASE_URL not set, checkout audits are logged only")
	}
	auditService := services.NewAuditService(auditWriter, logger)

	// Session state store
	var store storage.Store = storage.NewMemoryStore()
	if cfg.Redis.URL != "" {
		redisClient, err := storage.NewRedisClient(cfg.Redis.URL)
		if err != nil {
			logger.Fatalf("Failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
		store = storage.NewRedisStore(redisClient, cfg.Redis.TTL, logger)
		checks["redis"] = handlers.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
		logger.Info("✓ Redis session store enabled")
	}

	// Backend clients
	apiClient := services.NewLessonAPIClient(cfg.LessonAPI, logger)
	var stripeLister *services.StripePaymentMethodLister
	if cfg.Payments.MethodsSource == "stripe" {
		stripeLister = services.NewStripePaymentMethodLister(cfg.Payments.StripeSecretKey, logger)
		logger.Info("✓ Saved cards are read from Stripe")
	}

	collaborators := func(user middleware.UserContext) checkout.Collaborators {
		client := apiClient.WithToken(user.Token)
		collab := checkout.Collaborators{
			Pricing:        client,
			Bookings:       client,
			Cancel:         client,
			Details:        client,
			Checkout:       client,
			PaymentMethods: client,
			Wallet:         client,
			Referrals:      client,
		}
		if stripeLister != nil {
			collab.PaymentMethods = stripeLister.ForCustomer(user.StripeCustomerID)
		}
		return collab
	}

	// Outcome events
	publisher, err := services.NewEventPublisher(cfg.RabbitMQ, logger)
	if err != nil {
		logger.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	defer publisher.Close()
	if publisher.Enabled() {
		logger.Info("✓ Checkout events are published to RabbitMQ")
	}

	// Sessions and idle sweep
	registry := services.NewSessionRegistry(logger)
	cronService := services.NewCronService(registry, cfg.Checkout.SweepSchedule, cfg.Checkout.SessionIdleTTL, logger)
	if err := cronService.Start(); err != nil {
		logger.Fatalf("Failed to start cron service: %v", err)
	}
	defer cronService.Stop()
	logger.Info("✓ Cron service started - idle checkout sessions are swept")

	if err := handlers.RegisterValidators(); err != nil {
		logger.Fatalf("Failed to register validators: %v", err)
	}

	jwtService := jwt.NewService(cfg.JWT.Secret, time.Hour)
	checkoutHandler := handlers.NewCheckoutHandler(
		registry,
		collaborators,
		publisher,
		auditReader,
		handlers.CheckoutHandlerConfig{
			Inline:          cfg.Checkout.PaymentInline,
			DemoCards:       cfg.Payments.DemoCards,
			CheckoutTimeout: cfg.Checkout.Timeout,
			Store:           store,
			Audit:           auditService,
			Scheduler:       checkout.GoScheduler{},
		},
		logger,
	)
	healthHandler := handlers.NewHealthHandler(version, registry.Len, checks, logger)
	payLimiter := middleware.NewRateLimiter(cfg.Checkout.PayRatePerMin, cfg.Checkout.PayBurst, logger)

	// Initialize Gin router
	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	// CORS configuration
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Health check endpoint
	router.GET("/health", healthHandler.Health)

	v1 := router.Group("/api/v1")
	v1.Use(middleware.AuthMiddleware(jwtService, logger))
	checkoutHandler.RegisterRoutes(v1, payLimiter.Middleware())

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Checkout.Timeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Infof("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	logger.WithField("open_sessions", registry.Len()).Info("Server exited")
}

// requestLogger logs one line per request without the bearer token
func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		fields := logrus.Fields{
			"status":     c.Writer.Status(),
			"method":     c.Request.Method,
			"path":       path,
			"ip":         c.ClientIP(),
			"latency_ms": time.Since(start).Milliseconds(),
			"has_auth":   c.GetHeader("Authorization") != "",
		}
		if user, ok := middleware.GetUserContext(c); ok {
			fields["user_id"] = user.UserID
		}

		entry := logger.WithFields(fields)
		if len(c.Errors) > 0 {
			entry.WithField("errors", c.Errors.String()).Error("Request failed with errors")
			return
		}

		status := c.Writer.Status()
		switch {
		case status >= 500:
			entry.Error("Request completed with server error")
		case status >= 400:
			entry.Warn("Request completed with client error")
		default:
			entry.Info("Request completed successfully")
		}
	}
}
