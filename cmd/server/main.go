package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/pedalport/rental-backend/internal/config"
	"github.com/pedalport/rental-backend/internal/database"
	"github.com/pedalport/rental-backend/internal/gateway"
	"github.com/pedalport/rental-backend/internal/handlers"
	"github.com/pedalport/rental-backend/internal/metrics"
	"github.com/pedalport/rental-backend/internal/middleware"
	"github.com/pedalport/rental-backend/internal/services"
	"github.com/pedalport/rental-backend/pkg/jwt"
	"github.com/prometheus/client_golang/prometheus/promhttp"
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

	logger.Info("Starting PedalPort Rental Backend")
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

	// Initialize database connection
	logger.Info("Connecting to database...")
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Database connection established")

	metrics.Register()

	// Initialize repositories
	bikeRepo := database.NewBikeRepository(db)
	bookingRepo := database.NewBookingRepository(db)
	invoiceRepo := database.NewInvoiceRepository(db)
	ledgerRepo := database.NewLedgerRepository(db)
	auditRepo := database.NewPaymentAuditRepository(db, logger)

	// Initialize services
	logger.Info("Initializing services...")
	jwtService := jwt.NewService(cfg.Auth.AccessSecret, cfg.Auth.AccessTokenExpiry)
	pricingService := services.NewPricingService(bikeRepo, cfg.Pricing.Currency)

	// Notification dispatcher: AMQP when a broker is configured, no-op
	// otherwise. Payment processing never depends on the broker being up.
	var notifier services.NotificationDispatcher
	if cfg.AMQP.URL != "" {
		amqpDispatcher, err := services.NewAMQPDispatcher(cfg.AMQP, logger)
		if err != nil {
			logger.WithError(err).Warn("Notification broker unavailable, events will be dropped")
			notifier = services.NewNoopDispatcher(logger)
		} else {
			logger.WithField("exchange", cfg.AMQP.Exchange).Info("Notification broker connected")
			notifier = amqpDispatcher
		}
	} else {
		notifier = services.NewNoopDispatcher(logger)
	}

	lifecycleService := services.NewBookingLifecycleService(bikeRepo, bookingRepo, notifier, logger)
	ledgerService := services.NewLedgerService(
		ledgerRepo, bookingRepo, auditRepo, lifecycleService,
		cfg.Pricing.Currency, cfg.Booking.HoldTTL, logger,
	)

	// Gateway adapters
	registry := gateway.NewRegistry(
		gateway.NewEsewaAdapter(cfg.Esewa, logger),
		gateway.NewKhaltiAdapter(cfg.Khalti, logger),
	)

	reconciliationService := services.NewReconciliationService(
		registry, ledgerService, bookingRepo, auditRepo, logger,
	)

	// Start the hold-expiration sweep
	sweepService := services.NewSweepService(ledgerService, cfg.Booking.SweepSpec, logger)
	if err := sweepService.Start(); err != nil {
		logger.Fatalf("Failed to start sweep service: %v", err)
	}

	logger.Info("Services initialized")

	// Initialize handlers
	bookingHandler := handlers.NewBookingHandler(pricingService, ledgerService, bookingRepo, invoiceRepo, logger)
	paymentHandler := handlers.NewPaymentHandler(ledgerService, reconciliationService, registry, auditRepo, logger)

	// Initialize Gin router
	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	// CORS configuration
	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	router.Use(cors.New(corsConfig))

	// Health check and metrics endpoints
	router.GET("/health", healthCheckHandler(db))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		// Public quote endpoint
		v1.GET("/bikes/:id/quote", bookingHandler.GetQuote)

		// Gateway callbacks (unauthenticated: gateways cannot carry our
		// bearer tokens; trust comes from signatures and server-side lookup)
		v1.GET("/payments/:provider/callback", paymentHandler.Callback)
		v1.POST("/payments/:provider/callback", paymentHandler.Callback)

		// Booking routes (protected)
		bookings := v1.Group("/bookings")
		bookings.Use(middleware.AuthMiddleware(jwtService, logger))
		{
			bookings.POST("", bookingHandler.CreateBooking)
			bookings.GET("", bookingHandler.ListBookings)
			bookings.GET("/:id", bookingHandler.GetBooking)
			bookings.POST("/:id/cancel", bookingHandler.CancelBooking)
			bookings.GET("/:id/invoice", bookingHandler.GetInvoice)
		}

		// Payment routes (protected)
		payments := v1.Group("/payments")
		payments.Use(middleware.AuthMiddleware(jwtService, logger))
		{
			payments.POST("/initiate", paymentHandler.InitiatePayment)
			payments.GET("/trail/:correlation_id", paymentHandler.GetTrail)
		}

		// Admin sweep management routes
		admin := v1.Group("/admin")
		admin.Use(middleware.AuthMiddleware(jwtService, logger))
		{
			admin.POST("/sweep/run", func(c *gin.Context) {
				sweepService.RunNow()
				c.JSON(200, gin.H{"message": "Sweep triggered"})
			})

			admin.GET("/sweep/status", func(c *gin.Context) {
				c.JSON(200, sweepService.GetJobStatus())
			})
		}
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
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

	// Stop the sweep before the server so no expiration runs against a
	// closing database pool.
	sweepService.Stop()

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited successfully")
}

// requestLogger middleware for logging HTTP requests
func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		fields := logrus.Fields{
			"status":     c.Writer.Status(),
			"method":     c.Request.Method,
			"path":       path,
			"query":      query,
			"ip":         c.ClientIP(),
			"latency_ms": latency.Milliseconds(),
			"user_agent": c.Request.UserAgent(),
		}

		entry := logger.WithFields(fields)

		if len(c.Errors) > 0 {
			for i, err := range c.Errors {
				entry = entry.WithField(fmt.Sprintf("error_%d", i), err.Error())
			}
			entry.Error("Request failed with errors")
		} else {
			status := c.Writer.Status()
			if status >= 500 {
				entry.Error("Request completed with server error")
			} else if status >= 400 {
				entry.Warn("Request completed with client error")
			} else {
				entry.Info("Request completed successfully")
			}
		}
	}
}

// healthCheckHandler returns a health check endpoint
func healthCheckHandler(db interface{ Ping() error }) gin.HandlerFunc {
	return func(c *gin.Context) {
		dbStatus := "healthy"
		if err := db.Ping(); err != nil {
			dbStatus = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"database": dbStatus,
				"error":    err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"database":  dbStatus,
			"version":   version,
			"timestamp": time.Now().Unix(),
		})
	}
}
