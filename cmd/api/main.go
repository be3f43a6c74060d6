package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fulfillment-svc/cache"
	"fulfillment-svc/database"
	"fulfillment-svc/gateway"
	"fulfillment-svc/handlers"
	"fulfillment-svc/inventory"
	"fulfillment-svc/kafka"
	"fulfillment-svc/ledger"
	"fulfillment-svc/middleware"
	"fulfillment-svc/notification"
	"fulfillment-svc/resilience"
	"fulfillment-svc/saga"
	"fulfillment-svc/shipment"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Initialize OpenTelemetry
	shutdownTracing, err := middleware.InitTracing("fulfillment-service")
	if err != nil {
		logger.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	defer shutdownTracing()

	// Initialize database
	db, err := database.InitDB(logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	// Redis is a read-through cache only; the service degrades without it.
	var rdb *redis.Client
	if rdb, err = cache.InitRedis(logger); err != nil {
		logger.Warn("Redis unavailable, product cache disabled", zap.Error(err))
		rdb = nil
	}

	// Initialize Kafka producer
	syncProducer, err := kafka.InitProducer(logger)
	if err != nil {
		logger.Fatal("Failed to initialize Kafka producer", zap.Error(err))
	}
	defer syncProducer.Close()
	producer := kafka.NewProducer(syncProducer, logger)

	// Initialize Kafka consumer for compensation events
	consumer, err := kafka.InitConsumer(logger)
	if err != nil {
		logger.Fatal("Failed to initialize Kafka consumer", zap.Error(err))
	}
	defer consumer.Close()

	// Wire the saga with explicit dependencies
	eventLedger := ledger.New(db)
	notifier := notification.NewPublisher(producer, logger)
	engine := inventory.NewEngine(db, logger)
	invClient := inventory.NewRetryingClient(engine, resilience.DefaultPolicy(logger))
	gatewayClient := gateway.NewHTTPClient(logger)
	carrierClient := shipment.NewHTTPCarrierClient(logger)
	coordinator := shipment.NewCoordinator(db, carrierClient, producer, notifier, eventLedger, logger)

	orchestrator := saga.New(saga.Deps{
		DB:        db,
		Redis:     rdb,
		Inventory: invClient,
		Gateway:   gatewayClient,
		Shipments: coordinator,
		Events:    producer,
		Notifier:  notifier,
		Ledger:    eventLedger,
		Logger:    logger,
	})

	// Start compensation consumer in background
	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	defer stopConsumer()
	go func() {
		topic := getEnv("SAGA_TOPIC", "fulfillment_events")
		if err := kafka.StartConsumer(consumerCtx, consumer, topic, orchestrator.HandleSagaEvent, logger); err != nil {
			logger.Error("Kafka consumer error", zap.Error(err))
		}
	}()

	// Setup REST API with Gin
	router := gin.New()
	router.Use(gin.Recovery())
	// OpenTelemetry middleware must be first to extract trace context
	router.Use(otelgin.Middleware("fulfillment-service"))
	router.Use(middleware.LoggerMiddleware(logger))
	router.Use(middleware.MetricsMiddleware())

	// Health check endpoint
	router.GET("/health", handlers.HealthCheck)

	// Metrics endpoint
	router.GET("/metrics", middleware.PrometheusHandler())

	// Webhooks are authenticated by the upstream services, not by user tokens
	webhookHandler := handlers.NewWebhookHandler(orchestrator, coordinator, logger)
	router.POST("/webhooks/payment", webhookHandler.PaymentWebhook)
	router.POST("/webhooks/delivery", webhookHandler.DeliveryWebhook)

	// Order endpoints
	jwtSecret := []byte(getEnv("JWT_SECRET", "dev-secret"))
	orderHandler := handlers.NewOrderHandler(db, orchestrator, logger)
	authed := router.Group("/", middleware.AuthMiddleware(jwtSecret))
	authed.POST("/orders", orderHandler.CreateOrder)
	authed.GET("/orders/:id", orderHandler.GetOrder)
	authed.POST("/orders/:id/cancel", orderHandler.CancelOrder)
	authed.POST("/orders/:id/refund", orderHandler.RequestRefund)

	// Start REST server
	srv := &http.Server{
		Addr:    ":" + getEnv("PORT", "8085"),
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start REST server", zap.Error(err))
		}
	}()

	logger.Info("Fulfillment Service started", zap.String("addr", srv.Addr))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	stopConsumer()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
