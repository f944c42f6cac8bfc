package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"printshop/config"
	"printshop/internal/api"
	"printshop/internal/auth"
	"printshop/internal/broker"
	"printshop/internal/payments"
	"printshop/internal/redisclient"
	"printshop/internal/service"
	"printshop/internal/store"
	"printshop/internal/ticket"
	"printshop/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting printshop service")

	tp, err := util.InitTracer(util.TracerConfig{
		ServiceName: util.ServiceName,
		Environment: cfg.Server.Env,
		Endpoint:    cfg.Observ.JaegerEndpoint,
		SampleRatio: cfg.Observ.SampleRatio,
	})
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Database connected")

	readiness := map[string]func(context.Context) error{"postgres": db.Ping}

	// Redis only accelerates ticket allocation and idempotency, so the
	// service still starts without it.
	var idem service.IdempotencyStore
	allocatorOpts := []ticket.Option{}
	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Warn("Redis unavailable, continuing without idempotency keys and ticket claims", zap.Error(err))
	} else {
		defer redisClient.Close()
		idem = redisClient
		allocatorOpts = append(allocatorOpts, ticket.WithClaimer(redisClient))
		readiness["redis"] = redisClient.Ping
		logger.Info("Redis connected")
	}

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents)
	defer producer.Close()
	logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicEvents))

	eventPublisher := broker.NewEventPublisher(producer)

	provider, err := newPaymentProvider(cfg.Payment)
	if err != nil {
		log.Fatalf("Failed to initialize payment provider: %v", err)
	}
	logger.Info("Payment provider configured", zap.String("provider", provider.Name()))

	verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret)
	if err != nil {
		log.Fatalf("Failed to initialize token verifier: %v", err)
	}

	allocator := ticket.NewAllocator(cfg.Business.TicketMaxAttempts, allocatorOpts...)
	services := api.Services{
		Orders:   service.NewOrderService(db, idem, eventPublisher, allocator),
		Payments: service.NewPaymentService(db, provider, eventPublisher, cfg.PaymentTimeout()),
		Catalog:  service.NewCatalogService(db, eventPublisher),
		Settings: service.NewSettingsService(db, eventPublisher),
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(services, verifier, api.Options{
		FrontendURL: cfg.Server.FrontendURL,
		Uploads:     cfg.Upload,
		Readiness:   readiness,
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

func newPaymentProvider(cfg config.PaymentConfig) (payments.Provider, error) {
	switch cfg.Provider {
	case payments.ProviderRazorpay:
		p, err := payments.NewRazorpayProvider(payments.RazorpayConfig{
			KeyID:         cfg.RazorpayKeyID,
			KeySecret:     cfg.RazorpayKeySecret,
			WebhookSecret: cfg.RazorpayWebhookSecret,
			Currency:      cfg.Currency,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	case payments.ProviderStripe:
		p, err := payments.NewStripeProvider(payments.StripeConfig{
			APIKey:         cfg.StripeSecretKey,
			PublishableKey: cfg.StripePublishableKey,
			WebhookSecret:  cfg.StripeWebhookSecret,
			Currency:       cfg.Currency,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown payment provider %q", cfg.Provider)
	}
}
