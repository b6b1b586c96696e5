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

	"storefront/config"
	"storefront/internal/api"
	"storefront/internal/broker"
	"storefront/internal/payment"
	"storefront/internal/redisclient"
	"storefront/internal/service"
	"storefront/internal/store"
	"storefront/internal/util"
	"storefront/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting storefront")

	tp, err := util.InitTracer("storefront", cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connected")

	if cfg.Database.Migrate {
		if err := db.Migrate(context.Background()); err != nil {
			logger.Fatal("Failed to migrate database", zap.Error(err))
		}
		logger.Info("Database schema applied")
	}

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Business.CartTTL)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	logger.Info("Kafka producer initialized", zap.Strings("brokers", cfg.Kafka.Brokers))

	eventPublisher := broker.NewEventPublisher(producer)

	provider, stripeProvider, err := newPaymentProvider(cfg.Payment, logger)
	if err != nil {
		logger.Fatal("Failed to configure payment provider", zap.Error(err))
	}
	logger.Info("Payment provider configured",
		zap.String("provider", provider.Name()),
		zap.Bool("callbacks", payment.IsPublicURL(cfg.Payment.PublicBaseURL)))

	cartService := service.NewCartService(db, redisClient)
	orderService := service.NewOrderService(db, provider, eventPublisher, redisClient, service.OrderConfig{
		ShippingCost:             cfg.Business.ShippingCost,
		RollbackOnPaymentFailure: cfg.Business.RollbackOnPaymentFailure,
		PublicBaseURL:            cfg.Payment.PublicBaseURL,
		Currency:                 cfg.Payment.Currency,
		StatementDescriptor:      cfg.Payment.StatementDescriptor,
	})
	paymentService := service.NewPaymentService(db, provider, eventPublisher)
	authService := service.NewAuthService(db, cfg.Auth.JWTSecret, cfg.Auth.SessionDuration)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	cartConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.ConsumerGroup)
	cartWorker := worker.NewCartWorker(cartConsumer, cartService)
	go func() {
		if err := cartWorker.Start(workerCtx); err != nil && workerCtx.Err() == nil {
			logger.Error("Cart worker error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	var verifier api.WebhookVerifier
	if stripeProvider != nil {
		verifier = stripeProvider
	}
	handler := api.NewHandler(orderService, paymentService, cartService, authService, verifier, api.Options{
		SessionTTL:    cfg.Auth.SessionDuration,
		CartTTL:       cfg.Business.CartTTL,
		SecureCookies: cfg.Auth.SecureCookies,
		Readiness: map[string]api.ReadinessCheck{
			"postgres": db.Ping,
			"redis":    redisClient.Ping,
		},
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
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := cartWorker.Stop(); err != nil {
		logger.Warn("Error stopping cart worker", zap.Error(err))
	}

	logger.Info("Server exited")
}

// newPaymentProvider builds the configured processor adapter. The Stripe
// adapter is also returned on its own since it verifies webhooks.
func newPaymentProvider(cfg config.PaymentConfig, logger *zap.Logger) (payment.Provider, *payment.Stripe, error) {
	switch cfg.Provider {
	case payment.ProviderMercadoPago:
		mp, err := payment.NewMercadoPago(payment.MercadoPagoConfig{
			AccessToken: cfg.MercadoPagoToken,
			BaseURL:     cfg.MercadoPagoAPIURL,
			Timeout:     cfg.Timeout,
		}, logger.Named("mercadopago"))
		if err != nil {
			return nil, nil, err
		}
		return mp, nil, nil
	case payment.ProviderStripe:
		st, err := payment.NewStripe(payment.StripeConfig{
			SecretKey:     cfg.StripeSecretKey,
			WebhookSecret: cfg.StripeWebhookSecret,
			ReturnBaseURL: cfg.PublicBaseURL,
		}, logger.Named("stripe"))
		if err != nil {
			return nil, nil, err
		}
		return st, st, nil
	}
	return nil, nil, fmt.Errorf("unknown payment provider %q", cfg.Provider)
}
