package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/redeemedwear/order-service/internal/checkout"
	"github.com/redeemedwear/order-service/internal/config"
	"github.com/redeemedwear/order-service/internal/db"
	"github.com/redeemedwear/order-service/internal/events"
	"github.com/redeemedwear/order-service/internal/fulfillment"
	"github.com/redeemedwear/order-service/internal/handler"
	"github.com/redeemedwear/order-service/internal/mailer"
	"github.com/redeemedwear/order-service/internal/order"
	"github.com/redeemedwear/order-service/internal/outbox"
	"github.com/redeemedwear/order-service/internal/paypal"
	"github.com/redeemedwear/order-service/internal/printful"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	log.Logger = log.With().Str("service", "order-service").Logger()

	log.Info().Msg("Order service starting...")

	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	ctx := context.Background()

	pg, err := db.New(ctx, cfg.Postgres)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer pg.Close()

	paypalClient := paypal.NewClient(cfg.PayPal.APIBase, cfg.PayPal.ClientID, cfg.PayPal.ClientSecret)
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		paypalClient.SetRedisClient(redisClient)
		log.Info().Str("addr", cfg.RedisAddr).Msg("Redis token cache enabled")
	}

	var publisher *events.Publisher
	if cfg.AMQPURL != "" {
		publisher, err = events.NewPublisher(cfg.AMQPURL, "orders")
		if err != nil {
			// Event publishing is an optional integration; checkout must
			// not depend on the broker being up.
			log.Warn().Err(err).Msg("Event publisher unavailable, continuing without it")
			publisher = nil
		} else {
			log.Info().Msg("Connected to RabbitMQ")
		}
	}
	defer publisher.Close()

	outboxRepo := outbox.NewRepository(pg.Pool)
	orderRepo := order.NewRepository(pg.Pool, outboxRepo)
	orderSvc := order.NewService(orderRepo)

	printfulClient := printful.NewClient(cfg.Printful.APIBase, cfg.Printful.APIKey)
	variantStore := fulfillment.NewVariantStore(pg.Pool)
	fulfillmentRouter := fulfillment.NewRouter(orderRepo, variantStore, printfulClient)

	mail := mailer.NewMailgun(cfg.Mailgun.APIBase, cfg.Mailgun.Domain, cfg.Mailgun.APIKey)
	checkoutSvc := checkout.NewService(orderRepo, paypalClient, mail, outboxRepo, publisher, cfg.App.SupportEmail, cfg.App.PublicURL)

	worker := outbox.NewWorker(outboxRepo)
	worker.Register(outbox.KindFulfillmentSubmit, fulfillmentRouter.HandleSubmitJob)
	worker.Register(outbox.KindShippingEmail, checkoutSvc.HandleShippingEmailJob)

	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	go worker.Run(workerCtx)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	handler.NewCheckoutHandler(checkoutSvc).RegisterRoutes(router)
	handler.NewWebhookHandler(checkoutSvc, cfg.Printful.WebhookSecret, cfg.Printful.AllowUnverified).RegisterRoutes(router)
	handler.NewTrackingHandler(orderSvc).RegisterRoutes(router)
	handler.NewAdminHandler(orderSvc, fulfillmentRouter, cfg.App.ServiceToken).RegisterRoutes(router)

	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.App.Port).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh

	log.Info().Msg("Shutting down...")
	stopWorker()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Shutdown failed")
	}

	log.Info().Msg("Order service stopped gracefully")
}
