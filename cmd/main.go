/**
 * @description
 * This is the main entry point for the payment-service. It is responsible for
 * initializing all components of the service, including configuration, database connection,
 * provider gateway clients, message brokers, repositories, the core application service,
 * and the HTTP server. It wires everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Redis client for rate limiting.
 * - internal/api, internal/app, internal/config, internal/pricing, internal/store: Internal packages for the service.
 * - pkg/momo: Mobile Money provider clients.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/paylink/payment-service/internal/api"
	"github.com/paylink/payment-service/internal/app"
	"github.com/paylink/payment-service/internal/config"
	"github.com/paylink/payment-service/internal/pricing"
	"github.com/paylink/payment-service/internal/store"
	"github.com/paylink/payment-service/pkg/momo"
	rmrabbit "github.com/paylink/payment-service/pkg/rabbitmq"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}

	log.Printf("level=info component=bootstrap msg=\"starting payment-service\" port=%s env=%s", cfg.ServerPort, cfg.AppEnv)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 50
	poolConfig.MinConns = 10
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer for lifecycle events. The service can
	// run without it; publication degrades to the logging fallback.
	var producer rmrabbit.Publisher = &rmrabbit.EventProducerFallback{}
	if eventProducer, prodErr := rmrabbit.NewEventProducer(cfg.RabbitMQURL); prodErr != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", prodErr)
	} else {
		producer = eventProducer
		defer eventProducer.Close()
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Initialize the provider gateways.
	orangeGateway := momo.NewOrangeMoney("orange_money", momo.OrangeConfig{
		MerchantKey:   cfg.OrangeMerchantKey,
		APIUser:       cfg.OrangeAPIUser,
		APIKey:        cfg.OrangeAPIKey,
		WebhookSecret: cfg.OrangeWebhookSecret,
		BaseURL:       cfg.OrangeBaseURL,
		Production:    cfg.IsProduction(),
	}, nil)
	mtnGateway := momo.NewMTNMoMo("mtn_momo", momo.MTNConfig{
		APIUser:         cfg.MTNAPIUser,
		APIKey:          cfg.MTNAPIKey,
		SubscriptionKey: cfg.MTNSubscriptionKey,
		WebhookSecret:   cfg.MTNWebhookSecret,
		CallbackURL:     cfg.MTNCallbackURL,
		BaseURL:         cfg.MTNBaseURL,
		TokenURL:        cfg.MTNTokenURL,
		Production:      cfg.IsProduction(),
	}, nil)
	gateways := momo.NewRegistry(orangeGateway, mtnGateway)
	if !orangeGateway.Configured() || !mtnGateway.Configured() {
		log.Printf("level=warn component=bootstrap msg=\"provider credentials incomplete; unconfigured providers run in simulation mode\" orange=%t mtn=%t",
			orangeGateway.Configured(), mtnGateway.Configured())
	}

	// Optional Redis for the initiation rate limiter.
	var limiter app.RateLimiter
	if cfg.PaymentRateLimitPerMinute > 0 {
		if strings.TrimSpace(cfg.RedisURL) == "" {
			log.Println("level=warn component=bootstrap msg=\"redis url missing; payment rate limiting disabled\" env=REDIS_URL")
		} else {
			redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
			if parseErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; payment rate limiting disabled\" err=%v", parseErr)
			} else {
				redisClient := redis.NewClient(redisOptions)
				pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancelPing()
				if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
					log.Printf("level=warn component=bootstrap msg=\"redis ping failed; payment rate limiting disabled\" err=%v", pingErr)
					redisClient.Close()
				} else {
					defer redisClient.Close()
					limiter = app.NewRedisRateLimiter(redisClient)
					log.Println("level=info component=bootstrap msg=\"redis connected\"")
				}
			}
		}
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Pricing engine backed by the versioned fee schedules.
	engine := pricing.NewEngine(repository, repository)

	// Initialize the core application service with its dependencies.
	paymentService := app.NewService(repository, engine, gateways, producer, limiter, app.ServiceOptions{
		FrontendBaseURL:      cfg.FrontendBaseURL,
		PublicBaseURL:        cfg.PublicBaseURL,
		InitiationRateLimit:  cfg.PaymentRateLimitPerMinute,
		InitiationRateWindow: time.Minute,
	})

	// Make sure every provider has a fee schedule before taking traffic.
	seedCtx, cancelSeed := context.WithTimeout(context.Background(), 10*time.Second)
	if err := paymentService.SeedDefaultFeeSchedules(seedCtx); err != nil {
		cancelSeed()
		log.Fatalf("level=fatal component=bootstrap msg=\"fee schedule seeding failed\" err=%v", err)
	}
	cancelSeed()

	// Start the reconciliation poller for stuck PROCESSING transactions.
	poller := app.NewStatusPoller(paymentService, app.PollerOptions{
		Interval: time.Duration(cfg.PollIntervalSeconds) * time.Second,
		MinAge:   time.Duration(cfg.PollMinAgeSeconds) * time.Second,
		Batch:    cfg.PollBatchSize,
	})
	if err := poller.Start(); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"status poller start failed\" err=%v", err)
	}
	defer poller.Stop()

	// Wire up the SMS notification consumer. Like the producer, it is
	// best-effort: without a broker, receipts are simply not sent.
	if rabbitConsumer, consErr := rmrabbit.NewConsumer(cfg.RabbitMQURL); consErr != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq consumer unavailable; sms dispatch disabled\" err=%v", consErr)
	} else {
		defer rabbitConsumer.Close()
		dispatcher := app.NewSMSDispatcher(repository, nil)
		if err := rabbitConsumer.ConsumeWithBindings(rmrabbit.EventsExchange, cfg.NotificationQueue, dispatcher.Bindings()); err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"sms consumer start failed\" err=%v", err)
		}
		log.Println("level=info component=bootstrap msg=\"sms dispatcher consuming\"")
	}

	// Initialize the API handlers.
	paymentHandlers := api.NewPaymentHandlers(paymentService)

	// Set up the HTTP router and define the API routes.
	router := chi.NewRouter()
	router.Mount("/api", api.PaymentRoutes(paymentHandlers, cfg.JWKSURL, cfg.Origins()))

	// Start the HTTP server.
	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
