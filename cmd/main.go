/**
 * @description
 * This is the main entry point for the settlement-service. It is responsible
 * for initializing all components of the service, including configuration,
 * database connection, external API clients, the message broker producer, the
 * repository, the core settlement service, the cron scheduler, and the HTTP
 * server. It wires everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/tokenclient: Client for the chain indexer API.
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

	"github.com/engagefi/settlement-service/internal/api"
	"github.com/engagefi/settlement-service/internal/app"
	"github.com/engagefi/settlement-service/internal/config"
	"github.com/engagefi/settlement-service/internal/store"
	rmrabbit "github.com/engagefi/settlement-service/pkg/rabbitmq"
	"github.com/engagefi/settlement-service/pkg/tokenclient"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"internal api key must be configured\" env=INTERNAL_API_KEY")
	}

	log.Printf("level=info component=bootstrap msg=\"starting settlement-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	// Settlement runs in batches, so the pool stays modest; align the
	// lifetime settings with the other services.
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

	// Initialize the RabbitMQ producer to publish settled events. Settlement
	// must keep working without the broker, so a connect failure degrades to
	// the fallback producer.
	var eventProducer rmrabbit.Publisher
	producer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL, cfg.SettlementEventExchange)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		eventProducer = &rmrabbit.EventProducerFallback{}
	} else {
		defer producer.Close()
		eventProducer = producer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Initialize the client for the chain indexer API. Missing config should
	// not prevent the service from booting; fixed-mode campaigns with a
	// minimum-balance gate will fail settlement until it is configured.
	var tokenClient app.TokenBalanceClient
	if strings.TrimSpace(cfg.ChainAPIBaseURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"chain api not configured; minimum-balance gating disabled\" env=CHAIN_API_BASE_URL")
	} else {
		tokenClient = tokenclient.NewClient(cfg.ChainAPIBaseURL, cfg.ChainAPIKey)
	}

	var redisClient *redis.Client
	if cfg.TriggerRateLimitPerMinute > 0 {
		if cfg.RedisURL == "" {
			log.Println("level=warn component=bootstrap msg=\"redis url missing; trigger rate limiting disabled\" env=REDIS_URL")
		} else {
			redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
			if parseErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; trigger rate limiting disabled\" err=%v", parseErr)
			} else {
				redisClient = redis.NewClient(redisOptions)
				pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancelPing()
				if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
					log.Printf("level=warn component=bootstrap msg=\"redis ping failed; trigger rate limiting disabled\" err=%v", pingErr)
					redisClient.Close()
					redisClient = nil
				} else {
					defer redisClient.Close()
					log.Println("level=info component=bootstrap msg=\"redis connected\"")
				}
			}
		}
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the core settlement service with its dependencies.
	settlementService := app.NewService(
		repository,
		tokenClient,
		eventProducer,
		cfg.SettlementBatchLimit,
		time.Duration(cfg.SettlementRunBudgetSecs)*time.Second,
	)

	// Initialize the API handlers.
	settlementHandlers := api.NewSettlementHandlers(settlementService, cfg.InternalAPIKey)
	if redisClient != nil {
		settlementHandlers.SetTriggerRateLimiter(
			app.NewRedisTriggerRateLimiter(redisClient, cfg.RedisRateLimitPrefix),
			cfg.TriggerRateLimitPerMinute,
		)
	}

	// Set up the HTTP router and define the API routes.
	router := chi.NewRouter()
	router.Mount("/settlements", api.SettlementRoutes(settlementHandlers, cfg.AuthJWKSURL))

	// Start the cron scheduler driving periodic settlement passes.
	scheduler := app.NewScheduler(settlementService, cfg.SettlementCronSchedule)
	if err := scheduler.Start(); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"scheduler start failed\" schedule=%q err=%v", cfg.SettlementCronSchedule, err)
	}

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

	// Stop scheduling new passes, then wait for any in-flight pass so a
	// settlement transaction is never abandoned mid-batch.
	schedulerCtx := scheduler.Stop()
	select {
	case <-schedulerCtx.Done():
	case <-time.After(time.Duration(cfg.SettlementRunBudgetSecs) * time.Second):
		log.Println("level=warn component=bootstrap msg=\"scheduler drain timed out\"")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
