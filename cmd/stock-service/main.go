package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sakashimaa/go-pet-project/stock/internal/auth"
	"github.com/sakashimaa/go-pet-project/stock/internal/metrics"
	"github.com/sakashimaa/go-pet-project/stock/internal/repository"
	"github.com/sakashimaa/go-pet-project/stock/internal/service"
	"github.com/sakashimaa/go-pet-project/stock/internal/transport/events"
	httpTransport "github.com/sakashimaa/go-pet-project/stock/internal/transport/http"
	"github.com/sakashimaa/go-pet-project/stock/internal/transport/http/handler"
	kafkaTransport "github.com/sakashimaa/go-pet-project/stock/internal/transport/kafka"
	rabbitTransport "github.com/sakashimaa/go-pet-project/stock/internal/transport/rabbitmq"
	"github.com/sakashimaa/go-pet-project/stock/pkg/broker"
	"github.com/sakashimaa/go-pet-project/stock/pkg/config"
	"github.com/sakashimaa/go-pet-project/stock/pkg/db"
	"github.com/sakashimaa/go-pet-project/stock/pkg/kafka"
	outbox "github.com/sakashimaa/go-pet-project/stock/pkg/outbox/repository"
	"github.com/sakashimaa/go-pet-project/stock/pkg/outbox/worker"
	"github.com/sakashimaa/go-pet-project/stock/pkg/rabbitmq"
	"github.com/sakashimaa/go-pet-project/stock/pkg/utils"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(utils.EnvOrDefault("ENV_FILE", ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("error loading .env: %v", err)
	}

	cfg := config.MustLoad()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := utils.InitTracer(ctx, utils.TracerConfig{
		ServiceName: cfg.Tracing.ServiceName,
		Endpoint:    cfg.Tracing.Endpoint,
		Env:         cfg.Env,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		log.Fatalf("Error init tracer: %v", err)
	}

	logger, err := config.NewLogger(config.LoggerConfig{
		Level:   cfg.Logger.Level,
		Env:     cfg.Env,
		Service: cfg.Tracing.ServiceName,
	})
	if err != nil {
		log.Fatalf("Error creating logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	pool, err := db.NewPostgresDB(ctx, cfg.Postgres)
	if err != nil {
		log.Fatalf("Error creating new postgres DB: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr,
	})

	m := metrics.New()

	stockRepository := repository.NewStockRepository(pool, logger)
	reservationRepository := repository.NewReservationRepository(pool, logger)
	outboxRepository := outbox.NewOutboxRepository(logger, cfg.Outbox.MaxAttempts)
	store := repository.NewPgStore(pool, stockRepository, reservationRepository, outboxRepository, logger)

	stockService := service.NewStockService(store, logger, m, service.Config{
		StockTopic: cfg.StockTopic(),
		TxTimeout:  cfg.Reservation.TxTimeout,
	})
	cachedStockService := service.NewCachedStockService(stockService, rdb, service.CacheConfig{
		TTL:             cfg.Redis.CacheTTL,
		InvalidateDelay: cfg.Redis.InvalidateDelay,
	}, logger)

	orderHandler := events.NewOrderHandler(cachedStockService, logger, m)

	var (
		producer    broker.Producer
		runConsumer func(ctx context.Context) error
	)
	switch cfg.Broker.Type {
	case config.BrokerRabbitMQ:
		producer, err = rabbitmq.NewPublisher(cfg.Broker.RabbitMQ.URL, logger)
		runConsumer = rabbitTransport.NewConsumer(orderHandler.Handle, cfg.Broker.RabbitMQ, logger).Start
	default:
		producer, err = kafka.NewProducer(cfg.Broker.Kafka.Brokers, logger)
		runConsumer = kafkaTransport.NewConsumer(orderHandler.Handle, cfg.Broker.Kafka, logger).Start
	}
	if err != nil {
		log.Fatalf("error creating %s producer: %v", cfg.Broker.Type, err)
	}

	outboxProcessor := worker.NewOutboxProcessor(
		pool,
		outboxRepository,
		producer,
		logger,
		worker.Config{
			BatchSize:   cfg.Outbox.BatchSize,
			Interval:    cfg.Outbox.Interval,
			MaxAttempts: cfg.Outbox.MaxAttempts,
		},
		worker.WithPublishHook(m.ObserveOutbox),
	)

	blacklist := auth.NewBlacklist(logger)
	m.TrackRevokedTokens(blacklist.Count)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		outboxProcessor.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		blacklist.Start(ctx, cfg.Auth.SweepInterval)
	}()
	go func() {
		defer wg.Done()
		if err := runConsumer(ctx); err != nil {
			logger.Error("consumer stopped", zap.Error(err))
			stop()
		}
	}()

	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.HTTP.Timeout,
		WriteTimeout: cfg.HTTP.Timeout,
	})
	app.Use(otelfiber.Middleware())
	app.Use(recover.New())
	app.Use(limiter.New(limiter.Config{
		Max:        cfg.HTTP.RateLimit,
		Expiration: cfg.HTTP.RateWindow,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		Next: func(c *fiber.Ctx) bool {
			return c.Path() == "/health" || c.Path() == "/metrics"
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests. Try again later.",
			})
		},
	}))

	httpTransport.RegisterRoutes(app, &httpTransport.Handlers{
		Auth:  handler.NewAuthHandler(blacklist, 15*time.Minute, logger),
		Stock: handler.NewStockHandler(cachedStockService, cfg.HTTP.Timeout, logger),
	}, m, cfg.Auth.AccessSecret, blacklist)

	go func() {
		log.Println("HTTP Stock service listening on port: " + cfg.HTTP.Port)
		if err := app.Listen(cfg.HTTP.Port); err != nil {
			log.Printf("Error listening HTTP on port %v: %v", cfg.HTTP.Port, err)
			stop()
		}
	}()

	logger.Info("stock service started!", zap.String("broker", cfg.Broker.Type))

	<-ctx.Done()

	log.Println("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("Error shutting down HTTP server: %v", err)
	} else {
		log.Println("Stopped HTTP server successfully")
	}

	wg.Wait()
	log.Println("Consumers and workers stopped")

	if err := producer.Close(); err != nil {
		log.Printf("Error closing producer: %v", err)
	}

	if err := rdb.Close(); err != nil {
		log.Printf("Error closing redis: %v", err)
	}

	pool.Close()
	log.Println("Closed db pool successfully")

	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error stopping telemetry: %v\n", err)
	} else {
		log.Println("Telemetry closed correctly")
	}
}
