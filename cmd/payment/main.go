package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iusamaaziz/DonationBox-sub000/internal/donation"
	"github.com/iusamaaziz/DonationBox-sub000/internal/gateway"
	"github.com/iusamaaziz/DonationBox-sub000/internal/repository"
	"github.com/iusamaaziz/DonationBox-sub000/internal/service"
	transportKafka "github.com/iusamaaziz/DonationBox-sub000/internal/transport/kafka"
	"github.com/iusamaaziz/DonationBox-sub000/pkg/config"
	"github.com/iusamaaziz/DonationBox-sub000/pkg/db"
	pkgKafka "github.com/iusamaaziz/DonationBox-sub000/pkg/kafka"
	"github.com/iusamaaziz/DonationBox-sub000/pkg/lock"
	"github.com/iusamaaziz/DonationBox-sub000/pkg/mylogger"
	outbox "github.com/iusamaaziz/DonationBox-sub000/pkg/outbox/repository"
	"github.com/iusamaaziz/DonationBox-sub000/pkg/outbox/worker"
	"github.com/iusamaaziz/DonationBox-sub000/pkg/utils"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println(".env not found, using system envs")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.MustLoad()

	tp, err := utils.InitTracer(ctx, "payment-service")
	if err != nil {
		log.Fatalf("Error init tracer: %v", err)
	}

	pool, err := db.NewPostgresDB(cfg.Postgres.URL)
	if err != nil {
		log.Fatalf("Error creating postgres DB: %v", err)
	}

	redisClient, err := db.NewRedisClient(cfg.Redis.Addr)
	if err != nil {
		log.Fatalf("Error creating redis client: %v", err)
	}

	logger, err := cfg.Logger()
	if err != nil {
		log.Fatalf("Error creating logger: %v", err)
	}
	defer func() {
		if err := logger.Sync(); err != nil {
			log.Printf("failed to sync logger: %v", err)
		}
	}()

	mylogger.Info(
		ctx,
		logger,
		"Payment service started!",
	)

	paymentRepo := repository.NewPaymentRepository(pool, logger)
	outboxRepo := outbox.NewOutboxRepository(pool, logger)

	kafkaProducer, err := pkgKafka.NewProducer(cfg.Kafka.Brokers, logger)
	if err != nil {
		log.Fatalf("error creating kafka producer: %v", err)
	}

	outboxProcessor := worker.NewOutboxProcessor(outboxRepo, kafkaProducer, logger, cfg.Outbox)

	lockStore := lock.NewRedisStore(redisClient)
	lockService := service.NewLockService(lockStore, cfg.Lock.RetryInterval, logger)

	gatewayClient := gateway.NewHTTPClient(cfg.Gateway.BaseURL, cfg.Gateway.Timeout, logger)
	donationClient := donation.NewHTTPClient(cfg.Donation.BaseURL, cfg.Donation.Timeout, logger)

	paymentService := service.NewPaymentService(
		pool,
		paymentRepo,
		outboxRepo,
		lockService,
		gatewayClient,
		donationClient,
		outboxProcessor,
		logger,
		cfg,
	)

	janitor := service.NewJanitor(pool, paymentRepo, outboxRepo, outboxProcessor, logger, cfg.Janitor, cfg.Kafka.PaymentTopic)

	consumer := transportKafka.NewConsumer(paymentService, pool, logger, cfg.Kafka)

	go outboxProcessor.Start(ctx)
	go janitor.Start(ctx)
	go consumer.Start(ctx, cfg.Kafka.Brokers)

	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	go func() {
		http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{
			Registry: reg,
		}))
		log.Println("Metrics server is listening on " + cfg.Metrics.Port + " 📈")

		if err := http.ListenAndServe(cfg.Metrics.Port, nil); err != nil {
			log.Printf("Metrics serving failed: %v", err)
		}
	}()

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	app.Use(otelfiber.Middleware())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.SendString("Payment Service is alive!")
	})

	go func() {
		log.Println("HTTP Server listening on port: " + cfg.HTTP.Port)
		if err := app.Listen(cfg.HTTP.Port); err != nil {
			log.Fatalf("Error listening on HTTP: %v", err)
		}
	}()

	<-ctx.Done()

	time.Sleep(1 * time.Second)

	log.Println("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("Error shutting down HTTP: %v\n", err)
	} else {
		log.Printf("HTTP Server stopped")
	}

	if err := kafkaProducer.Close(); err != nil {
		log.Printf("Kafka close error: %v", err)
	} else {
		log.Printf("Kafka producer closed")
	}

	if err := redisClient.Close(); err != nil {
		log.Printf("Redis close error: %v", err)
	} else {
		log.Println("✅ Redis client closed")
	}

	pool.Close()
	log.Println("✅ Postgres pool closed")

	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Printf("❌ Error closing telemetry: %v\n", err)
	} else {
		log.Println("✅ Telemetry closed")
	}
}
