package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-orders/internal/api"
	"ms-orders/internal/auth"
	"ms-orders/internal/catalog"
	"ms-orders/internal/checkout"
	"ms-orders/internal/config"
	"ms-orders/internal/database/migrations"
	"ms-orders/internal/events"
	"ms-orders/internal/fulfillment"
	"ms-orders/internal/fulfillment/qr"
	"ms-orders/internal/inventory"
	"ms-orders/internal/invoice"
	"ms-orders/internal/ledger"
	"ms-orders/internal/logger"
	"ms-orders/internal/payment"
	"ms-orders/internal/refund"
	"ms-orders/internal/ticketing"
	"ms-orders/internal/vat"
	"ms-orders/internal/webhook"
)

func connectDatabases(ctx context.Context, cfg *config.Config, log *logger.Logger) (*bun.DB, *redis.Client) {
	var sqldb *sql.DB
	var err error
	maxRetries := 5

	for i := 0; i < maxRetries; i++ {
		log.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, maxRetries))
		sqldb, err = sql.Open("postgres", cfg.Database.DSN)
		if err == nil {
			err = sqldb.Ping()
			if err == nil {
				break
			}
		}
		log.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		if i < maxRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL after %d attempts: %v", maxRetries, err))
	}

	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.Database.MaxLifetime)
	log.Info("DATABASE", "PostgreSQL connection successful")

	bunDB := bun.NewDB(sqldb, pgdialect.New())

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Redis connection error: %v", err))
	}

	// Hold expiry depends on keyspace notifications for expired keys.
	if _, err := redisClient.ConfigSet(ctx, "notify-keyspace-events", "Ex").Result(); err != nil {
		log.Warn("REDIS", fmt.Sprintf("Failed to enable keyspace notifications: %v", err))
	} else {
		log.Info("REDIS", "Keyspace notifications enabled for expired events")
	}

	log.Info("DATABASE", fmt.Sprintf("Redis connection successful to %s", cfg.Redis.Addr))
	return bunDB, redisClient
}

func main() {
	log := logger.NewLogger()
	defer log.Close()

	log.Info("APP", "Starting order service initialization")

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		log.Info("CONFIG", "Loaded environment variables from .env file")
	}

	cfg := config.Load()
	ctx := context.Background()

	bunDB, redisClient := connectDatabases(ctx, cfg, log)
	defer bunDB.Close()
	defer redisClient.Close()

	runner := migrations.NewRunner(bunDB, migrations.DefaultOptions())
	if err := runner.RunMigrations(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Migrations failed: %v", err))
	}
	log.LogDatabase("MIGRATE", "schema_migrations", "all pending migrations applied")

	producer := events.NewProducer(cfg.Kafka, log)
	defer producer.Close()
	if cfg.Kafka.Enabled {
		topics := []string{
			cfg.Kafka.Topics.OrderPaid,
			cfg.Kafka.Topics.OrderFailed,
			cfg.Kafka.Topics.OrderRefunded,
			cfg.Kafka.Topics.InvoiceCreated,
		}
		if err := events.EnsureTopicsExist(cfg.Kafka.Brokers, topics); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		} else {
			log.Info("KAFKA", "Required topics ensured successfully")
		}
	}

	orderLedger := ledger.New(bunDB)
	catalogStore := catalog.New(bunDB)
	inventoryStore := inventory.New(bunDB)
	ticketingStore := ticketing.New(bunDB)
	holdStore := inventory.NewHoldStore(redisClient, time.Duration(cfg.Redis.HoldTTLMinutes)*time.Minute)
	vatTable := vat.NewTable(cfg.VAT.DefaultRate)

	gateway, err := payment.NewStripeGateway(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret, log)
	if err != nil {
		log.Fatal("STRIPE", fmt.Sprintf("Failed to initialize payment gateway: %v", err))
	}

	objectStore, err := invoice.NewOSSStore(cfg.Storage.Endpoint, cfg.Storage.AccessKeyID, cfg.Storage.AccessKeySecret, cfg.Storage.Bucket)
	if err != nil {
		log.Fatal("STORAGE", fmt.Sprintf("Failed to initialize object storage: %v", err))
	}

	invoiceStore := invoice.NewStore(bunDB)
	renderer := invoice.NewRenderer(cfg.Company)
	invoiceWorker := invoice.NewWorker(invoiceStore, orderLedger, renderer, objectStore, log)
	invoiceWorker.Start(ctx)
	invoiceService := invoice.NewService(invoiceStore, catalogStore, vatTable, invoiceWorker, producer, log)

	if cfg.QR.Secret == "" {
		log.Fatal("CONFIG", "QR_SECRET not set")
	}
	dispatcher := fulfillment.NewDispatcher(catalogStore, ticketingStore, qr.NewGenerator(cfg.QR.Secret), log)

	refundCoordinator := refund.NewCoordinator(orderLedger, catalogStore, ticketingStore, inventoryStore, gateway, producer, log)

	checkoutService := checkout.NewService(
		orderLedger, catalogStore, inventoryStore, holdStore, gateway, vatTable, log,
		cfg.Stripe.Currency, cfg.Stripe.SuccessURL, cfg.Stripe.CancelURL,
	)

	processor := &webhook.Processor{
		Verifier:    gateway,
		Ledger:      orderLedger,
		Inventory:   inventoryStore,
		Holds:       holdStore,
		Fulfillment: dispatcher,
		Invoices:    invoiceService,
		Refunds:     refundCoordinator,
		Publisher:   producer,
		Logger:      log,
	}

	handler := api.NewHandler(checkoutService, processor, orderLedger, invoiceService, refundCoordinator, log)

	if cfg.Auth.OIDCIssuer == "" {
		log.Fatal("CONFIG", "OIDC_ISSUER not set")
	}

	log.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()
	r.Use(api.RequestLogger(log))
	handler.Routes(r, auth.Middleware(cfg.Auth.OIDCIssuer))

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	log.Info("REDIS", "Starting reservation hold expiry subscription")
	inventory.SubscribeHoldExpiry(redisClient, inventoryStore, orderLedger, log)

	go func() {
		log.Info("HTTP", fmt.Sprintf("Order service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	log.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-stop

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server shutdown failed: %v", err))
	} else {
		log.Info("HTTP", "Order service shutdown complete")
	}
}
