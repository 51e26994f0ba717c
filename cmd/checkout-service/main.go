package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/fjod/go_checkout/internal/cart"
	checkouthttp "github.com/fjod/go_checkout/internal/http"
	"github.com/fjod/go_checkout/internal/orders"
	"github.com/fjod/go_checkout/internal/payment"
	"github.com/fjod/go_checkout/internal/publisher"
	"github.com/fjod/go_checkout/internal/saga"
	"github.com/fjod/go_checkout/internal/stock"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "checkout").Logger()
	logger.Info().Msg("checkout-service starting...")

	// Configuration
	httpPort := getEnv("HTTP_PORT", "8080")
	gatewayURL := getEnv("PAYMENT_GATEWAY_URL", "")
	gatewayTimeout := 10 * time.Second
	requestTimeout := 30 * time.Second
	kafkaBrokers := strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ",")
	redisAddr := getEnv("REDIS_ADDR", "localhost:6379")

	// Database setup
	dbHost := getEnv("DB_HOST", "localhost")
	dbPort := getEnv("DB_PORT", "5432")
	dbUser := getEnv("DB_USER", "postgres")
	dbPass := getEnv("DB_PASSWORD", "postgres")
	dbName := getEnv("DB_NAME", "ecommerce")
	stockMigrations := getEnv("STOCK_MIGRATIONS_PATH", "./internal/stock/migrations")
	ordersMigrations := getEnv("ORDERS_MIGRATIONS_PATH", "./internal/orders/migrations")

	port, err := strconv.Atoi(dbPort)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid DB_PORT")
	}

	psqlconn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		dbHost, port, dbUser, dbPass, dbName)
	db, err := sql.Open("postgres", psqlconn)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatal().Err(err).Msg("failed to ping database")
	}
	db.SetMaxOpenConns(100)
	db.SetMaxIdleConns(10)
	logger.Info().Msg("connected to postgres")

	ledger := stock.NewPostgresLedger(db)
	if err := ledger.RunMigrations(stockMigrations); err != nil {
		logger.Fatal().Err(err).Msg("failed to run stock migrations")
	}

	orderStore := orders.NewPostgresStore(db)
	if err := orderStore.RunMigrations(ordersMigrations); err != nil {
		logger.Fatal().Err(err).Msg("failed to run orders migrations")
	}
	logger.Info().Msg("database migrations completed")

	// Cart store
	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer redisClient.Close()
	cartStore := cart.NewRedisStore(redisClient)

	// Payment gateway: real processor when configured, stub otherwise.
	var gateway payment.Gateway
	if gatewayURL != "" {
		gateway = payment.NewHTTPGateway(gatewayURL, gatewayTimeout, logger)
		logger.Info().Str("url", gatewayURL).Msg("using HTTP payment gateway")
	} else {
		gateway = payment.NewStubGateway(time.Now().UnixNano())
		logger.Warn().Msg("PAYMENT_GATEWAY_URL not set, using stub gateway")
	}

	coordinator := saga.NewCoordinator(ledger, gateway, orderStore, logger)

	// Outbox poller
	pollerCtx, stopPoller := context.WithCancel(context.Background())
	defer stopPoller()
	poller := publisher.NewOutboxPoller(orderStore, logger, kafkaBrokers...)
	go poller.Run(pollerCtx)

	// HTTP server
	handler := checkouthttp.NewCheckoutHandler(coordinator, cartStore, orderStore, requestTimeout, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Post("/api/v1/checkout", handler.Checkout)

	server := &http.Server{
		Addr:    ":" + httpPort,
		Handler: r,
	}

	go func() {
		logger.Info().Str("port", httpPort).Msg("checkout service listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("failed to serve")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down checkout service...")
	stopPoller()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("error shutting down http server")
	}

	logger.Info().Msg("checkout service stopped")
}
