package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/joao-fontenele/bargainflow/internal/auth"
	"github.com/joao-fontenele/bargainflow/internal/cart"
	"github.com/joao-fontenele/bargainflow/internal/config"
	"github.com/joao-fontenele/bargainflow/internal/telemetry"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load("8082")
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if cfg.PostgresURL == "" {
		logger.Error("POSTGRES_URL environment variable is required")
		os.Exit(1)
	}

	tel, err := telemetry.Setup(ctx, telemetry.Options{ServiceName: "cart", ServiceVersion: "0.1.0", OTLPEndpoint: cfg.OTLPEndpoint})
	if err != nil {
		logger.Error("failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer func() { _ = tel.Shutdown(ctx) }()

	db, err := telemetry.OpenDB(cfg.PostgresURL, "cart")
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	repo := cart.NewCartRepository(db)
	handler := cart.NewHandler(repo, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /carts/{customerId}/items", telemetry.WithHTTPRoute(handler.HandleAddItem))
	mux.HandleFunc("GET /carts/{customerId}", telemetry.WithHTTPRoute(handler.HandleGet))
	mux.HandleFunc("DELETE /carts/{customerId}/items/{itemId}", telemetry.WithHTTPRoute(handler.HandleRemoveItem))

	authenticator := auth.NewAuthenticator(cfg.JWTSecret, cfg.AuthDevHeaders, logger)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(authenticator.Middleware(mux), "cart"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting cart service", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
