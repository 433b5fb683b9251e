package main

import (
	"context"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/joao-fontenele/bargainflow/internal/auth"
	"github.com/joao-fontenele/bargainflow/internal/cart"
	"github.com/joao-fontenele/bargainflow/internal/catalog"
	"github.com/joao-fontenele/bargainflow/internal/config"
	"github.com/joao-fontenele/bargainflow/internal/messaging"
	"github.com/joao-fontenele/bargainflow/internal/negotiation"
	"github.com/joao-fontenele/bargainflow/internal/realtime"
	"github.com/joao-fontenele/bargainflow/internal/telemetry"
)

const (
	serviceName    = "negotiations"
	serviceVersion = "0.1.0"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load("8083")
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if cfg.PostgresURL == "" {
		logger.Error("POSTGRES_URL environment variable is required")
		os.Exit(1)
	}
	if cfg.CatalogServiceURL == "" {
		logger.Error("CATALOG_SERVICE_URL environment variable is required")
		os.Exit(1)
	}
	if cfg.CartServiceURL == "" {
		logger.Error("CART_SERVICE_URL environment variable is required")
		os.Exit(1)
	}
	if cfg.JWTSecret == "" {
		logger.Error("JWT_SECRET environment variable is required")
		os.Exit(1)
	}

	tel, err := telemetry.Setup(ctx, telemetry.Options{
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Metrics:        true,
	})
	if err != nil {
		logger.Error("failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer func() { _ = tel.Shutdown(ctx) }()

	metrics, err := telemetry.NewNegotiationMetrics(otel.Meter(serviceName))
	if err != nil {
		logger.Error("failed to create negotiation metrics", "error", err)
		os.Exit(1)
	}

	db, err := telemetry.OpenDB(cfg.PostgresURL, "negotiations")
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	httpClient := &http.Client{
		Timeout:   10 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	hub := realtime.NewHub(logger)
	publishers := negotiation.Publishers{hub}
	if len(cfg.KafkaBrokers) > 0 {
		producer := messaging.NewProducer(cfg.KafkaBrokers, cfg.NegotiationTopic)
		defer func() { _ = producer.Close() }()
		publishers = append(publishers, producer)
	}

	engine := negotiation.NewEngine(
		negotiation.NewRepository(db),
		catalog.NewClient(cfg.CatalogServiceURL, httpClient),
		cart.NewClient(cfg.CartServiceURL, httpClient),
		logger,
		negotiation.WithPublisher(publishers),
		negotiation.WithPolicy(cfg.Policy()),
		negotiation.WithPhrasebook(negotiation.NewPhrasebook(rand.NewSource(time.Now().UnixNano()), cfg.NegotiationCurrency)),
		negotiation.WithMetrics(metrics),
	)

	mux := http.NewServeMux()
	negotiation.NewHandler(engine, logger).Register(mux)
	ws := realtime.NewHandler(hub, engine, cfg.AllowedOrigins, logger)
	mux.HandleFunc("GET /ws/negotiations/{id}", telemetry.WithHTTPRoute(ws.HandleSubscribe))
	mux.Handle("GET /metrics", tel.MetricsHandler)

	authenticator := auth.NewAuthenticator(cfg.JWTSecret, cfg.AuthDevHeaders, logger)

	server := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: otelhttp.NewHandler(authenticator.Middleware(mux), serviceName,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				if r.Pattern != "" {
					return r.Pattern
				}
				return r.Method + " " + r.URL.Path
			}),
		),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	go negotiation.NewSweeper(engine, cfg.NegotiationSweepInterval, logger).Run(sweepCtx)

	go func() {
		logger.Info("starting negotiations service", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	stopSweeper()

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
