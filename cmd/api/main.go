package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/schoolsync/internal/api"
	"example.com/schoolsync/internal/auth"
	"example.com/schoolsync/internal/config"
	"example.com/schoolsync/internal/domain"
	"example.com/schoolsync/internal/outbox"
	persistence "example.com/schoolsync/internal/persistence/postgres"
	"example.com/schoolsync/internal/storage"
	httptransport "example.com/schoolsync/internal/transport/http"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("failed to load env file: %v", err)
	}
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	objects, err := storage.New(cfg)
	if err != nil {
		log.Fatalf("failed to configure object store: %v", err)
	}

	directory := persistence.NewDirectory(pool)
	exercises := persistence.NewExerciseStore(pool)

	syncService := domain.NewSyncService(directory, objects,
		domain.WithSignedURLTTL(cfg.SignedURLTTL),
		domain.WithSignConcurrency(cfg.SignConcurrency),
	)
	ingestService := domain.NewIngestService(directory, exercises)
	reportService := domain.NewReportService(directory, exercises)
	deviceService := domain.NewDeviceService(directory)

	var dispatcher *outbox.Dispatcher
	if cfg.OutboxEnabled {
		producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
		defer producer.Close()

		registry := outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL)
		dispatcher = outbox.NewDispatcher(pool, producer, registry, cfg.OutboxPollInterval, cfg.OutboxBatchSize,
			outbox.WithRetryBaseDelay(cfg.DLQBaseDelay),
		)
		go dispatcher.Start(ctx)
	}

	handler := api.NewHandler(syncService, ingestService, reportService, deviceService)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}, auth.DeviceSkipper)
	accessLog := log.New(os.Stdout, "[http] ", log.LstdFlags)

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:           cfg.HTTPAddress,
		ReadTimeout:       cfg.HTTPReadTimeout,
		ReadHeaderTimeout: cfg.HTTPHeaderTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		MaxHeaderBytes:    cfg.HTTPMaxHeaderBytes,
	}, httptransport.Chain(mux,
		httptransport.RequestID,
		httptransport.Logger(accessLog),
		httptransport.CORS(cfg.CORSOrigin),
		authMiddleware.Wrap,
	))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("schoolsync api listening on %s (objects=%s, outbox=%t)", cfg.HTTPAddress, cfg.ObjectStoreBackend, cfg.OutboxEnabled)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	if dispatcher != nil {
		dispatcher.Wait()
	}
}
