// Package main provides the pipeline run control plane API service.
//
// It exposes the HTTP API defined in internal/api over a PostgreSQL-backed
// runs.Store, optionally publishing lifecycle events to Kafka and exporting
// traces via OpenTelemetry.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"

	"github.com/nextlayerdevops/runctl/internal/api"
	"github.com/nextlayerdevops/runctl/internal/api/middleware"
	"github.com/nextlayerdevops/runctl/internal/events"
	"github.com/nextlayerdevops/runctl/internal/storage"
	"github.com/nextlayerdevops/runctl/internal/telemetry"
)

const (
	version = "1.0.0-dev"
	name    = "runctl-server"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	serverConfig := api.LoadServerConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: serverConfig.LogLevel,
	}))

	logger.Info("starting run control plane service",
		slog.String("service", name),
		slog.String("version", version),
	)

	ctx := context.Background()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.LoadConfig(), logger)
	if err != nil {
		logger.Error("failed to initialize telemetry", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTelemetry(ctx); err != nil {
			logger.Error("failed to shut down telemetry", slog.String("error", err.Error()))
		}
	}()

	dbConfig := storage.LoadConfig()
	if err := dbConfig.Validate(); err != nil {
		logger.Error("invalid database configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	conn, err := storage.NewConnection(dbConfig)
	if err != nil {
		logger.Error("failed to connect to database",
			slog.String("database_url", dbConfig.MaskDatabaseURL()),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	eventsConfig := events.LoadConfig()
	store := newRunStore(conn, eventsConfig, logger)

	serverConfig.RateLimiter = middleware.NewInMemoryRateLimiter(middleware.LoadConfig())

	logger.Info("loaded server configuration",
		slog.String("host", serverConfig.Host),
		slog.Int("port", serverConfig.Port),
		slog.Bool("kafka_enabled", eventsConfig.Enabled),
		slog.String("log_level", serverConfig.LogLevel.String()),
	)

	server := api.NewServer(&serverConfig, store, serverConfig.RateLimiter)

	if err := server.Start(); err != nil {
		logger.Error("server failed to start", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("run control plane service stopped")
}

func newRunStore(conn *storage.Connection, eventsConfig *events.Config, logger *slog.Logger) *storage.RunStore {
	if eventsConfig.Enabled {
		publisher := events.NewKafkaPublisher(eventsConfig.Brokers, eventsConfig.Topic, logger)

		return storage.NewRunStore(conn, publisher, logger)
	}

	return storage.NewRunStore(conn, events.NoopPublisher{}, logger)
}
