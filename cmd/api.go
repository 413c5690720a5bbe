package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/semyenov/graphql-microservices-sub001/config"
	"github.com/semyenov/graphql-microservices-sub001/internal/api"
	"github.com/semyenov/graphql-microservices-sub001/internal/eventstore"
	"github.com/semyenov/graphql-microservices-sub001/internal/metrics"
	"github.com/semyenov/graphql-microservices-sub001/internal/outbox"
	"github.com/semyenov/graphql-microservices-sub001/internal/projection"
	"github.com/semyenov/graphql-microservices-sub001/internal/tracing"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the ops API server",
	Long:  `Start the HTTP server exposing health, metrics and projection progress`,
	RunE:  runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)
}

func runAPI(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return err
	}

	// Configure logging
	if cfg.Environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Initialize database connection
	db, err := initDatabase(cfg)
	if err != nil {
		return err
	}

	// Initialize tracer, falling back to the no-op tracer so the
	// middleware never sees a nil interface
	tracer, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		tracer = tracing.NewNoopTracer()
	}

	// Initialize metrics
	metricsCollector := metrics.NewMetrics()

	// Initialize stores read by the ops endpoints
	eventStore := eventstore.NewGormEventStore(db)
	outboxStore := outbox.NewGormOutboxStore(db)
	checkpoints := projection.NewGormCheckpointStore(db)

	// Initialize and start the server
	server := api.NewServer(cfg, db, eventStore, outboxStore, checkpoints, metricsCollector, tracer)

	// Start the server in a goroutine
	go func() {
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("Server error")
		}
	}()

	// Wait for termination signal
	<-ctx.Done()

	// Shutdown the server
	if err := server.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	log.Info().Msg("Shutting down API server")
	return nil
}
