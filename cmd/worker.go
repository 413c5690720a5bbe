package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/semyenov/graphql-microservices-sub001/config"
	"github.com/semyenov/graphql-microservices-sub001/internal/eventstore"
	"github.com/semyenov/graphql-microservices-sub001/internal/messaging"
	"github.com/semyenov/graphql-microservices-sub001/internal/metrics"
	"github.com/semyenov/graphql-microservices-sub001/internal/outbox"
	"github.com/semyenov/graphql-microservices-sub001/internal/projection"
	"github.com/semyenov/graphql-microservices-sub001/internal/search"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background worker",
	Long:  `Start the outbox processor, the projection runners and the maintenance cron jobs`,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
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

	// Create an error group to manage goroutines
	g, ctx := errgroup.WithContext(ctx)

	// Initialize database connection
	db, err := initDatabase(cfg)
	if err != nil {
		return err
	}

	// Initialize metrics
	metricsCollector := metrics.NewMetrics()

	// Initialize the Azure Service Bus publisher
	publisher, err := messaging.NewServiceBusPublisher(cfg.Azure)
	if err != nil {
		return err
	}
	defer publisher.Close()

	// Initialize the outbox processor
	outboxStore := outbox.NewGormOutboxStore(db)
	processor := outbox.NewProcessor(outboxStore, publisher, outbox.ProcessorConfig{
		PollInterval:   cfg.Outbox.PollInterval,
		BatchSize:      cfg.Outbox.BatchSize,
		MaxAttempts:    cfg.Outbox.MaxAttempts,
		BaseDelay:      cfg.Outbox.BaseDelay,
		MaxDelay:       cfg.Outbox.MaxDelay,
		PublishTimeout: cfg.Outbox.PublishTimeout,
	}, metricsCollector)

	g.Go(func() error {
		log.Info().Str("queue", cfg.Azure.QueueName).Msg("Starting outbox processor")
		processor.Start(ctx)
		<-ctx.Done()
		processor.Stop()
		return nil
	})

	// Initialize Elasticsearch client for the product search sink
	elasticClient, err := search.NewElasticClient(cfg.Elastic)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Elasticsearch client, continuing without search indexing")
	}

	// Initialize the projection runners
	eventStore := eventstore.NewGormEventStore(db)
	checkpoints := projection.NewGormCheckpointStore(db)
	runnerCfg := projection.RunnerConfig{
		PollInterval:   cfg.Projection.PollInterval,
		BatchSize:      cfg.Projection.BatchSize,
		HandlerTimeout: cfg.Projection.HandlerTimeout,
		RetryBackoff:   cfg.Projection.RetryBackoff,
		MaxBackoff:     cfg.Projection.MaxBackoff,
	}

	var indexer projection.SearchIndexer
	if elasticClient != nil {
		indexer = elasticClient
	}

	projections := []projection.Projection{
		projection.NewUserProjection(db),
		projection.NewProductProjection(db, indexer),
		projection.NewOrderProjection(db),
	}

	for _, proj := range projections {
		proj := proj
		runner := projection.NewRunner(proj, eventStore, checkpoints, runnerCfg, metricsCollector)
		g.Go(func() error {
			log.Info().Str("projection", proj.Name()).Msg("Starting projection runner")
			if err := runner.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			runner.Stop()
			return nil
		})
	}

	// Start the outbox maintenance cron jobs
	g.Go(func() error {
		return runMaintenanceJobs(ctx, cfg, outboxStore)
	})

	// Wait for any goroutine to exit
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker error")
		return err
	}

	log.Info().Msg("Worker shutting down gracefully")
	return nil
}

// runMaintenanceJobs schedules the stale-claim reclaim and the published
// entry cleanup, then blocks until the context is cancelled
func runMaintenanceJobs(ctx context.Context, cfg config.Config, outboxStore *outbox.GormOutboxStore) error {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return err
	}

	// Reclaim entries stuck in processing after a crashed worker
	_, err = scheduler.NewJob(
		gocron.DurationJob(time.Minute),
		gocron.NewTask(func() {
			reclaimed, err := outboxStore.ReclaimStale(ctx, cfg.Outbox.StaleAfter)
			if err != nil {
				log.Error().Err(err).Msg("Failed to reclaim stale outbox entries")
				return
			}
			if reclaimed > 0 {
				log.Warn().Int64("count", reclaimed).Msg("Reclaimed stale outbox entries")
			}
		}),
	)
	if err != nil {
		return err
	}

	// Remove published entries past the retention window
	_, err = scheduler.NewJob(
		gocron.DurationJob(time.Hour),
		gocron.NewTask(func() {
			removed, err := outboxStore.Cleanup(ctx, cfg.Outbox.RetainFor)
			if err != nil {
				log.Error().Err(err).Msg("Failed to clean up published outbox entries")
				return
			}
			if removed > 0 {
				log.Info().Int64("count", removed).Msg("Cleaned up published outbox entries")
			}
		}),
	)
	if err != nil {
		return err
	}

	scheduler.Start()
	log.Info().Msg("Outbox maintenance jobs scheduled")

	<-ctx.Done()
	return scheduler.Shutdown()
}
