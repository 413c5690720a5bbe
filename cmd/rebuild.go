package cmd

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/semyenov/graphql-microservices-sub001/config"
	"github.com/semyenov/graphql-microservices-sub001/internal/projection"
)

var rebuildCmd = &cobra.Command{
	Use:   "rebuild [projection]",
	Short: "Reset a projection checkpoint for a full replay",
	Long: `Reset the named projection's checkpoint to 0. The next worker run
replays the whole event log into the projection's read model; handlers
are idempotent so an already-populated read model converges.`,
	Args: cobra.ExactArgs(1),
	RunE: runRebuild,
}

func init() {
	rootCmd.AddCommand(rebuildCmd)
}

func runRebuild(cmd *cobra.Command, args []string) error {
	projectionName := args[0]

	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return err
	}

	// Initialize database connection
	db, err := initDatabase(cfg)
	if err != nil {
		return err
	}

	checkpoints := projection.NewGormCheckpointStore(db)
	if err := checkpoints.Reset(context.Background(), projectionName); err != nil {
		return err
	}

	log.Info().Str("projection", projectionName).Msg("Projection checkpoint reset, restart the worker to replay")
	return nil
}
