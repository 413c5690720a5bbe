package cmd

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/semyenov/graphql-microservices-sub001/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long:  `Create or update the event store, outbox, checkpoint and read model tables`,
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return err
	}

	// initDatabase runs migrations as part of connecting
	if _, err := initDatabase(cfg); err != nil {
		return err
	}

	log.Info().Msg("Migrations completed")
	return nil
}
