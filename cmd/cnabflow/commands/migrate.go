package commands

import (
	"context"
	"fmt"

	"github.com/cnabflow/cnabflow/internal/logger"
	"github.com/cnabflow/cnabflow/pkg/config"
	"github.com/cnabflow/cnabflow/pkg/store"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long: `Run database migrations for the transaction database.

This command applies pending schema migrations to the configured database
(SQLite or PostgreSQL). The server runs the same auto-migration on startup;
use this command to migrate ahead of a rolling deploy or to verify database
credentials without starting the full pipeline.

Examples:
  # Run migrations with default config
  cnabflow migrate

  # Run migrations with custom config
  cnabflow migrate --config /etc/cnabflow/config.yaml`,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	// Initialize the structured logger
	if err := InitLogger(cfg); err != nil {
		return err
	}

	logger.Info("Running database migrations", "type", cfg.Database.Type)

	// Opening the store triggers auto-migration
	ctx := context.Background()
	st, err := store.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	defer func() { _ = st.Close() }()

	// Verify the migration worked by querying the uploads table
	if _, _, err := st.ListUploads(ctx, 1, 1, ""); err != nil {
		return fmt.Errorf("migration verification failed: %w", err)
	}

	fmt.Printf("Migrations completed successfully (database type: %s)\n", cfg.Database.Type)
	return nil
}
