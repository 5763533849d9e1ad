package cli

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/slawa19/geoledger/internal/store/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create (or update) the Postgres schema",
	Long: `Migrate issues every store's idempotent CREATE TABLE IF NOT EXISTS
DDL. There is no versioned migration history to step through, so this is
always safe to re-run. A no-op when GEOLEDGER_DATABASE_URL is unset.`,
	Run: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) {
	if cfg.DatabaseURL == "" {
		fmt.Println("GEOLEDGER_DATABASE_URL not set, nothing to migrate")
		return
	}

	ctx := context.Background()
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := postgres.New(db).Migrate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "migration failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("schema migration complete")
}
