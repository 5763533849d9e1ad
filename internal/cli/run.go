package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/slawa19/geoledger/internal/logging"
	"github.com/slawa19/geoledger/internal/recovery"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the background recovery loop",
	Long: `Run starts the stale-transaction and expired-prepare-lock recovery
sweep and blocks until interrupted. It opens no network listener: this
process only touches the configured store.`,
	Run: runRecoveryLoop,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRecoveryLoop(cmd *cobra.Command, args []string) {
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dep, err := wireDeployment(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to wire deployment: %v\n", err)
		os.Exit(1)
	}
	defer dep.close()

	loop := recovery.New(dep.store, dep.payments, cfg.RecoveryInterval, logger)
	logger.Info("recovery loop starting", "interval", cfg.RecoveryInterval)
	loop.Start(ctx)
	logger.Info("recovery loop stopped")
}
