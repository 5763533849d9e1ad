// Package cli is the geoledgerd command tree: an admin/ops CLI over the
// ledger core's internal/api facade, not an HTTP/WS server — those are
// explicitly out of this core's scope. The Use/Short/Long/persistent-flag
// shape and the one-file-per-subcommand layout with an init() that calls
// rootCmd.AddCommand are grounded directly on the reference CLI's
// internal/cli/root.go and internal/cli/version.go.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/slawa19/geoledger/internal/config"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "geoledgerd",
	Short: "geoledgerd - mutual-credit ledger core admin CLI",
	Long: `geoledgerd operates the mutual-credit ledger core: it runs the
background recovery loop and exposes the core's integrity and repair
operations (verify, checksum, audit-log, repair) from the command line.
It does not speak HTTP or WebSocket; a transport facade is a separate
process that talks to the same store.`,
	Version: "0.1.0-dev",
}

// Execute adds all child commands to the root command and runs it. This
// is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "conf", "", "configuration file path")
}

func initConfig() {
	if cfgFile != "" {
		os.Setenv("GEOLEDGER_CONFIG_FILE", cfgFile)
	}
	loaded, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	cfg = loaded
}
