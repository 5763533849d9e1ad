package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var checksumEquivalentCode string

var checksumCmd = &cobra.Command{
	Use:   "checksum",
	Short: "Print the deterministic integrity checksum for an equivalent",
	Long: `Checksum computes the content checksum that integrity checkpoints
are compared against, for the equivalent named by --equivalent.`,
	Run: runChecksum,
}

func init() {
	checksumCmd.Flags().StringVar(&checksumEquivalentCode, "equivalent", "", "equivalent code (required)")
	rootCmd.AddCommand(checksumCmd)
}

func runChecksum(cmd *cobra.Command, args []string) {
	if checksumEquivalentCode == "" {
		fmt.Fprintln(os.Stderr, "--equivalent is required")
		os.Exit(1)
	}

	ctx := context.Background()
	dep, err := wireDeployment(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to wire deployment: %v\n", err)
		os.Exit(1)
	}
	defer dep.close()

	eqID, err := resolveEquivalent(ctx, dep.store, checksumEquivalentCode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to resolve equivalent %q: %v\n", checksumEquivalentCode, err)
		os.Exit(1)
	}

	sum, err := dep.facade.Checksum(ctx, eqID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "checksum failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(sum)
}
