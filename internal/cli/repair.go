package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/slawa19/geoledger/internal/idtype"
)

var repairEquivalentCode string

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Run an admin repair operation against one equivalent",
}

var repairNetMutualDebtsCmd = &cobra.Command{
	Use:   "net-mutual-debts",
	Short: "Net every mutual debt pair down to a single directed edge",
	Run: runRepair(func(ctx context.Context, dep *deployment, eqID idtype.ID) (any, error) {
		return dep.facade.NetMutualDebts(ctx, eqID)
	}),
}

var repairCapDebtsCmd = &cobra.Command{
	Use:   "cap-debts",
	Short: "Cap every debt exceeding its controlling trust limit",
	Run: runRepair(func(ctx context.Context, dep *deployment, eqID idtype.ID) (any, error) {
		return dep.facade.CapDebtsToTrustLimits(ctx, eqID)
	}),
}

func init() {
	repairCmd.PersistentFlags().StringVar(&repairEquivalentCode, "equivalent", "", "equivalent code (required)")
	repairCmd.AddCommand(repairNetMutualDebtsCmd)
	repairCmd.AddCommand(repairCapDebtsCmd)
	rootCmd.AddCommand(repairCmd)
}

// runRepair wraps a one-shot repair call in the wire/resolve/print
// boilerplate every repair subcommand shares.
func runRepair(op func(ctx context.Context, dep *deployment, eqID idtype.ID) (any, error)) func(cmd *cobra.Command, args []string) {
	return func(cmd *cobra.Command, args []string) {
		if repairEquivalentCode == "" {
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

		eqID, err := resolveEquivalent(ctx, dep.store, repairEquivalentCode)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to resolve equivalent %q: %v\n", repairEquivalentCode, err)
			os.Exit(1)
		}

		result, err := op(ctx, dep, eqID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "repair failed: %v\n", err)
			os.Exit(1)
		}

		out, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(out))
	}
}
