package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/slawa19/geoledger/internal/idtype"
)

var verifyEquivalentCode string
var verifyPrecision int

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Run the invariant checker and print its status",
	Long: `Verify runs the zero-sum, trust-limit and debt-symmetry
checks for one equivalent (--equivalent), or across every equivalent when
--equivalent is omitted, and prints the resulting status as JSON.`,
	Run: runVerify,
}

func init() {
	verifyCmd.Flags().StringVar(&verifyEquivalentCode, "equivalent", "", "equivalent code to verify (all equivalents when omitted)")
	verifyCmd.Flags().IntVar(&verifyPrecision, "precision", 2, "decimal precision to evaluate amounts at")
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	dep, err := wireDeployment(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to wire deployment: %v\n", err)
		os.Exit(1)
	}
	defer dep.close()

	var eqID *idtype.ID
	if verifyEquivalentCode != "" {
		id, err := resolveEquivalent(ctx, dep.store, verifyEquivalentCode)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to resolve equivalent %q: %v\n", verifyEquivalentCode, err)
			os.Exit(1)
		}
		eqID = &id
	}

	status, err := dep.facade.Verify(ctx, eqID, verifyPrecision)
	if err != nil {
		fmt.Fprintf(os.Stderr, "verify failed: %v\n", err)
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(status, "", "  ")
	fmt.Println(string(out))
	if !status.Passed {
		os.Exit(1)
	}
}
