package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/slawa19/geoledger/internal/api"
)

var (
	auditLogEquivalentCode string
	auditLogLimit          int
)

var auditLogCmd = &cobra.Command{
	Use:   "audit-log",
	Short: "Print the most recent integrity audit log entries",
	Long: `AuditLog lists the most recent IntegrityAuditLog rows recorded for
the equivalent named by --equivalent, newest first.`,
	Run: runAuditLog,
}

func init() {
	auditLogCmd.Flags().StringVar(&auditLogEquivalentCode, "equivalent", "", "equivalent code (required)")
	auditLogCmd.Flags().IntVar(&auditLogLimit, "limit", 100, "maximum number of entries to print")
	rootCmd.AddCommand(auditLogCmd)
}

func runAuditLog(cmd *cobra.Command, args []string) {
	if auditLogEquivalentCode == "" {
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

	eqID, err := resolveEquivalent(ctx, dep.store, auditLogEquivalentCode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to resolve equivalent %q: %v\n", auditLogEquivalentCode, err)
		os.Exit(1)
	}

	entries, err := dep.facade.AuditLog(ctx, api.AuditLogRequest{Equivalent: eqID, Limit: auditLogLimit})
	if err != nil {
		fmt.Fprintf(os.Stderr, "audit-log failed: %v\n", err)
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(entries, "", "  ")
	fmt.Println(string(out))
}
