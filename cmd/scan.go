package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sentinelsec/sentinel/internal/probe"
	"github.com/sentinelsec/sentinel/internal/scan"
	"github.com/sentinelsec/sentinel/internal/target"
)

var scanCmd = &cobra.Command{
	Use:   "scan <url>",
	Short: "Probe a single target and print its findings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		validator := target.NewValidator(viper.GetStringSlice("allowlist"))
		t, err := validator.Validate(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		engine := probe.NewEngine(viper.GetInt("probe_rps"))
		summary, findings, err := engine.Probe(context.Background(), t)
		if err != nil {
			return fmt.Errorf("probe failed: %w", err)
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(scan.Result{Summary: summary, Findings: findings})
		}

		printSummary(t.Raw, summary, findings)
		return nil
	},
}

func printSummary(targetURL string, summary scan.Summary, findings []scan.Finding) {
	fmt.Printf("%s %s\n", colorInfo("Target:"), targetURL)
	fmt.Printf("%s %d/100 (risk: %s)\n", colorInfo("Score:"), summary.Score, formatRisk(summary.Risk))

	if len(findings) == 0 {
		fmt.Printf("%s No findings\n", colorSuccess("✓"))
		return
	}

	fmt.Printf("\n%d finding(s):\n", len(findings))
	for _, f := range findings {
		fmt.Printf("  [%s] %s\n", formatSeverity(f.Severity), f.Title)
		fmt.Printf("      %s\n", f.Evidence)
		fmt.Printf("      %s %s\n", colorInfo("fix:"), f.Recommendation)
	}
}

func init() {
	scanCmd.Flags().Bool("json", false, "emit the result as JSON")
}
