package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gdprcheck/contractcheck/model"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [file.pdf]",
	Short: "Analyze one contract and print the report as JSON",
	Long: `Runs the full pipeline over a local PDF and prints the report. The exit
status is non-zero when the pipeline fails or no template exists for the
detected agreement type; an unclassified document is not an error.`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open document: %w", err)
	}
	defer f.Close()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}

	report, runErr := a.engine.Analyze(ctx, f)
	if err := printJSON(cmd, report); err != nil {
		return err
	}
	cmd.PrintErrln(reportSummary(report))
	if runErr != nil {
		return fmt.Errorf("analysis %s: %w", report.Status, runErr)
	}
	return nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}

// reportSummary is a one-line human reading of a report
func reportSummary(r *model.Report) string {
	if r.Result == nil {
		return fmt.Sprintf("%s (%s)", r.Status, r.AgreementType.DisplayName())
	}
	return fmt.Sprintf("%s: %s, risk score %d/100 (%s)", r.Status, r.AgreementType.DisplayName(), r.Result.RiskScore, r.Result.RiskLevel())
}
