package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "Inspect and refresh the reference templates",
}

var templatesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the loaded templates",
	RunE:  runTemplatesList,
}

var templatesRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Rebuild templates from their official sources",
	Long: `Downloads every configured source document, extracts its clauses and
replaces the stored template when the content changed. A change report is
sent through the configured alert channels.`,
	RunE: runTemplatesRefresh,
}

var templatesJSON bool

func init() {
	templatesListCmd.Flags().BoolVar(&templatesJSON, "json", false, "output templates as JSON")

	templatesCmd.AddCommand(templatesListCmd)
	templatesCmd.AddCommand(templatesRefreshCmd)
	rootCmd.AddCommand(templatesCmd)
}

func runTemplatesList(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}

	list := a.templates.List()
	if templatesJSON {
		return printJSON(cmd, list)
	}
	if len(list) == 0 {
		cmd.Printf("No templates in %s. Run \"contractcheck templates refresh\".\n", cfg.Templates.Dir)
		return nil
	}
	for _, tpl := range list {
		cmd.Printf("%-4s %-38s %3d clauses  %s  %s\n",
			tpl.AgreementType, tpl.AgreementType.DisplayName(), len(tpl.Clauses),
			tpl.ContentHash[:12], tpl.Version.Format("2006-01-02 15:04"))
	}
	return nil
}

func runTemplatesRefresh(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}

	res := a.refresher.Refresh(ctx)
	for _, c := range res.Changes {
		cmd.Println("changed:", c)
	}
	for _, e := range res.Errors {
		cmd.PrintErrln("error:", e)
	}
	if len(res.Changes) == 0 && len(res.Errors) == 0 {
		cmd.Println("All templates are up to date.")
	}
	if len(res.Errors) > 0 {
		return fmt.Errorf("%d template source(s) failed", len(res.Errors))
	}
	return nil
}
