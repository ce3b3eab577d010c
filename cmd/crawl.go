// Package cmd defines and implements the CLI commands for the docs-archiver
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// newCrawlCmd creates and configures the 'crawl' subcommand, which performs
// a full archiving pass over the configured entry points.
func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Archives the configured documentation sites",
		Long: `Collects URLs from the configured entry points, renders each page in
headless Chrome, and stores markdown and PDF artifacts. Pages already
archived in a previous run are skipped; when crawler.retry_failed is set,
failed pages get one retry pass at the end of the run.`,

		RunE: runCrawlCommand,
	}
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	engine, err := resolveEngine(appInstance)
	if err != nil {
		return err
	}

	stopServer := startStatusServer(appInstance)
	defer stopServer()

	if err := engine.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run archiver: %w", err)
	}

	appInstance.GetLogger().Info("crawl command finished")
	return nil
}
