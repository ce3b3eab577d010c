package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// newRetryCmd creates and configures the 'retry' subcommand, which
// re-dispatches previously failed URLs without re-crawling the rest.
func newRetryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Retries URLs that failed in earlier runs",
		Long: `Loads the persisted crawl state and re-dispatches the URLs recorded as
failed, skipping permanent HTTP failures such as 404s. URLs that are no
longer discoverable from the configured entry points are left alone.`,

		RunE: runRetryCommand,
	}
	return cmd
}

func runRetryCommand(cmd *cobra.Command, _ []string) error {
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

	engine.Initialize(cmd.Context())
	if err := engine.RetryFailedURLs(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("retry failed urls: %w", err)
	}

	appInstance.GetLogger().Info("retry command finished")
	return nil
}
