package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/docs-archiver/internal/api"
	"github.com/JakeFAU/docs-archiver/internal/app"
	"github.com/JakeFAU/docs-archiver/internal/config"
	"github.com/JakeFAU/docs-archiver/internal/crawl"
	"github.com/JakeFAU/docs-archiver/internal/logging"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application surface that commands use. This allows us to
// inject a mock container during tests.
type App interface {
	Close()
	GetLogger() *zap.Logger
	GetConfig() config.Config
	GetEngine() *crawl.Engine
	GetServer() *api.Server
}

// newApp is the application factory. It's a variable so we can replace it
// with a mock factory in our tests.
var newApp = func(ctx context.Context) (App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docs-archiver",
		Short: "Archives documentation sites as markdown and PDF.",
		Long: `docs-archiver walks a documentation site from configured entry points,
renders each page in headless Chrome, and stores markdown and PDF artifacts.
Crawl state persists to disk, so interrupted runs resume where they left off
and failed pages can be retried without re-fetching the rest.`,

		// Runs before the subcommand's RunE; builds the app container and
		// stores it in the command context for subcommands to use.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context())
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}
			ctx := context.WithValue(cmd.Context(), appKey, appInstance)
			cmd.SetContext(ctx)
			return nil
		},

		// Shuts services down after the subcommand finishes.
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); defaults and DOCS_ARCHIVER_* env vars apply when omitted")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newRetryCmd())

	return cmd
}

// Execute is the main entry point. SIGINT/SIGTERM cancel the command
// context, which stops queued work and lets the active run clean up.
func Execute() {
	logging.InitLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		logging.L.Fatal("command failed", zap.Error(err))
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

func resolveEngine(a App) (*crawl.Engine, error) {
	engine := a.GetEngine()
	if engine == nil {
		return nil, errors.New("archiving engine unavailable: headless rendering is disabled")
	}
	return engine, nil
}

// startStatusServer serves the status API for the duration of a run. The
// returned stop function shuts it down; both are no-ops when the server is
// disabled.
func startStatusServer(a App) func() {
	srv := a.GetServer()
	if srv == nil {
		return func() {}
	}
	logger := a.GetLogger()
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.GetConfig().Server.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("status api listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("status api failed", zap.Error(err))
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Warn("status api shutdown failed", zap.Error(err))
		}
	}
}
