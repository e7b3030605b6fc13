// Package cmd defines and implements the CLI commands for the taskprogress executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-task-progress/internal/config"
	"github.com/JakeFAU/realtime-task-progress/internal/logging"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands will use.
// This allows us to inject a mock app during tests.
type App interface {
	Close()
	GetLogger() *zap.Logger
	GetConfig() config.Config
}

type app struct {
	cfg    config.Config
	logger *zap.Logger
}

func (a *app) Close() {
	// Sync fails on terminals; there is nothing useful to do about it.
	_ = a.logger.Sync()
}

func (a *app) GetLogger() *zap.Logger { return a.logger }

func (a *app) GetConfig() config.Config { return a.cfg }

// newApp is the application factory. It's a variable so we can
// replace it with a mock factory in our tests.
var newApp = func(_ context.Context, path string) (App, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return &app{cfg: cfg, logger: logger}, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "taskprogress",
		Short: "Track background task progress over websockets.",
		Long: `taskprogress follows the progress of background tasks.

"watch" connects to a relay and renders progress bars for several tasks over a
single connection. "relay" serves the websocket endpoint those clients talk to.
"simulate" drives a fake task through its lifecycle so the other two can be
tried end to end.`,
		SilenceUsage: true,

		// Build the application before any subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}

			// Store the app instance in the context for subcommands to use.
			ctx := context.WithValue(cmd.Context(), appKey, appInstance)
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (env TASKPROGRESS_* overrides it)")

	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newRelayCmd())
	cmd.AddCommand(newSimulateCmd())

	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
