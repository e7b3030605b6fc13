package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-task-progress/internal/config"
	layerpubsub "github.com/JakeFAU/realtime-task-progress/internal/layer/pubsub"
	"github.com/JakeFAU/realtime-task-progress/internal/relay"
	"github.com/JakeFAU/realtime-task-progress/internal/storage/postgres"
)

type relayOptions struct {
	port         int
	source       string
	subscription string
}

// newRelayCmd creates the 'relay' subcommand, which serves the websocket
// endpoints trackers connect to.
func newRelayCmd() *cobra.Command {
	var opts relayOptions
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Serve task progress to websocket clients",
		Long: `Serves /ws/progress/ and /ws/progress/{task_id}/. Status checks are answered
from memory or from the Celery Postgres result backend; updates arrive through
the in-memory recorder or a Pub/Sub subscription.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRelay(cmd, opts)
		},
	}
	cmd.Flags().IntVar(&opts.port, "port", 0, "listen port (default from relay.port or $PORT)")
	cmd.Flags().StringVar(&opts.source, "source", "", "status source: memory or postgres")
	cmd.Flags().StringVar(&opts.subscription, "pubsub-subscription", "", "Pub/Sub subscription carrying task updates")
	return cmd
}

func runRelay(cmd *cobra.Command, opts relayOptions) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.GetConfig()
	logger := appInstance.GetLogger()
	applyRelayOverrides(&cfg, opts)
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	groups := relay.NewGroups(logger)
	var (
		source    relay.StatusSource
		publisher relay.Publisher
	)
	switch cfg.Relay.Source {
	case config.SourcePostgres:
		pg, err := postgres.NewTaskMetaSource(ctx, postgres.TaskMetaConfig{
			DSN:             cfg.Postgres.DSN,
			Table:           cfg.Postgres.Table,
			MaxConns:        cfg.Postgres.MaxConns,
			MinConns:        cfg.Postgres.MinConns,
			MaxConnLifetime: cfg.MaxConnLifetime(),
		})
		if err != nil {
			return fmt.Errorf("init postgres source: %w", err)
		}
		defer pg.Close()
		source, publisher = pg, groups
	default:
		mem := relay.NewMemorySource(groups)
		source, publisher = mem, mem
	}

	srv := relay.NewServer(relay.Config{
		Groups:     groups,
		Source:     source,
		Logger:     logger,
		SendBuffer: cfg.Relay.SendBuffer,
	})
	defer srv.Close()

	errCh := make(chan error, 2)
	if cfg.PubSub.Subscription != "" {
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("create pubsub client: %w", err)
		}
		defer func() {
			if err := client.Close(); err != nil {
				logger.Warn("close pubsub client failed", zap.Error(err))
			}
		}()
		feed := layerpubsub.NewSubscriber(client.Subscription(cfg.PubSub.Subscription), publisher, logger)
		go func() {
			if err := feed.Run(ctx); err != nil {
				errCh <- err
			}
		}()
	}

	httpServer := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(cfg.Relay.Port)),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("relay listening", zap.String("addr", httpServer.Addr), zap.String("source", cfg.Relay.Source))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("listen: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", zap.Error(err))
	}
	logger.Info("relay stopped")
	return runErr
}

// applyRelayOverrides layers flags and $PORT over the loaded config.
func applyRelayOverrides(cfg *config.Config, opts relayOptions) {
	if port, err := strconv.Atoi(os.Getenv("PORT")); err == nil && port > 0 {
		cfg.Relay.Port = port
	}
	if opts.port > 0 {
		cfg.Relay.Port = opts.port
	}
	if opts.source != "" {
		cfg.Relay.Source = opts.source
	}
	if opts.subscription != "" {
		cfg.PubSub.Subscription = opts.subscription
	}
}
