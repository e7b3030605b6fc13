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

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-task-progress/internal/config"
	"github.com/JakeFAU/realtime-task-progress/internal/element"
	"github.com/JakeFAU/realtime-task-progress/internal/progress"
	"github.com/JakeFAU/realtime-task-progress/internal/progress/sinks"
	"github.com/JakeFAU/realtime-task-progress/internal/tracker"
)

type watchOptions struct {
	address       string
	tasks         []string
	firstComplete bool
	metricsAddr   string
}

// newWatchCmd creates the 'watch' subcommand, which tracks tasks against a relay
// and renders their progress on the terminal.
func newWatchCmd() *cobra.Command {
	var opts watchOptions
	cmd := &cobra.Command{
		Use:   "watch [task-id...]",
		Short: "Follow task progress over one websocket connection",
		Long: `Connects to a relay, subscribes to every task given with --task (or as
arguments) and prints progress bars until every task has finished.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.tasks = append(opts.tasks, args...)
			return runWatch(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.address, "address", "", "relay websocket address (default from tracker.address)")
	cmd.Flags().StringArrayVar(&opts.tasks, "task", nil, "task id to follow; repeatable")
	cmd.Flags().BoolVar(&opts.firstComplete, "first-complete", false, "stop after the first task completes")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve tracking metrics on this address")
	return cmd
}

func runWatch(cmd *cobra.Command, opts watchOptions) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.GetConfig()
	logger := appInstance.GetLogger()

	if opts.address == "" {
		opts.address = cfg.Tracker.Address
	}
	if len(opts.tasks) == 0 {
		opts.tasks = cfg.Tracker.Tasks
	}
	if len(opts.tasks) == 0 {
		return errors.New("at least one task id is required")
	}
	if !cmd.Flags().Changed("first-complete") {
		opts.firstComplete = cfg.Tracker.FirstComplete
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eventSinks := []progress.Sink{sinks.NewLogSink(logger.Named("events"))}
	if opts.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		promSink, err := sinks.NewPrometheusSink(reg)
		if err != nil {
			return fmt.Errorf("init metrics sink: %w", err)
		}
		eventSinks = append(eventSinks, promSink)
		shutdown := serveMetrics(opts.metricsAddr, reg, logger)
		defer shutdown()
	}
	hub := progress.NewHub(hubConfig(cfg), eventSinks...)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.SinkTimeout())
		defer cancel()
		if err := hub.Close(closeCtx); err != nil {
			logger.Warn("event hub close failed", zap.Error(err))
		}
	}()

	doc := element.NewConsoleDocument(cmd.OutOrStdout())
	doc.AllowPrefix(tracker.ProgressBarPrefix)
	doc.AllowPrefix(tracker.ResultPrefix)

	jobs := make([]tracker.JobDescriptor, 0, len(opts.tasks))
	for _, id := range opts.tasks {
		jobs = append(jobs, tracker.JobDescriptor{JobID: id})
	}
	policy := tracker.CloseWhenAllComplete
	if opts.firstComplete {
		policy = tracker.CloseOnFirstComplete
	}

	session := tracker.InitProgress(ctx, tracker.Config{
		Document: doc,
		Dialer: tracker.WebsocketDialer{Dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.DialTimeout(),
		}},
		Logger:  logger,
		Emitter: hub,
		Policy:  policy,
	}, opts.address, jobs)

	err = session.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	return nil
}

func hubConfig(cfg config.Config) progress.Config {
	return progress.Config{
		BufferSize:     cfg.Events.BufferSize,
		MaxBatchEvents: cfg.Events.MaxBatchEvents,
		MaxBatchWait:   cfg.MaxBatchWait(),
		SinkTimeout:    cfg.SinkTimeout(),
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) func() {
	srv := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server failed", zap.Error(err))
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
