package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-task-progress/internal/id/uuid"
	layerpubsub "github.com/JakeFAU/realtime-task-progress/internal/layer/pubsub"
	"github.com/JakeFAU/realtime-task-progress/internal/relay"
)

type simulateOptions struct {
	taskID   string
	steps    int
	interval time.Duration
	fail     bool
}

// newSimulateCmd creates the 'simulate' subcommand, which publishes the updates
// of a fake task to the Pub/Sub feed a relay subscribes to.
func newSimulateCmd() *cobra.Command {
	var opts simulateOptions
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Publish progress for a fake task",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSimulate(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.taskID, "task", "", "task id to report (generated when empty)")
	cmd.Flags().IntVar(&opts.steps, "steps", 10, "number of progress updates")
	cmd.Flags().DurationVar(&opts.interval, "interval", 500*time.Millisecond, "delay between updates")
	cmd.Flags().BoolVar(&opts.fail, "fail", false, "finish with a failure instead of a result")
	return cmd
}

func runSimulate(cmd *cobra.Command, opts simulateOptions) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.GetConfig()
	logger := appInstance.GetLogger()

	if cfg.PubSub.Topic == "" {
		return errors.New("pubsub.topic is required")
	}
	if opts.steps <= 0 {
		return errors.New("steps must be positive")
	}
	if opts.taskID == "" {
		opts.taskID, err = uuid.New().NewID()
		if err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("create pubsub client: %w", err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warn("close pubsub client failed", zap.Error(err))
		}
	}()
	topic := layerpubsub.NewTopic(client.Topic(cfg.PubSub.Topic), cfg.PublishTimeout())
	defer topic.Stop()

	fmt.Fprintln(cmd.OutOrStdout(), opts.taskID)
	return simulateTask(ctx.Done(), relay.NewRecorder(opts.taskID, topic), opts, logger)
}

// simulateTask reports steps updates through rec and then completes the task.
// A closed done channel abandons the task without a final state.
func simulateTask(done <-chan struct{}, rec *relay.Recorder, opts simulateOptions, logger *zap.Logger) error {
	for step := 1; step <= opts.steps; step++ {
		description := fmt.Sprintf("step %d of %d", step, opts.steps)
		if _, err := rec.SetProgress(float64(step), float64(opts.steps), description, ""); err != nil {
			return fmt.Errorf("publish progress: %w", err)
		}
		logger.Debug("progress published", zap.String("task_id", rec.TaskID()), zap.Int("step", step))
		select {
		case <-done:
			return nil
		case <-time.After(opts.interval):
		}
	}
	if opts.fail {
		_, err := rec.Fail(errors.New("simulated failure"))
		return err
	}
	_, err := rec.Succeed(map[string]int{"steps": opts.steps})
	return err
}
