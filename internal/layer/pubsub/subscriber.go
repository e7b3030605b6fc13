// Package pubsub carries task state changes between producers and relays over
// Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-task-progress/internal/metrics"
	"github.com/JakeFAU/realtime-task-progress/internal/relay"
)

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

// Subscriber feeds TaskInfo messages from a subscription into a relay
// publisher.
type Subscriber struct {
	sub       receiver
	publisher relay.Publisher
	logger    *zap.Logger
}

// NewSubscriber wires sub to p.
func NewSubscriber(sub *pubsub.Subscription, p relay.Publisher, logger *zap.Logger) *Subscriber {
	return newSubscriber(sub, p, logger)
}

func newSubscriber(sub receiver, p relay.Publisher, logger *zap.Logger) *Subscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Subscriber{sub: sub, publisher: p, logger: logger.Named("feed")}
}

// Run receives until ctx is canceled. Every message is acked, malformed ones
// included, so a bad payload is never redelivered.
func (s *Subscriber) Run(ctx context.Context) error {
	if s.sub == nil || s.publisher == nil {
		return errors.New("subscriber is not configured")
	}
	err := s.sub.Receive(ctx, func(_ context.Context, msg *pubsub.Message) {
		defer msg.Ack()
		s.handle(msg.ID, msg.Data)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("receive task updates: %w", err)
	}
	return nil
}

func (s *Subscriber) handle(id string, data []byte) {
	var info relay.TaskInfo
	if err := json.Unmarshal(data, &info); err != nil {
		s.logger.Warn("malformed task update", zap.String("message_id", id), zap.Error(err))
		metrics.ObserveFeedMessage("malformed")
		return
	}
	n, err := s.publisher.Publish(info)
	if err != nil {
		s.logger.Warn("task update rejected", zap.String("message_id", id), zap.Error(err))
		metrics.ObserveFeedMessage("rejected")
		return
	}
	s.logger.Debug("task update relayed",
		zap.String("message_id", id),
		zap.String("task_id", info.TaskID),
		zap.Int("followers", n),
	)
	metrics.ObserveFeedMessage("relayed")
}
