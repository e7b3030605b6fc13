package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/JakeFAU/realtime-task-progress/internal/relay"
)

const defaultPublishTimeout = 10 * time.Second

// Topic publishes TaskInfo messages for relays to pick up. It satisfies
// relay.Publisher, so a relay.Recorder can report through it.
type Topic struct {
	topic   *pubsub.Topic
	timeout time.Duration
}

// NewTopic wraps topic. A non-positive timeout uses the default.
func NewTopic(topic *pubsub.Topic, timeout time.Duration) *Topic {
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	return &Topic{topic: topic, timeout: timeout}
}

// Publish marshals info and waits for the server to accept it. It returns 1
// once the message is published.
func (t *Topic) Publish(info relay.TaskInfo) (int, error) {
	if t.topic == nil {
		return 0, errors.New("pubsub topic is not configured")
	}
	if err := info.Validate(); err != nil {
		return 0, fmt.Errorf("publish: %w", err)
	}
	data, err := json.Marshal(info)
	if err != nil {
		return 0, fmt.Errorf("marshal task info: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()
	msg := &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"task_id": info.TaskID},
	}
	if _, err := t.topic.Publish(ctx, msg).Get(ctx); err != nil {
		return 0, fmt.Errorf("publish message: %w", err)
	}
	return 1, nil
}

// Stop flushes pending messages.
func (t *Topic) Stop() {
	if t.topic != nil {
		t.topic.Stop()
	}
}
