package relay

import (
	"context"
)

// StatusSource answers check_task_completion requests.
type StatusSource interface {
	TaskInfo(ctx context.Context, taskID string) (TaskInfo, error)
}

// StatusSourceFunc adapts a function to the StatusSource interface.
type StatusSourceFunc func(ctx context.Context, taskID string) (TaskInfo, error)

// TaskInfo implements StatusSource.
func (f StatusSourceFunc) TaskInfo(ctx context.Context, taskID string) (TaskInfo, error) {
	return f(ctx, taskID)
}
