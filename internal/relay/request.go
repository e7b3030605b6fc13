package relay

import (
	"errors"
	"fmt"
)

// Request types accepted from clients.
const (
	RequestCheckTaskCompletion = "check_task_completion"
	RequestFollowTask          = "follow_task"
	RequestFollowTasks         = "follow_tasks"
	RequestUnfollowTask        = "unfollow_task"
	RequestUnfollowTasks       = "unfollow_tasks"
)

// Request errors. Their text is sent back to the client verbatim.
var (
	ErrTypeRequired    = errors.New("type is required")
	ErrUnknownRequest  = errors.New("unknown request type")
	ErrTaskIDRequired  = errors.New("task_id is required")
	ErrTaskIDInvalid   = errors.New("task_id is not valid")
	ErrTaskIDsRequired = errors.New("task_ids is required")
)

var requestErrors = []error{
	ErrTypeRequired,
	ErrUnknownRequest,
	ErrTaskIDRequired,
	ErrTaskIDInvalid,
	ErrTaskIDsRequired,
}

type request struct {
	Type    string   `json:"type"`
	TaskID  string   `json:"task_id"`
	TaskIDs []string `json:"task_ids"`
}

// taskIDs returns the request's ids without duplicates, in order.
func (r request) taskIDs() []string {
	seen := make(map[string]struct{}, len(r.TaskIDs))
	out := make([]string, 0, len(r.TaskIDs))
	for _, id := range r.TaskIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// label bounds the request type for use as a metric label.
func (r request) label() string {
	switch r.Type {
	case "", RequestCheckTaskCompletion, RequestFollowTask, RequestFollowTasks,
		RequestUnfollowTask, RequestUnfollowTasks:
		return r.Type
	default:
		return "unknown"
	}
}

type errorReply struct {
	Error string `json:"error"`
}

// replyFor turns a request failure into the message sent to the client.
func replyFor(err error) errorReply {
	for _, known := range requestErrors {
		if errors.Is(err, known) {
			return errorReply{Error: err.Error()}
		}
	}
	return errorReply{Error: fmt.Sprintf("FATAL ERROR: %v", err)}
}

func invalidTaskID(taskID string) error {
	return fmt.Errorf("%w %s", ErrTaskIDInvalid, taskID)
}
