package tracker

import (
	"errors"
	"fmt"
)

var (
	// ErrRouting marks inbound messages that could not be matched to a task.
	ErrRouting = errors.New("routing failure")
	// ErrTransport marks a connection that failed to open or dropped while
	// tasks were still pending.
	ErrTransport = errors.New("transport failure")
	// ErrRelay marks an error reply sent by the server for one of our requests.
	ErrRelay = errors.New("relay error")
)

// Routing failure reasons.
const (
	ReasonMalformed = "malformed message"
	ReasonNoTaskID  = "no task id"
	ReasonUnknownID = "unknown task id"
)

// RoutingError describes a discarded inbound message.
type RoutingError struct {
	Reason string
	TaskID string
	Raw    []byte
	Err    error
}

func (e *RoutingError) Error() string {
	msg := fmt.Sprintf("routing failure: %s", e.Reason)
	if e.TaskID != "" {
		msg += fmt.Sprintf(" %q", e.TaskID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is matches ErrRouting.
func (e *RoutingError) Is(target error) bool {
	return target == ErrRouting
}

func (e *RoutingError) Unwrap() error {
	return e.Err
}

// CallbackError reports a callback that panicked. The panic is contained to the
// event that triggered it.
type CallbackError struct {
	TaskID   string
	Callback string
	Value    any
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("callback %s for task %q panicked: %v", e.Callback, e.TaskID, e.Value)
}
