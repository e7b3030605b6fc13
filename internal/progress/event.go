package progress

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported tracking stages.
const (
	StageSessionOpen      Stage = "SESSION_OPEN"
	StageSessionClosed    Stage = "SESSION_CLOSED"
	StageTaskProgress     Stage = "TASK_PROGRESS"
	StageTaskSuccess      Stage = "TASK_SUCCESS"
	StageTaskError        Stage = "TASK_ERROR"
	StageRoutingFailure   Stage = "ROUTING_FAILURE"
	StageTransportFailure Stage = "TRANSPORT_FAILURE"
)

// Event captures a single milestone of a tracking session.
type Event struct {
	// SessionID identifies the tracking session using the 16-byte UUID form.
	SessionID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage
	// TaskID is the task the event belongs to; empty for session-level stages.
	TaskID string
	// ProgressID names the sub-unit a progress update targeted, if any.
	ProgressID string
	// Percent carries the reported completion percentage for progress stages.
	Percent float64
	// Tasks is the number of tasks registered on the session (SESSION_OPEN).
	Tasks int
	// Dur is the session lifetime on SESSION_CLOSED.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.SessionID == [16]byte{} {
		return errors.New("session id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageSessionOpen, StageSessionClosed, StageRoutingFailure, StageTransportFailure:
	case StageTaskProgress:
		if e.TaskID == "" {
			return errors.New("task progress requires task id")
		}
		if math.IsNaN(e.Percent) || math.IsInf(e.Percent, 0) {
			return errors.New("task progress requires a finite percent")
		}
	case StageTaskSuccess, StageTaskError:
		if e.TaskID == "" {
			return fmt.Errorf("%s requires task id", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// SessionUUID converts the binary session ID to uuid.UUID.
func (e Event) SessionUUID() uuid.UUID {
	return uuid.UUID(e.SessionID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
