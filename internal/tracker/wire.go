package tracker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Outbound request types.
const (
	RequestFollowTasks         = "follow_tasks"
	RequestCheckTaskCompletion = "check_task_completion"
)

// FollowTasksRequest subscribes the connection to every listed task.
type FollowTasksRequest struct {
	Type    string   `json:"type"`
	TaskIDs []string `json:"task_ids"`
}

// CheckTaskCompletionRequest asks the server to report a task's current state.
type CheckTaskCompletionRequest struct {
	Type   string `json:"type"`
	TaskID string `json:"task_id"`
}

// Progress is the progress payload of an inbound message.
type Progress struct {
	Percent     float64 `json:"percent"`
	Current     float64 `json:"current"`
	Total       float64 `json:"total"`
	Description string  `json:"description,omitempty"`
	// ProgressID addresses a sub-unit of the task. Numeric ids on the wire are
	// normalized to their decimal string form.
	ProgressID string `json:"progress_id,omitempty"`
}

// UnmarshalJSON accepts progress_id as either a string or a number.
func (p *Progress) UnmarshalJSON(data []byte) error {
	type plain Progress
	var raw struct {
		plain
		ProgressID json.RawMessage `json:"progress_id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	pid, err := looseString(raw.ProgressID)
	if err != nil {
		return fmt.Errorf("progress_id: %w", err)
	}
	*p = Progress(raw.plain)
	p.ProgressID = pid
	return nil
}

// InboundMessage is one decoded server message.
type InboundMessage struct {
	TaskID   string
	ID       string
	Progress *Progress
	Complete bool
	Success  *bool
	// Result holds the raw result payload; nil when the field is absent or null.
	Result json.RawMessage
	// Error carries a server-side request error ({"error": "..."}).
	Error string
}

// JobID returns the task the message belongs to: task_id, falling back to id.
func (m InboundMessage) JobID() string {
	if m.TaskID != "" {
		return m.TaskID
	}
	return m.ID
}

// HasResult reports whether the message carried a non-null result.
func (m InboundMessage) HasResult() bool {
	return len(m.Result) > 0
}

// Succeeded reports whether the message marks a successful completion.
func (m InboundMessage) Succeeded() bool {
	return m.Success != nil && *m.Success
}

type inboundWire struct {
	TaskID   json.RawMessage `json:"task_id"`
	ID       json.RawMessage `json:"id"`
	Progress *Progress       `json:"progress"`
	Complete *bool           `json:"complete"`
	Success  *bool           `json:"success"`
	Result   json.RawMessage `json:"result"`
	Error    string          `json:"error"`
}

// ParseInbound decodes a text frame into an InboundMessage.
func ParseInbound(data []byte) (InboundMessage, error) {
	var wire inboundWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return InboundMessage{}, fmt.Errorf("decode message: %w", err)
	}
	taskID, err := looseString(wire.TaskID)
	if err != nil {
		return InboundMessage{}, fmt.Errorf("task_id: %w", err)
	}
	id, err := looseString(wire.ID)
	if err != nil {
		return InboundMessage{}, fmt.Errorf("id: %w", err)
	}
	msg := InboundMessage{
		TaskID:   taskID,
		ID:       id,
		Progress: wire.Progress,
		Success:  wire.Success,
		Error:    wire.Error,
	}
	if wire.Complete != nil {
		msg.Complete = *wire.Complete
	}
	if len(wire.Result) > 0 && !bytes.Equal(bytes.TrimSpace(wire.Result), []byte("null")) {
		msg.Result = wire.Result
	}
	return msg, nil
}

// looseString decodes a JSON string or number into a string. Absent and null
// values decode to "".
func looseString(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	default:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return "", fmt.Errorf("expected string or number, got %s", raw)
		}
		return n.String(), nil
	}
}

// formatCount renders progress counters without a trailing ".0".
func formatCount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
