package relay

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ProgressMeta is the progress object attached to every TaskInfo.
type ProgressMeta struct {
	Current     float64 `json:"current"`
	Total       float64 `json:"total"`
	Percent     float64 `json:"percent"`
	Description string  `json:"description,omitempty"`
	ProgressID  string  `json:"progress_id,omitempty"`
	ExcMessage  string  `json:"exc_message,omitempty"`
	ExcType     string  `json:"exc_type,omitempty"`
}

// TaskInfo is the state message sent to followers of a task.
type TaskInfo struct {
	TaskID   string          `json:"task_id"`
	Complete bool            `json:"complete"`
	Success  *bool           `json:"success"`
	Progress ProgressMeta    `json:"progress"`
	Result   json.RawMessage `json:"result,omitempty"`
}

var (
	completedProgress = ProgressMeta{Current: 100, Total: 100, Percent: 100}
	unknownProgress   = ProgressMeta{Current: 0, Total: 100, Percent: 0}
)

// PendingInfo describes a task that has not reported progress yet.
func PendingInfo(taskID string) TaskInfo {
	return TaskInfo{TaskID: taskID, Progress: unknownProgress}
}

// ProgressInfo describes a running task.
func ProgressInfo(taskID string, meta ProgressMeta) TaskInfo {
	return TaskInfo{TaskID: taskID, Progress: meta}
}

// CompletedInfo describes a finished task. A nil result is sent as null.
func CompletedInfo(taskID string, success bool, result json.RawMessage) TaskInfo {
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	return TaskInfo{
		TaskID:   taskID,
		Complete: true,
		Success:  &success,
		Progress: completedProgress,
		Result:   result,
	}
}

// FailedInfo describes a task that finished with an error message.
func FailedInfo(taskID, message string) TaskInfo {
	result, _ := json.Marshal(message) //nolint:errchkjson // marshaling a string cannot fail
	return CompletedInfo(taskID, false, result)
}

// Validate checks the fields a follower needs to route the message.
func (i TaskInfo) Validate() error {
	if i.TaskID == "" {
		return errors.New("task_id is required")
	}
	if i.Complete && i.Success == nil {
		return fmt.Errorf("task %q: success is required when complete", i.TaskID)
	}
	return nil
}
