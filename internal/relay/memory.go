package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
)

// Publisher accepts task state changes and fans them out to followers.
type Publisher interface {
	Publish(info TaskInfo) (int, error)
}

// MemorySource keeps the latest TaskInfo per task in memory and publishes
// every change. Unknown tasks are reported as pending.
type MemorySource struct {
	mu     sync.RWMutex
	tasks  map[string]TaskInfo
	groups *Groups
}

// NewMemorySource returns an empty source. groups may be nil, in which case
// changes are stored but not published.
func NewMemorySource(groups *Groups) *MemorySource {
	return &MemorySource{
		tasks:  make(map[string]TaskInfo),
		groups: groups,
	}
}

// TaskInfo implements StatusSource.
func (m *MemorySource) TaskInfo(_ context.Context, taskID string) (TaskInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if info, ok := m.tasks[taskID]; ok {
		return info, nil
	}
	return PendingInfo(taskID), nil
}

// Publish stores info and sends it to the task's followers.
func (m *MemorySource) Publish(info TaskInfo) (int, error) {
	if err := info.Validate(); err != nil {
		return 0, fmt.Errorf("publish: %w", err)
	}
	m.mu.Lock()
	m.tasks[info.TaskID] = info
	m.mu.Unlock()
	if m.groups == nil {
		return 0, nil
	}
	return m.groups.Publish(info)
}

// Forget drops the stored state of taskID.
func (m *MemorySource) Forget(taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, taskID)
}

// Recorder returns a recorder that reports the state of taskID.
func (m *MemorySource) Recorder(taskID string) *Recorder {
	return &Recorder{taskID: taskID, publisher: m}
}

// Recorder is the producer side of a task: the code doing the work reports
// progress and the outcome through it.
type Recorder struct {
	taskID    string
	publisher Publisher
}

// NewRecorder returns a recorder for taskID that reports to p.
func NewRecorder(taskID string, p Publisher) *Recorder {
	return &Recorder{taskID: taskID, publisher: p}
}

// TaskID returns the id the recorder reports for.
func (r *Recorder) TaskID() string { return r.taskID }

// SetProgress reports current out of total. The percentage is rounded to two
// decimals and is 0 when total is not positive. progressID may be empty.
func (r *Recorder) SetProgress(current, total float64, description, progressID string) (TaskInfo, error) {
	info := ProgressInfo(r.taskID, ProgressMeta{
		Current:     current,
		Total:       total,
		Percent:     Percent(current, total),
		Description: description,
		ProgressID:  progressID,
	})
	if _, err := r.publisher.Publish(info); err != nil {
		return info, err
	}
	return info, nil
}

// Succeed marks the task complete with result, which must marshal to JSON.
func (r *Recorder) Succeed(result any) (TaskInfo, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return TaskInfo{}, fmt.Errorf("marshal result for %q: %w", r.taskID, err)
	}
	info := CompletedInfo(r.taskID, true, raw)
	if _, err := r.publisher.Publish(info); err != nil {
		return info, err
	}
	return info, nil
}

// Fail marks the task complete and unsuccessful. The error text becomes the
// result.
func (r *Recorder) Fail(cause error) (TaskInfo, error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	info := FailedInfo(r.taskID, msg)
	if _, err := r.publisher.Publish(info); err != nil {
		return info, err
	}
	return info, nil
}

// Percent returns current/total as a percentage rounded to two decimals, or 0
// when total is not positive.
func Percent(current, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(current/total*100*100) / 100
}
