package relay

import (
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-task-progress/internal/metrics"
)

// member is a group participant. enqueue must not block; it reports whether
// the message was accepted.
type member interface {
	enqueue(msg []byte) bool
}

// Groups maps task ids to the clients following them.
type Groups struct {
	mu      sync.RWMutex
	members map[string]map[member]struct{}
	logger  *zap.Logger
}

// NewGroups returns an empty set of groups.
func NewGroups(logger *zap.Logger) *Groups {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Groups{
		members: make(map[string]map[member]struct{}),
		logger:  logger.Named("groups"),
	}
}

func (g *Groups) add(taskID string, m member) {
	g.mu.Lock()
	defer g.mu.Unlock()
	set, ok := g.members[taskID]
	if !ok {
		set = make(map[member]struct{})
		g.members[taskID] = set
	}
	set[m] = struct{}{}
}

func (g *Groups) discard(taskID string, m member) {
	g.mu.Lock()
	defer g.mu.Unlock()
	set, ok := g.members[taskID]
	if !ok {
		return
	}
	delete(set, m)
	if len(set) == 0 {
		delete(g.members, taskID)
	}
}

// Followers returns the number of clients following taskID.
func (g *Groups) Followers(taskID string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.members[taskID])
}

// Publish sends info to every follower of info.TaskID and returns how many
// accepted it. Followers whose buffers are full miss the update.
func (g *Groups) Publish(info TaskInfo) (int, error) {
	if err := info.Validate(); err != nil {
		return 0, fmt.Errorf("publish: %w", err)
	}
	msg, err := json.Marshal(info)
	if err != nil {
		return 0, fmt.Errorf("marshal task info: %w", err)
	}

	g.mu.RLock()
	targets := make([]member, 0, len(g.members[info.TaskID]))
	for m := range g.members[info.TaskID] {
		targets = append(targets, m)
	}
	g.mu.RUnlock()

	delivered, dropped := 0, 0
	for _, m := range targets {
		if m.enqueue(msg) {
			delivered++
		} else {
			dropped++
		}
	}
	if dropped > 0 {
		g.logger.Warn("followers missed update",
			zap.String("task_id", info.TaskID),
			zap.Int("dropped", dropped),
		)
	}
	metrics.ObservePublish(delivered, dropped)
	return delivered, nil
}
