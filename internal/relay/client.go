package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-task-progress/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
)

// client is one websocket connection. Request handling and the follow set
// belong to the read goroutine; the write goroutine drains send.
type client struct {
	id     uuid.UUID
	conn   *websocket.Conn
	groups *Groups
	source StatusSource
	logger *zap.Logger

	// fixed is the task id of a single-task connection.
	fixed string
	tasks map[string]struct{}

	sendMu sync.Mutex
	send   chan []byte
	closed bool
}

func newClient(conn *websocket.Conn, groups *Groups, source StatusSource, logger *zap.Logger, buffer int) *client {
	id := uuid.New()
	return &client{
		id:     id,
		conn:   conn,
		groups: groups,
		source: source,
		logger: logger.With(zap.Stringer("client_id", id)),
		tasks:  make(map[string]struct{}),
		send:   make(chan []byte, buffer),
	}
}

func (c *client) enqueue(msg []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *client) reply(v any) {
	msg, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("marshal reply failed", zap.Error(err))
		return
	}
	if !c.enqueue(msg) {
		c.logger.Warn("reply dropped")
	}
}

// dispatch runs one request. Returned errors are reported to the client.
func (c *client) dispatch(ctx context.Context, req request) error {
	if c.fixed != "" {
		// Single-task connections only answer status checks for their task.
		if req.Type == RequestCheckTaskCompletion {
			return c.checkTaskCompletion(ctx, c.fixed)
		}
		return nil
	}

	switch req.Type {
	case "":
		return ErrTypeRequired
	case RequestCheckTaskCompletion:
		return c.checkTaskCompletion(ctx, req.TaskID)
	case RequestFollowTasks:
		return c.followTasks(req.taskIDs())
	case RequestFollowTask:
		return c.followTask(req.TaskID)
	case RequestUnfollowTask:
		return c.unfollowTask(req.TaskID)
	case RequestUnfollowTasks:
		return c.unfollowTasks(req.taskIDs())
	default:
		return ErrUnknownRequest
	}
}

func (c *client) checkTaskCompletion(ctx context.Context, taskID string) error {
	if taskID == "" {
		return ErrTaskIDRequired
	}
	info, err := c.source.TaskInfo(ctx, taskID)
	if err != nil {
		return fmt.Errorf("task %q status: %w", taskID, err)
	}
	if info.TaskID == "" {
		info.TaskID = taskID
	}
	if _, err := c.groups.Publish(info); err != nil {
		return err
	}
	return nil
}

func (c *client) followTask(taskID string) error {
	if taskID == "" {
		return ErrTaskIDRequired
	}
	c.tasks[taskID] = struct{}{}
	c.groups.add(taskID, c)
	return nil
}

func (c *client) unfollowTask(taskID string) error {
	if taskID == "" {
		return ErrTaskIDRequired
	}
	if _, ok := c.tasks[taskID]; !ok {
		return invalidTaskID(taskID)
	}
	delete(c.tasks, taskID)
	c.groups.discard(taskID, c)
	return nil
}

func (c *client) followTasks(taskIDs []string) error {
	if len(taskIDs) == 0 {
		return ErrTaskIDsRequired
	}
	for _, id := range taskIDs {
		if err := c.followTask(id); err != nil {
			return err
		}
	}
	return nil
}

func (c *client) unfollowTasks(taskIDs []string) error {
	if len(taskIDs) == 0 {
		return ErrTaskIDsRequired
	}
	for _, id := range taskIDs {
		if err := c.unfollowTask(id); err != nil {
			return err
		}
	}
	return nil
}

// leave removes the client from every group it joined.
func (c *client) leave() {
	if c.fixed != "" {
		c.groups.discard(c.fixed, c)
	}
	for id := range c.tasks {
		c.groups.discard(id, c)
	}
	c.logger.Info("client disconnected", zap.Int("tasks", len(c.tasks)))
	clear(c.tasks)
}

func (c *client) readPump(ctx context.Context) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("read failed", zap.Error(err))
			}
			return
		}
		c.process(ctx, data)
	}
}

// process handles one inbound frame and replies with an error message when
// the request fails.
func (c *client) process(ctx context.Context, data []byte) {
	var req request
	err := json.Unmarshal(data, &req)
	if err != nil {
		err = fmt.Errorf("decode request: %w", err)
	} else {
		c.logger.Debug("request",
			zap.String("type", req.Type),
			zap.String("task_id", req.TaskID),
			zap.Strings("task_ids", req.TaskIDs),
		)
		err = c.dispatch(ctx, req)
	}
	if err != nil {
		c.logger.Warn("request failed", zap.String("type", req.Type), zap.Error(err))
		metrics.ObserveRequest(req.label(), "error")
		c.reply(replyFor(err))
		return
	}
	metrics.ObserveRequest(req.label(), "ok")
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Debug("write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
