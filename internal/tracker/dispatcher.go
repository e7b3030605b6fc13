package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-task-progress/internal/element"
	"github.com/JakeFAU/realtime-task-progress/internal/progress"
)

// State is the lifecycle position of a Session.
type State int32

// Session states. Closed is terminal.
const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// CompletionPolicy decides when a session closes its shared connection.
type CompletionPolicy int

const (
	// CloseWhenAllComplete keeps the connection until every registered task has
	// reported completion.
	CloseWhenAllComplete CompletionPolicy = iota
	// CloseOnFirstComplete closes the connection right after the first
	// completion is dispatched. Tasks still running get no further updates.
	CloseOnFirstComplete
)

// Config wires a Session's collaborators. Zero values fall back to defaults:
// a gorilla/websocket dialer, a no-op logger and no event emitter.
type Config struct {
	Document element.Document
	Dialer   Dialer
	Logger   *zap.Logger
	Emitter  progress.Emitter
	Policy   CompletionPolicy
	// OnDiagnostic receives routing failures, relay error replies, transport
	// failures and callback panics.
	OnDiagnostic func(error)
	// Now defaults to time.Now.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Dialer == nil {
		c.Dialer = WebsocketDialer{}
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Emitter == nil {
		c.Emitter = progress.Discard
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Session tracks a set of tasks over one connection.
type Session struct {
	id       uuid.UUID
	address  string
	cfg      Config
	registry *Registry
	logger   *zap.Logger

	state     atomic.Int32
	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	err       error
	started   time.Time

	connMu    sync.Mutex
	conn      Conn
	closeOnce sync.Once

	// completed is only touched by the session goroutine.
	completed map[string]struct{}
}

// NewSession builds the registry for jobs and returns an idle session.
func NewSession(cfg Config, address string, jobs []JobDescriptor) *Session {
	cfg = cfg.withDefaults()
	id := uuid.New()
	return &Session{
		id:        id,
		address:   address,
		cfg:       cfg,
		registry:  BuildRegistry(cfg.Document, jobs),
		logger:    cfg.Logger.Named("tracker").With(zap.Stringer("session_id", id)),
		done:      make(chan struct{}),
		completed: make(map[string]struct{}, len(jobs)),
	}
}

// InitProgress registers jobs, starts connecting to address and returns
// without waiting. Progress is reported through the jobs' callbacks; Wait
// returns once the session is closed.
func InitProgress(ctx context.Context, cfg Config, address string, jobs []JobDescriptor) *Session {
	s := NewSession(cfg, address, jobs)
	s.Start(ctx)
	return s
}

// Start moves an idle session to Connecting and runs it in the background.
// Calls on a session that is not idle are ignored.
func (s *Session) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateConnecting)) {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.started = s.cfg.Now()
	go s.run(runCtx)
}

// Close cancels the session. It is safe to call from any goroutine and more
// than once; it does not wait for the session to finish.
func (s *Session) Close() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.state.CompareAndSwap(int32(StateIdle), int32(StateClosed)) {
		s.err = context.Canceled
		close(s.done)
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
}

// Wait blocks until the session is closed. It returns nil when the session
// closed because its tasks completed, an ErrTransport-wrapped error when the
// connection failed, and a context error when the session was canceled.
func (s *Session) Wait() error {
	<-s.done
	return s.err
}

// Done is closed once the session reaches StateClosed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// ID returns the session identifier.
func (s *Session) ID() uuid.UUID { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Registry returns the session's task registry.
func (s *Session) Registry() *Registry { return s.registry }

func (s *Session) run(ctx context.Context) {
	err := s.serve(ctx)
	s.state.Store(int32(StateClosed))
	s.err = err
	s.cancel()
	s.emit(progress.Event{Stage: progress.StageSessionClosed, Dur: s.cfg.Now().Sub(s.started)})
	if err != nil {
		s.logger.Info("session closed", zap.Error(err))
	} else {
		s.logger.Info("session closed")
	}
	close(s.done)
}

func (s *Session) serve(ctx context.Context) error {
	conn, err := s.cfg.Dialer.Dial(ctx, s.address)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("session canceled: %w", ctx.Err())
		}
		return s.transportFailure(fmt.Errorf("%w: %w", ErrTransport, err))
	}
	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	stop := context.AfterFunc(ctx, s.shutdown)
	defer stop()

	s.state.Store(int32(StateOpen))
	s.logger.Debug("connection open", zap.String("address", s.address), zap.Int("tasks", s.registry.Len()))
	s.emit(progress.Event{Stage: progress.StageSessionOpen, Tasks: s.registry.Len()})

	if err := s.subscribe(conn); err != nil {
		s.shutdown()
		if ctx.Err() != nil {
			return fmt.Errorf("session canceled: %w", ctx.Err())
		}
		return s.transportFailure(fmt.Errorf("%w: subscribe: %w", ErrTransport, err))
	}
	if s.registry.Len() == 0 {
		s.shutdown()
		return nil
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("session canceled: %w", ctx.Err())
			}
			return s.transportFailure(fmt.Errorf("%w: read: %w", ErrTransport, err))
		}
		if s.handle(data) {
			s.shutdown()
			return nil
		}
	}
}

// subscribe sends one follow_tasks request for every id followed by one
// check_task_completion request per id, in registry order.
func (s *Session) subscribe(conn Conn) error {
	ids := s.registry.IDs()
	if err := conn.WriteJSON(FollowTasksRequest{Type: RequestFollowTasks, TaskIDs: ids}); err != nil {
		return fmt.Errorf("send %s: %w", RequestFollowTasks, err)
	}
	for _, id := range ids {
		req := CheckTaskCompletionRequest{Type: RequestCheckTaskCompletion, TaskID: id}
		if err := conn.WriteJSON(req); err != nil {
			return fmt.Errorf("send %s for %q: %w", RequestCheckTaskCompletion, id, err)
		}
	}
	return nil
}

// handle dispatches one inbound frame and reports whether the connection
// should now be closed.
func (s *Session) handle(data []byte) bool {
	msg, err := ParseInbound(data)
	if err != nil {
		s.routingFailure(&RoutingError{Reason: ReasonMalformed, Raw: data, Err: err})
		return false
	}
	id := msg.JobID()
	if id == "" {
		if msg.Error != "" {
			s.report(fmt.Errorf("%w: %s", ErrRelay, msg.Error))
			return false
		}
		s.routingFailure(&RoutingError{Reason: ReasonNoTaskID, Raw: data})
		return false
	}
	cfg, ok := s.registry.Lookup(id)
	if !ok {
		s.routingFailure(&RoutingError{Reason: ReasonUnknownID, TaskID: id, Raw: data})
		return false
	}
	if msg.Progress != nil {
		s.dispatchProgress(cfg, *msg.Progress)
	}
	if !msg.Complete {
		return false
	}
	s.dispatchCompletion(cfg, msg)
	return s.markComplete(id)
}

func (s *Session) dispatchProgress(cfg JobConfig, p Progress) {
	bar, message := cfg.ProgressBarElement, cfg.ProgressBarMessageElement
	if p.ProgressID != "" {
		if el := lookup(s.cfg.Document, cfg.ProgressBarID+"-"+p.ProgressID); el != nil {
			bar = el
		}
		if el := lookup(s.cfg.Document, cfg.ProgressBarMessageID+"-"+p.ProgressID); el != nil {
			message = el
		}
	}
	s.invoke(cfg.JobID, "OnProgress", func() {
		cfg.Callbacks.OnProgress(bar, message, p)
	})
	s.emit(progress.Event{
		Stage:      progress.StageTaskProgress,
		TaskID:     cfg.JobID,
		ProgressID: p.ProgressID,
		Percent:    p.Percent,
	})
}

func (s *Session) dispatchCompletion(cfg JobConfig, msg InboundMessage) {
	bar, message := cfg.ProgressBarElement, cfg.ProgressBarMessageElement
	if msg.Succeeded() {
		s.invoke(cfg.JobID, "OnSuccess", func() {
			cfg.Callbacks.OnSuccess(bar, message, msg.Result)
		})
		s.emit(progress.Event{Stage: progress.StageTaskSuccess, TaskID: cfg.JobID})
	} else {
		s.invoke(cfg.JobID, "OnError", func() {
			cfg.Callbacks.OnError(bar, message, msg.Result)
		})
		s.emit(progress.Event{Stage: progress.StageTaskError, TaskID: cfg.JobID, Note: ResultText(msg.Result)})
	}
	if msg.HasResult() {
		s.invoke(cfg.JobID, "OnResult", func() {
			cfg.Callbacks.OnResult(cfg.ResultElement, msg.Result)
		})
	}
}

func (s *Session) markComplete(id string) bool {
	s.completed[id] = struct{}{}
	if s.cfg.Policy == CloseOnFirstComplete {
		return true
	}
	return len(s.completed) >= s.registry.Len()
}

// transportFailure reports err once for every task that has not completed and
// returns err.
func (s *Session) transportFailure(err error) error {
	s.report(err)
	s.emit(progress.Event{Stage: progress.StageTransportFailure, Note: err.Error()})
	result, _ := json.Marshal(err.Error()) //nolint:errchkjson // marshaling a string cannot fail
	seen := make(map[string]struct{}, s.registry.Len())
	for _, id := range s.registry.IDs() {
		if _, done := s.completed[id]; done {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		cfg, _ := s.registry.Lookup(id)
		s.invoke(id, "OnError", func() {
			cfg.Callbacks.OnError(cfg.ProgressBarElement, cfg.ProgressBarMessageElement, result)
		})
		s.emit(progress.Event{Stage: progress.StageTaskError, TaskID: id, Note: err.Error()})
	}
	return err
}

func (s *Session) shutdown() {
	s.closeOnce.Do(func() {
		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()
		if conn == nil {
			return
		}
		if err := closeConn(conn); err != nil {
			s.logger.Debug("close connection failed", zap.Error(err))
		}
	})
}

func (s *Session) invoke(taskID, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.report(&CallbackError{TaskID: taskID, Callback: name, Value: r})
		}
	}()
	fn()
}

func (s *Session) routingFailure(err *RoutingError) {
	s.report(err)
	s.emit(progress.Event{Stage: progress.StageRoutingFailure, TaskID: err.TaskID, Note: err.Error()})
}

func (s *Session) report(err error) {
	s.logger.Warn("tracking diagnostic", zap.Error(err))
	if s.cfg.OnDiagnostic != nil {
		s.cfg.OnDiagnostic(err)
	}
}

func (s *Session) emit(evt progress.Event) {
	evt.SessionID = progress.UUIDToBytes(s.id)
	evt.TS = s.cfg.Now().UTC()
	s.cfg.Emitter.Emit(evt)
}
