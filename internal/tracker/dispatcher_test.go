package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-task-progress/internal/element"
	"github.com/JakeFAU/realtime-task-progress/internal/progress"
)

type call struct {
	kind     string
	taskID   string
	bar      element.Element
	message  element.Element
	target   element.Element
	progress Progress
	result   string
}

type callLog struct {
	mu    sync.Mutex
	calls []call
}

func (l *callLog) add(c call) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, c)
}

func (l *callLog) Calls() []call {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]call(nil), l.calls...)
}

func (l *callLog) options(taskID string) *Options {
	return &Options{
		OnProgress: func(bar, message element.Element, p Progress) {
			l.add(call{kind: "progress", taskID: taskID, bar: bar, message: message, progress: p})
		},
		OnSuccess: func(bar, message element.Element, result json.RawMessage) {
			l.add(call{kind: "success", taskID: taskID, bar: bar, message: message, result: string(result)})
		},
		OnError: func(bar, message element.Element, result json.RawMessage) {
			l.add(call{kind: "error", taskID: taskID, bar: bar, message: message, result: string(result)})
		},
		OnResult: func(target element.Element, result json.RawMessage) {
			l.add(call{kind: "result", taskID: taskID, target: target, result: string(result)})
		},
	}
}

type diagnostics struct {
	mu   sync.Mutex
	errs []error
}

func (d *diagnostics) record(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errs = append(d.errs, err)
}

func (d *diagnostics) Errors() []error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]error(nil), d.errs...)
}

type eventLog struct {
	mu     sync.Mutex
	events []progress.Event
}

func (e *eventLog) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *eventLog) Stages() []progress.Stage {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]progress.Stage, 0, len(e.events))
	for _, evt := range e.events {
		out = append(out, evt.Stage)
	}
	return out
}

type harness struct {
	conn    *fakeConn
	doc     *element.MemoryDocument
	calls   *callLog
	diag    *diagnostics
	events  *eventLog
	session *Session
}

func startHarness(t *testing.T, policy CompletionPolicy, ids ...string) *harness {
	t.Helper()
	h := &harness{
		conn:   newFakeConn(),
		doc:    element.NewMemoryDocument(),
		calls:  &callLog{},
		diag:   &diagnostics{},
		events: &eventLog{},
	}
	jobs := make([]JobDescriptor, 0, len(ids))
	for _, id := range ids {
		h.doc.Add(ProgressBarPrefix + id)
		h.doc.Add(ProgressBarMessagePrefix + id)
		h.doc.Add(ResultPrefix + id)
		jobs = append(jobs, JobDescriptor{JobID: id, Options: h.calls.options(id)})
	}
	h.session = InitProgress(context.Background(), Config{
		Document:     h.doc,
		Dialer:       dialerFor(h.conn),
		Emitter:      h.events,
		Policy:       policy,
		OnDiagnostic: h.diag.record,
	}, "ws://relay.test/ws/progress/", jobs)
	t.Cleanup(h.session.Close)

	require.Eventually(t, func() bool {
		return len(h.conn.Written()) == 1+len(ids)
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, StateOpen, h.session.State())
	return h
}

// settle pushes a no-op routing failure frame and waits for it so that every
// earlier frame has been dispatched.
func (h *harness) settle(t *testing.T) {
	t.Helper()
	before := len(h.diag.Errors())
	h.conn.push(`{"task_id":"__settle__"}`)
	require.Eventually(t, func() bool {
		return len(h.diag.Errors()) > before
	}, time.Second, 5*time.Millisecond)
}

func TestSessionSubscribesOnOpen(t *testing.T) {
	t.Parallel()

	h := startHarness(t, CloseWhenAllComplete, "a", "b")

	written := h.conn.Written()
	require.Len(t, written, 3)
	require.JSONEq(t, `{"type":"follow_tasks","task_ids":["a","b"]}`, written[0])
	require.JSONEq(t, `{"type":"check_task_completion","task_id":"a"}`, written[1])
	require.JSONEq(t, `{"type":"check_task_completion","task_id":"b"}`, written[2])

	h.settle(t)
	require.Len(t, h.conn.Written(), 3)
	require.Contains(t, h.events.Stages(), progress.StageSessionOpen)
}

func TestSessionRoutesProgressToConfiguredElements(t *testing.T) {
	t.Parallel()

	h := startHarness(t, CloseWhenAllComplete, "a", "b")
	h.conn.push(`{"task_id":"a","progress":{"percent":50,"current":5,"total":10}}`)
	h.settle(t)

	calls := h.calls.Calls()
	require.Len(t, calls, 1)
	require.Equal(t, "progress", calls[0].kind)
	require.Equal(t, "a", calls[0].taskID)
	require.Same(t, h.doc.Get("progress-bar-a"), calls[0].bar)
	require.Same(t, h.doc.Get("progress-bar-message-a"), calls[0].message)
	require.Equal(t, Progress{Percent: 50, Current: 5, Total: 10}, calls[0].progress)
}

func TestSessionProgressIDOverridesTargetsForOneCall(t *testing.T) {
	t.Parallel()

	h := startHarness(t, CloseWhenAllComplete, "a")
	subBar := h.doc.Add("progress-bar-a-3")
	subMsg := h.doc.Add("progress-bar-message-a-3")
	onlyBar := h.doc.Add("progress-bar-a-7")

	h.conn.push(`{"task_id":"a","progress":{"percent":50,"current":5,"total":10,"progress_id":"3"}}`)
	h.conn.push(`{"task_id":"a","progress":{"percent":60,"current":6,"total":10,"progress_id":"7"}}`)
	h.conn.push(`{"task_id":"a","progress":{"percent":70,"current":7,"total":10,"progress_id":"missing"}}`)
	h.conn.push(`{"task_id":"a","progress":{"percent":80,"current":8,"total":10}}`)
	h.settle(t)

	calls := h.calls.Calls()
	require.Len(t, calls, 4)
	require.Same(t, subBar, calls[0].bar)
	require.Same(t, subMsg, calls[0].message)
	// Only the bar has a sub-element for "7"; the message falls back.
	require.Same(t, onlyBar, calls[1].bar)
	require.Same(t, h.doc.Get("progress-bar-message-a"), calls[1].message)
	require.Same(t, h.doc.Get("progress-bar-a"), calls[2].bar)
	require.Same(t, h.doc.Get("progress-bar-message-a"), calls[2].message)
	// The stored configuration is untouched by earlier overrides.
	require.Same(t, h.doc.Get("progress-bar-a"), calls[3].bar)
}

func TestSessionCompletionFirstCompletePolicy(t *testing.T) {
	t.Parallel()

	h := startHarness(t, CloseOnFirstComplete, "a", "b")
	h.conn.push(`{"task_id":"b","complete":true,"success":true,"result":{"n":1}}`)

	require.NoError(t, h.session.Wait())
	require.Equal(t, StateClosed, h.session.State())
	require.True(t, h.conn.IsClosed())

	calls := h.calls.Calls()
	require.Len(t, calls, 2)
	require.Equal(t, "success", calls[0].kind)
	require.Equal(t, "b", calls[0].taskID)
	require.Same(t, h.doc.Get("progress-bar-b"), calls[0].bar)
	require.Same(t, h.doc.Get("progress-bar-message-b"), calls[0].message)
	require.JSONEq(t, `{"n":1}`, calls[0].result)
	require.Equal(t, "result", calls[1].kind)
	require.Same(t, h.doc.Get("celery-result-b"), calls[1].target)
	require.JSONEq(t, `{"n":1}`, calls[1].result)
}

func TestSessionCompletionWaitsForAllTasks(t *testing.T) {
	t.Parallel()

	h := startHarness(t, CloseWhenAllComplete, "a", "b")
	h.conn.push(`{"task_id":"b","complete":true,"success":false,"result":"boom"}`)
	h.settle(t)
	require.False(t, h.conn.IsClosed())
	require.Equal(t, StateOpen, h.session.State())

	// A repeated completion for b must not count twice.
	h.conn.push(`{"task_id":"b","complete":true,"success":false}`)
	h.settle(t)
	require.False(t, h.conn.IsClosed())

	h.conn.push(`{"task_id":"a","complete":true,"success":true}`)
	require.NoError(t, h.session.Wait())
	require.True(t, h.conn.IsClosed())

	var kinds []string
	for _, c := range h.calls.Calls() {
		kinds = append(kinds, c.kind+":"+c.taskID)
	}
	// The second b completion carries no result, so OnResult is skipped.
	require.Equal(t, []string{"error:b", "result:b", "error:b", "success:a"}, kinds)
}

func TestSessionProgressAndCompletionInOneMessage(t *testing.T) {
	t.Parallel()

	h := startHarness(t, CloseWhenAllComplete, "a")
	h.conn.push(`{"task_id":"a","complete":true,"success":true,"progress":{"percent":100,"current":100,"total":100},"result":"ok"}`)
	require.NoError(t, h.session.Wait())

	var kinds []string
	for _, c := range h.calls.Calls() {
		kinds = append(kinds, c.kind)
	}
	require.Equal(t, []string{"progress", "success", "result"}, kinds)
}

func TestSessionRoutingFailures(t *testing.T) {
	t.Parallel()

	h := startHarness(t, CloseWhenAllComplete, "a")
	h.conn.push(`{"progress":{"percent":1}}`)
	h.conn.push(`{"task_id":"zzz","complete":true,"success":true}`)
	h.conn.push(`not json`)
	h.conn.push(`{"error":"task_ids is required"}`)
	require.Eventually(t, func() bool {
		return len(h.diag.Errors()) == 4
	}, time.Second, 5*time.Millisecond)

	errs := h.diag.Errors()
	var routing *RoutingError
	require.ErrorAs(t, errs[0], &routing)
	require.Equal(t, ReasonNoTaskID, routing.Reason)
	require.ErrorIs(t, errs[1], ErrRouting)
	require.ErrorAs(t, errs[1], &routing)
	require.Equal(t, ReasonUnknownID, routing.Reason)
	require.Equal(t, "zzz", routing.TaskID)
	require.ErrorAs(t, errs[2], &routing)
	require.Equal(t, ReasonMalformed, routing.Reason)
	require.ErrorIs(t, errs[3], ErrRelay)

	require.Empty(t, h.calls.Calls())
	require.Equal(t, StateOpen, h.session.State())

	// Tracking of the known task continues unaffected.
	h.conn.push(`{"task_id":"a","complete":true,"success":true}`)
	require.NoError(t, h.session.Wait())
	require.Len(t, h.calls.Calls(), 1)
}

func TestSessionRecoversCallbackPanics(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	diag := &diagnostics{}
	var resultCalls int
	session := InitProgress(context.Background(), Config{
		Dialer:       dialerFor(conn),
		OnDiagnostic: diag.record,
	}, "ws://relay.test/", []JobDescriptor{{
		JobID: "a",
		Options: &Options{
			OnSuccess: func(_, _ element.Element, _ json.RawMessage) { panic("render failed") },
			OnResult:  func(_ element.Element, _ json.RawMessage) { resultCalls++ },
		},
	}})
	require.Eventually(t, func() bool { return len(conn.Written()) == 2 }, time.Second, 5*time.Millisecond)

	conn.push(`{"task_id":"a","complete":true,"success":true,"result":1}`)
	require.NoError(t, session.Wait())
	require.Equal(t, 1, resultCalls)

	errs := diag.Errors()
	require.Len(t, errs, 1)
	var cbErr *CallbackError
	require.ErrorAs(t, errs[0], &cbErr)
	require.Equal(t, "OnSuccess", cbErr.Callback)
}

func TestSessionDialFailureReportsEveryTask(t *testing.T) {
	t.Parallel()

	calls := &callLog{}
	events := &eventLog{}
	dialErr := errors.New("connection refused")
	session := InitProgress(context.Background(), Config{
		Dialer: DialerFunc(func(context.Context, string) (Conn, error) {
			return nil, dialErr
		}),
		Emitter: events,
	}, "ws://relay.test/", []JobDescriptor{
		{JobID: "a", Options: calls.options("a")},
		{JobID: "b", Options: calls.options("b")},
		{JobID: "a", Options: calls.options("a")},
	})

	err := session.Wait()
	require.ErrorIs(t, err, ErrTransport)
	require.ErrorIs(t, err, dialErr)
	require.Equal(t, StateClosed, session.State())

	got := calls.Calls()
	require.Len(t, got, 2)
	require.Equal(t, "a", got[0].taskID)
	require.Equal(t, "b", got[1].taskID)
	require.Equal(t, "error", got[0].kind)
	require.Contains(t, got[0].result, "connection refused")
	require.Contains(t, events.Stages(), progress.StageTransportFailure)
	require.Equal(t, progress.StageSessionClosed, events.Stages()[len(events.Stages())-1])
}

func TestSessionDropReportsOnlyPendingTasks(t *testing.T) {
	t.Parallel()

	h := startHarness(t, CloseWhenAllComplete, "a", "b")
	h.conn.push(`{"task_id":"a","complete":true,"success":true}`)
	h.settle(t)
	h.conn.drop()

	err := h.session.Wait()
	require.ErrorIs(t, err, ErrTransport)

	var kinds []string
	for _, c := range h.calls.Calls() {
		kinds = append(kinds, c.kind+":"+c.taskID)
	}
	require.Equal(t, []string{"success:a", "error:b"}, kinds)
}

func TestSessionCloseCancels(t *testing.T) {
	t.Parallel()

	h := startHarness(t, CloseWhenAllComplete, "a")
	h.session.Close()
	h.session.Close()

	err := h.session.Wait()
	require.ErrorIs(t, err, context.Canceled)
	require.True(t, h.conn.IsClosed())
	require.Empty(t, h.calls.Calls())
}

func TestSessionContextCancel(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	ctx, cancel := context.WithCancel(context.Background())
	session := InitProgress(ctx, Config{Dialer: dialerFor(conn)}, "ws://relay.test/", []JobDescriptor{{JobID: "a"}})
	require.Eventually(t, func() bool { return session.State() == StateOpen }, time.Second, 5*time.Millisecond)

	cancel()
	require.ErrorIs(t, session.Wait(), context.Canceled)
}

func TestSessionCloseBeforeStart(t *testing.T) {
	t.Parallel()

	session := NewSession(Config{}, "ws://relay.test/", []JobDescriptor{{JobID: "a"}})
	require.Equal(t, StateIdle, session.State())
	session.Close()
	require.ErrorIs(t, session.Wait(), context.Canceled)
	require.Equal(t, StateClosed, session.State())

	// Start after Close is a no-op.
	session.Start(context.Background())
	require.Equal(t, StateClosed, session.State())
}

func TestSessionWithoutJobsClosesAfterSubscribing(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	session := InitProgress(context.Background(), Config{Dialer: dialerFor(conn)}, "ws://relay.test/", nil)
	require.NoError(t, session.Wait())
	require.Equal(t, []string{`{"type":"follow_tasks","task_ids":[]}`}, conn.Written())
	require.True(t, conn.IsClosed())
}

func TestSessionSubscribeWriteFailure(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	conn.writeErr = errors.New("broken pipe")
	calls := &callLog{}
	session := InitProgress(context.Background(), Config{Dialer: dialerFor(conn)}, "ws://relay.test/",
		[]JobDescriptor{{JobID: "a", Options: calls.options("a")}})

	err := session.Wait()
	require.ErrorIs(t, err, ErrTransport)
	require.ErrorContains(t, err, "follow_tasks")
	require.Len(t, calls.Calls(), 1)
	require.True(t, conn.IsClosed())
}

func TestStateString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "idle", StateIdle.String())
	require.Equal(t, "connecting", StateConnecting.String())
	require.Equal(t, "open", StateOpen.String())
	require.Equal(t, "closed", StateClosed.String())
	require.Equal(t, "state(9)", State(9).String())
}
