package relay_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-task-progress/internal/element"
	"github.com/JakeFAU/realtime-task-progress/internal/relay"
	"github.com/JakeFAU/realtime-task-progress/internal/tracker"
)

func startRelay(t *testing.T) (*relay.Server, *relay.MemorySource, string) {
	t.Helper()
	groups := relay.NewGroups(nil)
	source := relay.NewMemorySource(groups)
	srv := relay.NewServer(relay.Config{Groups: groups, Source: source})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return srv, source, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var out map[string]any
	require.NoError(t, conn.ReadJSON(&out))
	return out
}

func TestServerHealthz(t *testing.T) {
	t.Parallel()

	srv := relay.NewServer(relay.Config{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServerMetrics(t *testing.T) {
	t.Parallel()

	srv := relay.NewServer(relay.Config{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "relay_clients")
}

func TestServerRejectsPlainHTTPOnWebsocketRoute(t *testing.T) {
	t.Parallel()

	srv := relay.NewServer(relay.Config{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws/progress/", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServerMultiTaskFollowAndPublish(t *testing.T) {
	t.Parallel()

	srv, source, base := startRelay(t)
	conn := dial(t, base+"/ws/progress/")

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "follow_tasks", "task_ids": []string{"a"}}))
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "check_task_completion", "task_id": "a"}))
	msg := readJSON(t, conn)
	require.Equal(t, "a", msg["task_id"])
	require.Equal(t, false, msg["complete"])

	require.Equal(t, 1, srv.Groups().Followers("a"))
	_, err := source.Recorder("a").SetProgress(5, 10, "half", "")
	require.NoError(t, err)
	msg = readJSON(t, conn)
	require.InDelta(t, 50.0, msg["progress"].(map[string]any)["percent"], 1e-9)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "unfollow_task", "task_id": "nope"}))
	msg = readJSON(t, conn)
	require.Equal(t, "task_id is not valid nope", msg["error"])
}

func TestServerUnfollowsOnDisconnect(t *testing.T) {
	t.Parallel()

	srv, _, base := startRelay(t)
	conn := dial(t, base+"/ws/progress/")
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "follow_task", "task_id": "a"}))
	require.Eventually(t, func() bool { return srv.Groups().Followers("a") == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return srv.Groups().Followers("a") == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestServerSingleTaskRoute(t *testing.T) {
	t.Parallel()

	srv, source, base := startRelay(t)
	conn := dial(t, base+"/ws/progress/job-9/")
	require.Eventually(t, func() bool { return srv.Groups().Followers("job-9") == 1 }, time.Second, 5*time.Millisecond)

	_, err := source.Recorder("job-9").Succeed("ok")
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "check_task_completion"}))

	for i := 0; i < 2; i++ {
		msg := readJSON(t, conn)
		require.Equal(t, "job-9", msg["task_id"])
		require.Equal(t, true, msg["complete"])
		require.Equal(t, "ok", msg["result"])
	}
}

func TestTrackerAgainstRelay(t *testing.T) {
	t.Parallel()

	srv, source, base := startRelay(t)
	doc := element.NewMemoryDocument()
	for _, id := range []string{"a", "b"} {
		doc.Add(tracker.ProgressBarPrefix + id)
		doc.Add(tracker.ProgressBarMessagePrefix + id)
		doc.Add(tracker.ResultPrefix + id)
	}
	// b finished before the tracker connected; its status check answers it.
	_, err := source.Recorder("b").Fail(errBoom{})
	require.NoError(t, err)

	session := tracker.InitProgress(context.Background(), tracker.Config{Document: doc}, base+"/ws/progress/",
		[]tracker.JobDescriptor{{JobID: "a"}, {JobID: "b"}})
	require.Eventually(t, func() bool { return srv.Groups().Followers("a") == 1 }, 2*time.Second, 5*time.Millisecond)

	rec := source.Recorder("a")
	_, err = rec.SetProgress(1, 4, "warming up", "")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return doc.Get("progress-bar-a").Style("width") == "25%"
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, "1 of 4 processed. warming up", doc.Get("progress-bar-message-a").Content())

	result, _ := json.Marshal(map[string]int{"rows": 4})
	_, err = source.Publish(relay.CompletedInfo("a", true, result))
	require.NoError(t, err)

	select {
	case <-session.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not close after every task completed")
	}
	require.NoError(t, session.Wait())

	require.Equal(t, tracker.SuccessColor, doc.Get("progress-bar-a").Style("background-color"))
	require.Equal(t, "Success!", doc.Get("progress-bar-message-a").Content())
	require.JSONEq(t, `{"rows":4}`, doc.Get("celery-result-a").Content())
	require.Equal(t, tracker.ErrorColor, doc.Get("progress-bar-b").Style("background-color"))
	require.Equal(t, "Uh-Oh, something went wrong! boom", doc.Get("progress-bar-message-b").Content())
	require.Equal(t, "boom", doc.Get("celery-result-b").Content())
}

type errBoom struct{}

func (errBoom) Error() string { return "boom" }
