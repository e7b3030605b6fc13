package tracker

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseInboundProgress(t *testing.T) {
	t.Parallel()

	msg, err := ParseInbound([]byte(`{"task_id":"a","progress":{"percent":50,"current":5,"total":10,"description":"half","progress_id":3}}`))
	require.NoError(t, err)
	require.Equal(t, "a", msg.JobID())
	require.NotNil(t, msg.Progress)
	require.Equal(t, Progress{Percent: 50, Current: 5, Total: 10, Description: "half", ProgressID: "3"}, *msg.Progress)
	require.False(t, msg.Complete)
	require.False(t, msg.HasResult())
}

func TestParseInboundFallsBackToID(t *testing.T) {
	t.Parallel()

	msg, err := ParseInbound([]byte(`{"id":42,"complete":true,"success":false,"result":"boom"}`))
	require.NoError(t, err)
	require.Equal(t, "42", msg.JobID())
	require.True(t, msg.Complete)
	require.False(t, msg.Succeeded())
	require.Equal(t, `"boom"`, string(msg.Result))
}

func TestParseInboundNullResultIsAbsent(t *testing.T) {
	t.Parallel()

	msg, err := ParseInbound([]byte(`{"task_id":"a","complete":false,"success":null,"progress":null,"result":null}`))
	require.NoError(t, err)
	require.Nil(t, msg.Progress)
	require.Nil(t, msg.Success)
	require.False(t, msg.HasResult())
}

func TestParseInboundFalsyResultIsPresent(t *testing.T) {
	t.Parallel()

	msg, err := ParseInbound([]byte(`{"task_id":"a","complete":true,"success":true,"result":0}`))
	require.NoError(t, err)
	require.True(t, msg.HasResult())
	require.Equal(t, "0", string(msg.Result))
}

func TestParseInboundRejectsMalformed(t *testing.T) {
	t.Parallel()

	for name, frame := range map[string]string{
		"not json":         `hello`,
		"object task id":   `{"task_id":{"x":1}}`,
		"bool progress id": `{"task_id":"a","progress":{"progress_id":true}}`,
		"string complete":  `{"task_id":"a","complete":"yes"}`,
	} {
		_, err := ParseInbound([]byte(frame))
		require.Error(t, err, name)
	}
}

func TestOutboundRequestShapes(t *testing.T) {
	t.Parallel()

	follow, err := json.Marshal(FollowTasksRequest{Type: RequestFollowTasks, TaskIDs: []string{"a", "b"}})
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"follow_tasks","task_ids":["a","b"]}`, string(follow))

	check, err := json.Marshal(CheckTaskCompletionRequest{Type: RequestCheckTaskCompletion, TaskID: "a"})
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"check_task_completion","task_id":"a"}`, string(check))
}
