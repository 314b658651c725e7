package wire

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mibworks/tasktrack/internal/task"
)

func TestTopicRoundTrip(t *testing.T) {
	t.Parallel()

	require.Equal(t, "task:42", Topic("42"))

	id, ok := TaskID("task:42")
	require.True(t, ok)
	require.Equal(t, "42", id)

	_, ok = TaskID(TopicAll)
	require.False(t, ok)
	_, ok = TaskID("job:42")
	require.False(t, ok)
	_, ok = TaskID("task:")
	require.False(t, ok)
}

func TestDecodeEnvelope(t *testing.T) {
	t.Parallel()

	env, err := Decode([]byte(`{"topic":"task:7","data":{"status":"running","progress":55,"eta_seconds":12}}`))
	require.NoError(t, err)
	require.Equal(t, "task:7", env.Topic)

	st, ok := env.Data.NormalizedStatus()
	require.True(t, ok)
	require.Equal(t, task.StatusRunning, st)

	pct, ok := env.Data.Percent()
	require.True(t, ok)
	require.Equal(t, 55.0, pct)
	require.NotNil(t, env.Data.ETASeconds)
	require.Equal(t, 12.0, *env.Data.ETASeconds)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := Decode([]byte(`not json`))
	require.Error(t, err)

	_, err = Decode([]byte(`{"data":{}}`))
	require.Error(t, err)
}

func TestNormalizeStatusAliases(t *testing.T) {
	t.Parallel()

	cases := map[string]task.Status{
		"started":     task.StatusRunning,
		"in_progress": task.StatusRunning,
		"complete":    task.StatusCompleted,
		"Completed":   task.StatusCompleted,
		"error":       task.StatusFailed,
		"failure":     task.StatusFailed,
		"canceled":    task.StatusCancelled,
		"cancelled":   task.StatusCancelled,
		"pending":     task.StatusQueued,
	}
	for raw, want := range cases {
		got, ok := NormalizeStatus(raw)
		require.True(t, ok, raw)
		require.Equal(t, want, got, raw)
	}

	_, ok := NormalizeStatus("exploded")
	require.False(t, ok)
}

func TestPercentPrefersProgressAndClamps(t *testing.T) {
	t.Parallel()

	progress := 30.0
	percentage := 80.0
	u := Update{Progress: &progress, Percentage: &percentage}
	got, ok := u.Percent()
	require.True(t, ok)
	require.Equal(t, 30.0, got)

	over := 250.0
	got, ok = Update{Percentage: &over}.Percent()
	require.True(t, ok)
	require.Equal(t, 100.0, got)

	under := -3.0
	got, ok = Update{Progress: &under}.Percent()
	require.True(t, ok)
	require.Equal(t, 0.0, got)

	_, ok = Update{}.Percent()
	require.False(t, ok)
}

func TestItemPrefersCurrentItem(t *testing.T) {
	t.Parallel()

	require.Equal(t, "ifTable", Update{CurrentTable: "ifTable"}.Item())
	require.Equal(t, "x", Update{CurrentItem: "x", CurrentTable: "ifTable"}.Item())
	require.Empty(t, Update{}.Item())
}

func TestEndpointURL(t *testing.T) {
	t.Parallel()

	got, err := EndpointURL("https://dash.example.com", "mib", "42")
	require.NoError(t, err)
	require.Equal(t, "wss://dash.example.com/api/v1/mib/ws/42", got)

	got, err = EndpointURL("http://localhost:8080/", "mib", "")
	require.NoError(t, err)
	require.Equal(t, "ws://localhost:8080/api/v1/mib/ws/all", got)

	_, err = EndpointURL("ftp://host", "mib", "1")
	require.Error(t, err)

	_, err = EndpointURL("http://host", "", "1")
	require.Error(t, err)
}
