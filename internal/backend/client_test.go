package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mibworks/tasktrack/internal/task"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	c, err := New(Config{BaseURL: ts.URL, Namespace: "mib", APIKey: "sekrit"})
	require.NoError(t, err)
	return c
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Namespace: "mib"})
	require.Error(t, err)

	_, err = New(Config{BaseURL: "http://host"})
	require.Error(t, err)

	_, err = New(Config{BaseURL: "ftp://host", Namespace: "mib"})
	require.Error(t, err)
}

func TestListTasksDecodesAndNormalizes(t *testing.T) {
	t.Parallel()

	var gotPath, gotKey, gotReqID string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-API-Key")
		gotReqID = r.Header.Get("X-Request-ID")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"success": true,
			"tasks": [
				{"id": "1", "kind": "parse", "status": "started", "percentage": 40, "phase": "compiling"},
				{"id": "2", "kind": "sync-one", "status": "complete", "progress": 100},
				{"id": "", "status": "running"},
				{"id": "3", "status": "exploded"}
			]
		}`))
	}))

	recs, err := client.ListTasks(context.Background())
	require.NoError(t, err)
	require.Equal(t, "/api/v1/mib/tasks", gotPath)
	require.Equal(t, "sekrit", gotKey)
	require.NotEmpty(t, gotReqID)

	// Rows without an id or with an unknown status are skipped.
	require.Len(t, recs, 2)
	require.Equal(t, task.StatusRunning, recs[0].Status)
	require.Equal(t, 40.0, recs[0].Progress)
	require.Equal(t, task.StatusCompleted, recs[1].Status)
}

func TestListTasksBackendFailure(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success": false}`))
	}))
	_, err := client.ListTasks(context.Background())
	require.Error(t, err)
}

func TestListTasksHTTPError(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	_, err := client.ListTasks(context.Background())
	require.Error(t, err)
}

func TestPollInterval(t *testing.T) {
	t.Parallel()

	var gotPath string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"success": true, "poll_interval_seconds": 15}`))
	}))

	interval, err := client.PollInterval(context.Background())
	require.NoError(t, err)
	require.Equal(t, "/api/v1/mib/config", gotPath)
	require.Equal(t, 15*time.Second, interval)
}
