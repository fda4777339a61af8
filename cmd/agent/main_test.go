package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/worktrack/internal/agent/queue"
	"example.com/worktrack/internal/agent/state"
)

func executeCommand(args ...string) (string, error) {
	root := newRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	_, err := root.ExecuteC()
	return buf.String(), err
}

func TestStatusReportsQueueDepth(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("AGENT_DATA_DIR", dir)

	q, err := queue.Open(filepath.Join(dir, "queue.db"))
	require.NoError(t, err)
	start := time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)
	_, err = q.EnqueueActivity(context.Background(), queue.Segment{StartedAt: start, EndedAt: start.Add(time.Minute), AppName: "code"})
	require.NoError(t, err)
	require.NoError(t, q.Close())

	out, err := executeCommand("status")
	require.NoError(t, err)
	require.Contains(t, out, "not logged in")
	require.Contains(t, out, "Queued segments: 1")
	require.Contains(t, out, "Queued screenshots: 0")

	out, err = executeCommand("queue")
	require.NoError(t, err)
	require.Contains(t, out, "segment 1")
	require.Contains(t, out, "code")
}

func TestRunRequiresLogin(t *testing.T) {
	t.Setenv("AGENT_DATA_DIR", t.TempDir())
	_, err := executeCommand("run")
	require.ErrorContains(t, err, "not logged in")
}

func TestLoginStoresIdentityAndDevice(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("AGENT_DATA_DIR", dir)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/login":
			_, _ = w.Write([]byte(`{"accessToken":"a","refreshToken":"r","tenantId":"tenant-1","user":{"id":"emp-1"}}`))
		case "/devices/register":
			if r.Header.Get("Authorization") != "Bearer a" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "dev-1"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	out, err := executeCommand("login", "--server", srv.URL, "--email", "ana@example.com", "--password", "pw", "--tenant", "tenant-1")
	require.NoError(t, err, out)
	require.Contains(t, out, "Logged in as emp-1")

	st, err := state.Open(filepath.Join(dir, "state.json"))
	require.NoError(t, err)
	got := st.Get()
	require.Equal(t, srv.URL, got.APIURL)
	require.Equal(t, "emp-1", got.UserID)
	require.Equal(t, "dev-1", got.DeviceID)
	access, refresh := st.Tokens()
	require.Equal(t, "a", access)
	require.Equal(t, "r", refresh)
}
