package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"

	"example.com/worktrack/internal/agent/client"
	"example.com/worktrack/internal/agent/probe"
	"example.com/worktrack/internal/agent/queue"
	"example.com/worktrack/internal/agent/sampler"
	"example.com/worktrack/internal/api"
	"example.com/worktrack/internal/auth"
	"example.com/worktrack/internal/clock"
	"example.com/worktrack/internal/domain"
	"example.com/worktrack/internal/persistence/memory"
)

type noObjects struct{}

func (noObjects) PresignPut(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://storage.test/" + key, nil
}

func (noObjects) Delete(context.Context, string) error { return nil }

type desktop struct {
	mu  sync.Mutex
	app string
}

func (d *desktop) set(app string) {
	d.mu.Lock()
	d.app = app
	d.mu.Unlock()
}

func (d *desktop) Observe(context.Context) (probe.Observation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return probe.Observation{AppName: d.app}, nil
}

type staticTokens struct{ access string }

func (s staticTokens) Tokens() (string, string) { return s.access, "" }

func (staticTokens) SaveTokens(string, string) error { return nil }

// ingestRecorder notes the app names of each accepted batch in arrival
// order and drops connections while offline is set.
type ingestRecorder struct {
	next    http.Handler
	offline atomic.Bool
	mu      sync.Mutex
	apps    []string
}

func (rec *ingestRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if rec.offline.Load() {
		conn, _, err := w.(http.Hijacker).Hijack()
		if err == nil {
			conn.Close()
		}
		return
	}
	if r.URL.Path == "/activity/batch" {
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if zr, err := gzip.NewReader(bytes.NewReader(raw)); err == nil {
			var batch struct {
				Events []struct {
					AppName string `json:"appName"`
				} `json:"events"`
			}
			if json.NewDecoder(zr).Decode(&batch) == nil {
				rec.mu.Lock()
				for _, ev := range batch.Events {
					rec.apps = append(rec.apps, ev.AppName)
				}
				rec.mu.Unlock()
			}
		}
		r.Body = io.NopCloser(bytes.NewReader(raw))
	}
	rec.next.ServeHTTP(w, r)
}

func TestSegmentsDeliveredInOrderAfterReconnect(t *testing.T) {
	ctx := context.Background()
	authCfg := auth.Config{Secret: "test-secret", Issuer: "worktrack"}

	store := memory.NewStore()
	service := domain.NewService(store.Repositories(), noObjects{})
	mux := http.NewServeMux()
	api.NewHandler(service, nil).RegisterRoutes(mux)
	rec := &ingestRecorder{next: auth.NewMiddleware(authCfg, nil).Wrap(mux)}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":       "emp-1",
		"tenant_id": "tenant-1",
		"role":      "employee",
		"iss":       "worktrack",
		"exp":       time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(authCfg.Secret))
	require.NoError(t, err)

	q, err := queue.Open(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	defer q.Close()

	clk := clock.Fake(t0)
	screen := &desktop{app: "App A"}
	s := sampler.New(screen, q, clk, sampler.Config{IdleThreshold: 3 * time.Minute, MaxSegment: 10 * time.Minute})
	agent := New(q, client.New(srv.URL, srv.Client(), staticTokens{access: token}), clk, Config{ActivityBatchSize: 1})

	s.Start()
	require.NoError(t, s.Tick(ctx))
	clk.Advance(time.Minute)
	require.NoError(t, s.Tick(ctx))
	clk.Advance(time.Minute)
	screen.set("App B")
	require.NoError(t, s.Tick(ctx))
	clk.Advance(3 * time.Minute)
	require.NoError(t, s.Stop(ctx))

	rec.offline.Store(true)
	_, err = agent.FlushActivities(ctx)
	require.Error(t, err)
	require.True(t, client.IsTransient(err))
	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, stats.Activities)

	rec.offline.Store(false)
	for {
		n, err := agent.FlushActivities(ctx)
		require.NoError(t, err)
		if n == 0 {
			break
		}
	}

	require.Equal(t, []string{"App A", "App B"}, rec.apps)
	stats, err = q.Stats(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.Activities)

	stored, err := store.Repositories().Activity.Within(ctx, "tenant-1", "emp-1", t0, t0.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, stored, 2)
	require.True(t, t0.Equal(stored[0].StartedAt))
	require.True(t, t0.Add(2*time.Minute).Equal(stored[0].EndedAt))
	require.Equal(t, "App A", stored[0].AppName)
	require.True(t, t0.Add(2*time.Minute).Equal(stored[1].StartedAt))
	require.True(t, t0.Add(5*time.Minute).Equal(stored[1].EndedAt))
	require.Equal(t, "App B", stored[1].AppName)
	require.False(t, stored[1].Idle)
}
