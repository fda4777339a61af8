package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memTokens struct {
	mu      sync.Mutex
	access  string
	refresh string
}

func (m *memTokens) Tokens() (string, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.access, m.refresh
}

func (m *memTokens) SaveTokens(a, r string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.access, m.refresh = a, r
	return nil
}

func TestSubmitBatchGzipAndBearer(t *testing.T) {
	var got struct {
		Events []ActivityEvent `json:"events"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/activity/batch", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "gzip", r.Header.Get("Content-Encoding"))
		zr, err := gzip.NewReader(r.Body)
		if !assert.NoError(t, err) {
			return
		}
		assert.NoError(t, json.NewDecoder(zr).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"inserted":2}`))
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client(), &memTokens{access: "tok"})
	start := time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)
	n, err := c.SubmitBatch(context.Background(), []ActivityEvent{
		{StartedAt: start, EndedAt: start.Add(time.Minute), AppName: "code"},
		{StartedAt: start.Add(time.Minute), EndedAt: start.Add(2 * time.Minute), AppName: "firefox", Idle: true},
	})
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Len(t, got.Events, 2)
	require.Equal(t, "firefox", got.Events[1].AppName)
	require.True(t, got.Events[1].Idle)
}

func TestRefreshOnceOn401(t *testing.T) {
	var calls, refreshes int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/refresh":
			refreshes++
			var body map[string]string
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "r1", body["refreshToken"])
			_, _ = w.Write([]byte(`{"accessToken":"a2","refreshToken":"r2"}`))
		case "/time/stop":
			calls++
			if r.Header.Get("Authorization") != "Bearer a2" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	tokens := &memTokens{access: "a1", refresh: "r1"}
	c := New(srv.URL, srv.Client(), tokens)
	require.NoError(t, c.StopTime(context.Background()))
	require.Equal(t, 2, calls)
	require.Equal(t, 1, refreshes)
	a, r := tokens.Tokens()
	require.Equal(t, "a2", a)
	require.Equal(t, "r2", r)
}

func TestUnauthorizedAfterRefreshFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client(), &memTokens{access: "a1", refresh: "r1"})
	err := c.StopTime(context.Background())
	require.ErrorIs(t, err, ErrUnauthorized)
	require.False(t, IsTransient(err))
}

func TestIsTransient(t *testing.T) {
	require.True(t, IsTransient(&StatusError{Status: 503}))
	require.True(t, IsTransient(&StatusError{Status: 429}))
	require.False(t, IsTransient(&StatusError{Status: 400}))
	require.False(t, IsTransient(nil))
	require.True(t, IsTransient(context.DeadlineExceeded))

	c := New("http://127.0.0.1:1", nil, &memTokens{})
	_, err := c.SubmitBatch(context.Background(), nil)
	require.Error(t, err)
	require.True(t, IsTransient(err))
}

func TestUploadScreenshotPresignsAgainAfterConfirmFailure(t *testing.T) {
	var mu sync.Mutex
	var presigns, puts int
	failConfirm := true
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case r.URL.Path == "/screenshots/presign":
			presigns++
			id := "shot-" + string(rune('0'+presigns))
			_ = json.NewEncoder(w).Encode(Presigned{ScreenshotID: id, UploadURL: srv.URL + "/blob/" + id})
		case r.Method == http.MethodPut:
			puts++
			assert.Equal(t, "image/jpeg", r.Header.Get("Content-Type"))
			assert.Empty(t, r.Header.Get("Authorization"))
			body, _ := io.ReadAll(r.Body)
			assert.Equal(t, "jpegbytes", string(body))
		case r.URL.Path == "/screenshots/complete/shot-1" && failConfirm:
			w.WriteHeader(http.StatusBadGateway)
		case r.URL.Path == "/screenshots/complete/shot-2":
			var body map[string]int64
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.EqualValues(t, 9, body["sizeBytes"])
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "shot.jpg")
	require.NoError(t, os.WriteFile(path, []byte("jpegbytes"), 0o600))

	c := New(srv.URL, srv.Client(), &memTokens{access: "tok"})
	taken := time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)

	err := c.UploadScreenshot(context.Background(), path, taken, nil)
	require.Error(t, err)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	require.Equal(t, http.StatusBadGateway, se.Status)

	require.NoError(t, c.UploadScreenshot(context.Background(), path, taken, nil))
	require.Equal(t, 2, presigns)
	require.Equal(t, 2, puts)
}

func TestLoginStoresTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "tenant-1", body["tenantId"])
		_, _ = w.Write([]byte(`{"accessToken":"a","refreshToken":"r","tenantId":"tenant-1","user":{"id":"u-1"}}`))
	}))
	defer srv.Close()

	tokens := &memTokens{}
	c := New(srv.URL, srv.Client(), tokens)
	res, err := c.Login(context.Background(), "ana@example.com", "pw", "tenant-1")
	require.NoError(t, err)
	require.Equal(t, "u-1", res.User.ID)
	a, r := tokens.Tokens()
	require.Equal(t, "a", a)
	require.Equal(t, "r", r)
}

func TestCaptureIntervalAndRegister(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/policies/capture/u-1":
			_, _ = w.Write([]byte(`{"userId":"u-1","intervalSeconds":300}`))
		case "/devices/register":
			var body map[string]string
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "laptop", body["deviceName"])
			_, _ = w.Write([]byte(`{"id":"dev-9","name":"laptop","platform":"linux"}`))
		}
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client(), &memTokens{access: "tok"})
	interval, err := c.CaptureInterval(context.Background(), "u-1")
	require.NoError(t, err)
	require.Equal(t, 5*time.Minute, interval)

	id, err := c.RegisterDevice(context.Background(), "laptop", "linux")
	require.NoError(t, err)
	require.Equal(t, "dev-9", id)
}

func TestSubjectOf(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u-7"}).SignedString([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, "u-7", SubjectOf(token))
	require.Empty(t, SubjectOf("garbage"))
}
