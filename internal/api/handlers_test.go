package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"

	"example.com/worktrack/internal/auth"
	"example.com/worktrack/internal/domain"
	"example.com/worktrack/internal/persistence/memory"
)

type stubObjectStore struct{}

func (stubObjectStore) PresignPut(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://storage.test/" + key, nil
}

func (stubObjectStore) Delete(context.Context, string) error { return nil }

type testServer struct {
	mux   *http.ServeMux
	store *memory.Store
	now   time.Time
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		mux:   http.NewServeMux(),
		store: memory.NewStore(),
		now:   time.Date(2025, time.March, 3, 9, 0, 0, 0, time.UTC),
	}
	service := domain.NewService(ts.store.Repositories(), stubObjectStore{}, domain.WithClock(func() time.Time { return ts.now }))
	NewHandler(service, nil).RegisterRoutes(ts.mux)
	return ts
}

func claimsFor(userID string, role auth.Role) *auth.Claims {
	return &auth.Claims{Subject: userID, TenantID: "tenant-1", Role: role, ExpiresAt: time.Now().Add(time.Hour)}
}

func (ts *testServer) do(t *testing.T, claims *auth.Claims, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if claims != nil {
		req = req.WithContext(auth.WithClaims(req.Context(), claims))
	}
	rr := httptest.NewRecorder()
	ts.mux.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func TestIngestBatchAcceptsGzip(t *testing.T) {
	ts := newTestServer(t)
	start := ts.now.Add(-time.Minute)
	payload, err := json.Marshal(ActivityBatchRequest{Events: []ActivityEventRequest{
		{StartedAt: start, EndedAt: start.Add(30 * time.Second), AppName: "code"},
		{StartedAt: start.Add(30 * time.Second), EndedAt: start.Add(time.Minute), AppName: "chrome", Idle: true},
	}})
	require.NoError(t, err)

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err = zw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	req := httptest.NewRequest(http.MethodPost, "/activity/batch", &buf)
	req.Header.Set("Content-Encoding", "gzip")
	req = req.WithContext(auth.WithClaims(req.Context(), claimsFor("emp-1", auth.RoleEmployee)))
	rr := httptest.NewRecorder()
	ts.mux.ServeHTTP(rr, req)

	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	require.Equal(t, 2, decode[ActivityBatchResponse](t, rr).Inserted)
	require.Equal(t, 2, ts.store.ActivityCount("tenant-1", "emp-1"))
}

func TestIngestBatchRejectsInvalidBatches(t *testing.T) {
	ts := newTestServer(t)
	claims := claimsFor("emp-1", auth.RoleEmployee)

	rr := ts.do(t, claims, http.MethodPost, "/activity/batch", ActivityBatchRequest{Events: []ActivityEventRequest{}})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "validation_failed", decode[map[string]string](t, rr)["type"])

	rr = ts.do(t, claims, http.MethodPost, "/activity/batch", ActivityBatchRequest{Events: []ActivityEventRequest{
		{StartedAt: ts.now, EndedAt: ts.now.Add(time.Second), AppName: "code"},
		{StartedAt: ts.now, EndedAt: ts.now.Add(-time.Second), AppName: "code"},
	}})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Zero(t, ts.store.ActivityCount("tenant-1", "emp-1"))
}

func TestRequestsWithoutClaimsAreUnauthorized(t *testing.T) {
	ts := newTestServer(t)
	rr := ts.do(t, nil, http.MethodGet, "/time", nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestTimeEntryConflicts(t *testing.T) {
	ts := newTestServer(t)
	claims := claimsFor("emp-1", auth.RoleEmployee)

	rr := ts.do(t, claims, http.MethodPost, "/time/stop", nil)
	require.Equal(t, http.StatusConflict, rr.Code)

	rr = ts.do(t, claims, http.MethodPost, "/time/start", nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	entry := decode[TimeEntryView](t, rr)
	require.Nil(t, entry.EndedAt)

	rr = ts.do(t, claims, http.MethodPost, "/time/start", StartTimeRequest{})
	require.Equal(t, http.StatusConflict, rr.Code)

	early := ts.now.Add(-time.Hour)
	rr = ts.do(t, claims, http.MethodPost, "/time/stop", StopTimeRequest{EndedAt: &early})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	ts.now = ts.now.Add(2 * time.Hour)
	rr = ts.do(t, claims, http.MethodPost, "/time/stop", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, decode[TimeEntryView](t, rr).EndedAt)
}

func TestActiveSessionsRequireObserverRole(t *testing.T) {
	ts := newTestServer(t)
	emp := claimsFor("emp-1", auth.RoleEmployee)

	rr := ts.do(t, emp, http.MethodPost, "/time/start", nil)
	require.Equal(t, http.StatusCreated, rr.Code)
	rr = ts.do(t, emp, http.MethodPost, "/activity/batch", ActivityBatchRequest{Events: []ActivityEventRequest{
		{StartedAt: ts.now, EndedAt: ts.now.Add(time.Minute), AppName: "terminal", Idle: true},
	}})
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = ts.do(t, emp, http.MethodGet, "/time/active", nil)
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = ts.do(t, claimsFor("mgr-1", auth.RoleManager), http.MethodGet, "/time/active", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	rows := decode[[]LiveSessionView](t, rr)
	require.Len(t, rows, 1)
	require.Equal(t, "emp-1", rows[0].UserID)
	require.Equal(t, "idle", rows[0].Status)
	require.NotNil(t, rows[0].LastApp)
	require.Equal(t, "terminal", *rows[0].LastApp)
}

func TestSessionDetailVisibility(t *testing.T) {
	ts := newTestServer(t)
	emp := claimsFor("emp-1", auth.RoleEmployee)

	rr := ts.do(t, emp, http.MethodPost, "/time/start", nil)
	require.Equal(t, http.StatusCreated, rr.Code)
	entry := decode[TimeEntryView](t, rr)

	rr = ts.do(t, emp, http.MethodGet, "/time/"+entry.ID+"/session", nil)
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = ts.do(t, claimsFor("mgr-1", auth.RoleManager), http.MethodGet, "/time/"+entry.ID+"/session", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	detail := decode[SessionDetailView](t, rr)
	require.Equal(t, entry.ID, detail.Entry.ID)

	rr = ts.do(t, claimsFor("mgr-1", auth.RoleManager), http.MethodGet, "/time/missing/session", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestListActivityRejectsBadQuery(t *testing.T) {
	ts := newTestServer(t)
	mgr := claimsFor("mgr-1", auth.RoleManager)

	rr := ts.do(t, mgr, http.MethodGet, "/activity?userId=emp-1&from=yesterday", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = ts.do(t, mgr, http.MethodGet, "/activity?userId=emp-1&cursor=%21%21", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = ts.do(t, mgr, http.MethodGet, "/activity?userId=emp-1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Empty(t, decode[ListActivityResponse](t, rr).Items)
}

func TestScreenshotPresignAndComplete(t *testing.T) {
	ts := newTestServer(t)
	emp := claimsFor("emp-1", auth.RoleEmployee)

	rr := ts.do(t, emp, http.MethodPost, "/screenshots/presign", PresignRequest{})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	presigned := decode[PresignResponse](t, rr)
	require.Contains(t, presigned.StorageKey, "tenant-1/emp-1/2025/03/03/")
	require.NotNil(t, presigned.ExpiresAt)
	require.True(t, ts.now.AddDate(0, 0, 15).Equal(*presigned.ExpiresAt))

	size := int64(2048)
	rr = ts.do(t, emp, http.MethodPost, "/screenshots/complete/"+presigned.ScreenshotID, CompleteRequest{SizeBytes: &size})
	require.Equal(t, http.StatusOK, rr.Code)
	shot := decode[ScreenshotView](t, rr)
	require.NotNil(t, shot.SizeBytes)
	require.Equal(t, size, *shot.SizeBytes)

	rr = ts.do(t, claimsFor("emp-2", auth.RoleEmployee), http.MethodPost, "/screenshots/complete/"+presigned.ScreenshotID, nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCapturePolicyEndpoints(t *testing.T) {
	ts := newTestServer(t)
	emp := claimsFor("emp-1", auth.RoleEmployee)
	mgr := claimsFor("mgr-1", auth.RoleManager)

	rr := ts.do(t, emp, http.MethodGet, "/policies/capture/emp-1", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = ts.do(t, emp, http.MethodPut, "/policies/capture/emp-1", CapturePolicyRequest{IntervalSeconds: 300})
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = ts.do(t, mgr, http.MethodPut, "/policies/capture/emp-1", CapturePolicyRequest{IntervalSeconds: 30})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = ts.do(t, mgr, http.MethodPut, "/policies/capture/emp-1", CapturePolicyRequest{IntervalSeconds: 300})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = ts.do(t, emp, http.MethodGet, "/policies/capture/emp-1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, 300, decode[CapturePolicyView](t, rr).IntervalSeconds)
}

func TestRetentionPolicyDistinguishesNullFromAbsent(t *testing.T) {
	ts := newTestServer(t)
	mgr := claimsFor("mgr-1", auth.RoleManager)

	rr := ts.do(t, mgr, http.MethodGet, "/policies/retention", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	initial := decode[RetentionPolicyView](t, rr)
	require.NotNil(t, initial.ScreenshotRetentionDays)
	require.Equal(t, 15, *initial.ScreenshotRetentionDays)

	rr = ts.do(t, mgr, http.MethodPut, "/policies/retention", json.RawMessage(`{"screenshotRetentionDays":null,"activityRetentionDays":30}`))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	updated := decode[RetentionPolicyView](t, rr)
	require.Nil(t, updated.ScreenshotRetentionDays)
	require.NotNil(t, updated.ActivityRetentionDays)
	require.Equal(t, 30, *updated.ActivityRetentionDays)

	rr = ts.do(t, mgr, http.MethodPut, "/policies/retention", json.RawMessage(`{"timeRetentionDays":90}`))
	require.Equal(t, http.StatusOK, rr.Code)
	merged := decode[RetentionPolicyView](t, rr)
	require.Equal(t, 90, *merged.TimeRetentionDays)
	require.Equal(t, 30, *merged.ActivityRetentionDays)
	require.Nil(t, merged.ScreenshotRetentionDays)

	rr = ts.do(t, mgr, http.MethodPut, "/policies/retention", json.RawMessage(`{"timeRetentionDays":"forever"}`))
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = ts.do(t, claimsFor("emp-1", auth.RoleEmployee), http.MethodPut, "/policies/retention", json.RawMessage(`{"timeRetentionDays":1}`))
	require.Equal(t, http.StatusForbidden, rr.Code)
}

func TestRegisterDeviceAndAudit(t *testing.T) {
	ts := newTestServer(t)
	emp := claimsFor("emp-1", auth.RoleEmployee)

	rr := ts.do(t, emp, http.MethodPost, "/devices/register", DeviceRequest{DeviceName: "laptop", Platform: "linux"})
	require.Equal(t, http.StatusOK, rr.Code)
	first := decode[DeviceView](t, rr)

	rr = ts.do(t, emp, http.MethodPost, "/devices/register", DeviceRequest{DeviceName: "laptop", Platform: "linux"})
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, first.ID, decode[DeviceView](t, rr).ID)

	rr = ts.do(t, claimsFor("mgr-1", auth.RoleManager), http.MethodPut, "/policies/capture/emp-1", CapturePolicyRequest{IntervalSeconds: 120})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = ts.do(t, emp, http.MethodGet, "/audit", nil)
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = ts.do(t, claimsFor("aud-1", auth.RoleAuditor), http.MethodGet, "/audit", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	entries := decode[[]AuditView](t, rr)
	require.Len(t, entries, 1)
	require.Equal(t, "policy.capture.update", entries[0].Action)
}

func TestMembershipUpdateGrantsOwnHistory(t *testing.T) {
	ts := newTestServer(t)
	ts.store.PutMembership(domain.Membership{TenantID: "tenant-1", UserID: "emp-1", Role: "employee"})
	emp := claimsFor("emp-1", auth.RoleEmployee)
	admin := claimsFor("admin-1", auth.RoleAdmin)

	rr := ts.do(t, emp, http.MethodGet, "/activity", nil)
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = ts.do(t, emp, http.MethodPatch, "/users/emp-1", map[string]any{"canViewOwnHistory": true})
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = ts.do(t, admin, http.MethodPatch, "/users/emp-1", map[string]any{"canViewOwnHistory": true})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	member := decode[MemberView](t, rr)
	require.Equal(t, "employee", member.Role)
	require.True(t, member.CanViewOwnHistory)

	rr = ts.do(t, emp, http.MethodGet, "/activity", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = ts.do(t, admin, http.MethodGet, "/users", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, []MemberView{{UserID: "emp-1", Role: "employee", CanViewOwnHistory: true}}, decode[[]MemberView](t, rr))

	rr = ts.do(t, claimsFor("aud-1", auth.RoleAuditor), http.MethodGet, "/audit", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	entries := decode[[]AuditView](t, rr)
	require.Len(t, entries, 1)
	require.Equal(t, "membership.update", entries[0].Action)
	require.Equal(t, "emp-1", *entries[0].EntityID)
}

func TestMembershipUpdateValidation(t *testing.T) {
	ts := newTestServer(t)
	admin := claimsFor("admin-1", auth.RoleAdmin)
	mgr := claimsFor("mgr-1", auth.RoleManager)

	rr := ts.do(t, admin, http.MethodPatch, "/users/emp-1", map[string]any{})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = ts.do(t, admin, http.MethodPatch, "/users/emp-1", map[string]any{"role": "superuser"})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = ts.do(t, mgr, http.MethodPatch, "/users/emp-1", map[string]any{"role": "admin"})
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = ts.do(t, mgr, http.MethodPatch, "/users/emp-1", map[string]any{"canViewOwnHistory": true})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = ts.do(t, claimsFor("emp-2", auth.RoleEmployee), http.MethodGet, "/users", nil)
	require.Equal(t, http.StatusForbidden, rr.Code)
}
