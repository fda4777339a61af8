package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var testConfig = Config{Secret: "test-secret", Issuer: "worktrack.identity"}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testConfig.Secret))
	require.NoError(t, err)
	return token
}

func TestParseExtractsTenantAndRole(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"sub":       "user-1",
		"tenant_id": "tenant-1",
		"role":      "Manager",
		"iss":       testConfig.Issuer,
		"exp":       time.Now().Add(time.Hour).Unix(),
	})

	claims, err := Parse(token, testConfig)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
	require.Equal(t, "tenant-1", claims.TenantID)
	require.Equal(t, RoleManager, claims.Role)
	require.Equal(t, Actor{TenantID: "tenant-1", UserID: "user-1", Role: RoleManager}, claims.Actor())
}

func TestParseRejectsWrongIssuerAndMissingTenant(t *testing.T) {
	wrongIssuer := signToken(t, jwt.MapClaims{
		"sub": "user-1", "tenant_id": "tenant-1", "iss": "someone-else",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	_, err := Parse(wrongIssuer, testConfig)
	require.True(t, errors.Is(err, ErrInvalidToken))

	noTenant := signToken(t, jwt.MapClaims{
		"sub": "user-1", "iss": testConfig.Issuer,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	_, err = Parse(noTenant, testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = Parse("  ", testConfig)
	require.ErrorIs(t, err, ErrMissingToken)
}

func TestUnknownRoleIsLeastPrivileged(t *testing.T) {
	require.Equal(t, RoleEmployee, ParseRole("superuser"))
	require.Equal(t, RoleEmployee, ParseRole(""))
	require.False(t, ParseRole("superuser").Privileged())
	require.True(t, RoleAuditor.CanObserveLive())
	require.False(t, RoleAuditor.Privileged())
}

func TestLookupRoleIsStrict(t *testing.T) {
	role, ok := LookupRole(" Admin ")
	require.True(t, ok)
	require.Equal(t, RoleAdmin, role)

	_, ok = LookupRole("superuser")
	require.False(t, ok)

	require.True(t, RoleOwner.CanAssignRoles())
	require.False(t, RoleManager.CanAssignRoles())
}

func TestRoleAuthorizerCanView(t *testing.T) {
	authz := RoleAuthorizer{}
	cases := []struct {
		name     string
		role     Role
		actor    string
		target   string
		optIn    bool
		expected bool
	}{
		{"owner sees others without opt-in", RoleOwner, "a", "b", false, true},
		{"admin sees others", RoleAdmin, "a", "b", false, true},
		{"manager sees self without opt-in", RoleManager, "a", "a", false, true},
		{"employee self with opt-in", RoleEmployee, "a", "a", true, true},
		{"employee self without opt-in", RoleEmployee, "a", "a", false, false},
		{"employee other with opt-in", RoleEmployee, "a", "b", true, false},
		{"employee other without opt-in", RoleEmployee, "a", "b", false, false},
		{"auditor other", RoleAuditor, "a", "b", true, false},
		{"anonymous", RoleEmployee, "", "", true, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, authz.CanView(tc.role, tc.actor, tc.target, tc.optIn))
		})
	}
}

func TestMiddlewareAttachesClaims(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"sub": "user-1", "tenant_id": "tenant-1", "role": "employee", "iss": testConfig.Issuer,
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	var seen *Claims
	handler := NewMiddleware(testConfig, nil).Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/activity", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.NotNil(t, seen)
	require.Equal(t, "tenant-1", seen.TenantID)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/activity", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusNoContent, rr.Code)
}
