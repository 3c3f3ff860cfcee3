package auth

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jalalidin/knowledgevault-sub001/internal/config"
	"github.com/Jalalidin/knowledgevault-sub001/pkg/apperror"
)

const testSecret = "test-secret-key-at-least-32-bytes!!"

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestMiddleware(cfg config.AuthConfig) *Middleware {
	m := NewMiddleware(cfg, slog.Default())
	m.now = func() time.Time { return testNow }
	return m
}

func signToken(t *testing.T, secret string, method jwt.SigningMethod, claims TokenClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func validClaims() TokenClaims {
	return TokenClaims{
		Email: "ada@example.com",
		Scope: "items:read items:write",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    "knowledgevault",
			ExpiresAt: jwt.NewNumericDate(testNow.Add(time.Hour)),
		},
	}
}

func TestMiddleware_extractToken(t *testing.T) {
	m := &Middleware{}

	tests := []struct {
		name       string
		authHeader string
		queryToken string
		want       string
	}{
		{name: "bearer header", authHeader: "Bearer eyJhbGciOiJIUzI1NiJ9", want: "eyJhbGciOiJIUzI1NiJ9"},
		{name: "no token", want: ""},
		{name: "basic auth ignored", authHeader: "Basic dXNlcjpwYXNz", want: ""},
		{name: "query parameter", queryToken: "query-token-123", want: "query-token-123"},
		{name: "header wins over query", authHeader: "Bearer header-token", queryToken: "query-token", want: "header-token"},
		{name: "empty bearer", authHeader: "Bearer ", want: ""},
		{name: "bearer without space", authHeader: "Bearertoken", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reqURL := "http://example.com/api/wechat/link/qr"
			if tt.queryToken != "" {
				reqURL += "?token=" + url.QueryEscape(tt.queryToken)
			}
			req := httptest.NewRequest(http.MethodGet, reqURL, nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}

			assert.Equal(t, tt.want, m.extractToken(req))
		})
	}
}

func TestMiddleware_validateToken(t *testing.T) {
	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(testNow.Add(-time.Hour))

	noExpiry := validClaims()
	noExpiry.ExpiresAt = nil

	noSubject := validClaims()
	noSubject.Subject = ""

	otherIssuer := validClaims()
	otherIssuer.Issuer = "someone-else"

	withinLeeway := validClaims()
	withinLeeway.ExpiresAt = jwt.NewNumericDate(testNow.Add(-10 * time.Second))

	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{"valid", signToken(t, testSecret, jwt.SigningMethodHS256, validClaims()), false},
		{"expired", signToken(t, testSecret, jwt.SigningMethodHS256, expired), true},
		{"expired within leeway", signToken(t, testSecret, jwt.SigningMethodHS256, withinLeeway), false},
		{"missing exp", signToken(t, testSecret, jwt.SigningMethodHS256, noExpiry), true},
		{"missing subject", signToken(t, testSecret, jwt.SigningMethodHS256, noSubject), true},
		{"wrong secret", signToken(t, "another-secret", jwt.SigningMethodHS256, validClaims()), true},
		{"wrong algorithm", signToken(t, testSecret, jwt.SigningMethodHS512, validClaims()), true},
		{"wrong issuer", signToken(t, testSecret, jwt.SigningMethodHS256, otherIssuer), true},
		{"garbage", "not.a.jwt", true},
	}

	m := newTestMiddleware(config.AuthConfig{JWTSecret: testSecret, Issuer: "knowledgevault", Leeway: 30 * time.Second})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, err := m.validateToken(tt.token)
			if tt.wantErr {
				require.Error(t, err)
				appErr, ok := apperror.As(err)
				require.True(t, ok)
				assert.Equal(t, "invalid_token", appErr.Code)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "user-1", user.ID)
			assert.Equal(t, "ada@example.com", user.Email)
			assert.Equal(t, []string{"items:read", "items:write"}, user.Scopes)
		})
	}
}

func TestMiddleware_validateToken_NoSecret(t *testing.T) {
	m := newTestMiddleware(config.AuthConfig{})

	_, err := m.validateToken(signToken(t, testSecret, jwt.SigningMethodHS256, validClaims()))
	assert.Error(t, err)
}

func TestMiddleware_RequireAuth(t *testing.T) {
	m := newTestMiddleware(config.AuthConfig{JWTSecret: testSecret})
	e := echo.New()

	var seen *AuthUser
	handler := m.RequireAuth()(func(c echo.Context) error {
		seen = GetUser(c)
		return c.NoContent(http.StatusNoContent)
	})

	t.Run("missing token", func(t *testing.T) {
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
		err := handler(c)
		assert.Equal(t, apperror.ErrMissingToken, err)
	})

	t.Run("valid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, jwt.SigningMethodHS256, validClaims()))
		rec := httptest.NewRecorder()

		require.NoError(t, handler(e.NewContext(req, rec)))
		assert.Equal(t, http.StatusNoContent, rec.Code)
		require.NotNil(t, seen)
		assert.Equal(t, "user-1", seen.ID)
	})
}
