// Package auth validates bearer tokens issued by the KnowledgeVault web app.
package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"go.uber.org/fx"

	"github.com/Jalalidin/knowledgevault-sub001/internal/config"
	"github.com/Jalalidin/knowledgevault-sub001/pkg/apperror"
	"github.com/Jalalidin/knowledgevault-sub001/pkg/logger"
)

var Module = fx.Module("auth",
	fx.Provide(newMiddleware),
)

func newMiddleware(cfg *config.Config, log *slog.Logger) *Middleware {
	return NewMiddleware(cfg.Auth, log)
}

// AuthUser represents an authenticated user
type AuthUser struct {
	// ID is the KnowledgeVault user id (token subject).
	ID     string   `json:"id"`
	Email  string   `json:"email,omitempty"`
	Scopes []string `json:"scopes,omitempty"`
}

type contextKey string

const UserContextKey contextKey = "auth_user"

// GetUser retrieves the authenticated user from the Echo context
func GetUser(c echo.Context) *AuthUser {
	if user, ok := c.Get(string(UserContextKey)).(*AuthUser); ok {
		return user
	}
	return nil
}

// TokenClaims are the claims carried by an access token.
type TokenClaims struct {
	Email string `json:"email,omitempty"`
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// Middleware handles authentication for routes
type Middleware struct {
	cfg config.AuthConfig
	log *slog.Logger
	now func() time.Time
}

func NewMiddleware(cfg config.AuthConfig, log *slog.Logger) *Middleware {
	return &Middleware{
		cfg: cfg,
		log: log.With(logger.Scope("auth")),
		now: time.Now,
	}
}

// RequireAuth returns middleware that requires a valid bearer token.
func (m *Middleware) RequireAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := m.extractToken(c.Request())
			if token == "" {
				return apperror.ErrMissingToken
			}

			user, err := m.validateToken(token)
			if err != nil {
				m.log.Warn("authentication failed", logger.Error(err))
				return err
			}

			c.Set(string(UserContextKey), user)
			return next(c)
		}
	}
}

// extractToken reads the bearer token from the Authorization header, or
// the token query parameter as a fallback.
func (m *Middleware) extractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return r.URL.Query().Get("token")
}

func (m *Middleware) validateToken(raw string) (*AuthUser, error) {
	if m.cfg.JWTSecret == "" {
		return nil, apperror.ErrInvalidToken.WithInternal(errors.New("JWT secret not configured"))
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(m.cfg.Leeway),
		jwt.WithTimeFunc(m.now),
	}
	if m.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.cfg.Issuer))
	}

	claims := &TokenClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte(m.cfg.JWTSecret), nil
	}, opts...)
	if err != nil {
		return nil, apperror.ErrInvalidToken.WithInternal(fmt.Errorf("parse token: %w", err))
	}
	if claims.Subject == "" {
		return nil, apperror.ErrInvalidToken.WithInternal(errors.New("token has no subject"))
	}

	return &AuthUser{
		ID:     claims.Subject,
		Email:  claims.Email,
		Scopes: strings.Fields(claims.Scope),
	}, nil
}
