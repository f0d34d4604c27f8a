package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/vulnscanio/engine/pkg/apierror"
	"github.com/vulnscanio/engine/pkg/jwt"
	"github.com/vulnscanio/engine/pkg/logger"
)

// Identity context keys. UserIDKey and OrgIDKey reuse the logger keys so
// request-scoped log records carry them automatically.
const (
	UserIDKey                   = logger.ContextKeyUserID
	OrgIDKey                    = logger.ContextKeyOrgID
	EmailKey  logger.ContextKey = "email"
	RoleKey   logger.ContextKey = "role"
)

// AdminAPIKeyHeader is the header name for operator API key authentication.
const AdminAPIKeyHeader = "X-Admin-API-Key"

// GetUserID extracts the user ID from context.
func GetUserID(ctx context.Context) string {
	if id, ok := ctx.Value(UserIDKey).(string); ok {
		return id
	}
	return ""
}

// GetOrgID extracts the organization ID from context.
func GetOrgID(ctx context.Context) string {
	if id, ok := ctx.Value(OrgIDKey).(string); ok {
		return id
	}
	return ""
}

// GetEmail extracts the user email from context.
func GetEmail(ctx context.Context) string {
	if email, ok := ctx.Value(EmailKey).(string); ok {
		return email
	}
	return ""
}

// GetRole extracts the user role from context.
func GetRole(ctx context.Context) string {
	if role, ok := ctx.Value(RoleKey).(string); ok {
		return role
	}
	return ""
}

// extractToken pulls the JWT out of the request. The Authorization header
// is the standard path; the "token" query parameter exists for the
// websocket upgrade, where browsers cannot set custom headers.
func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") && parts[1] != "" {
			return parts[1]
		}
	}

	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	return ""
}

// Auth extracts the identity claims from the request token and stores
// them in the context. Tokens are minted by the platform identity
// service; only the signature and time bounds are checked here, the
// claims themselves are trusted.
func Auth(validator *jwt.Generator, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := extractToken(r)
			if tokenString == "" {
				apierror.Unauthorized("Missing authorization token").WriteJSON(w)
				return
			}

			claims, err := validator.ValidateAccessToken(tokenString)
			if err != nil {
				handleAuthError(w, r.Context(), err, log)
				return
			}

			ctx := r.Context()
			ctx = context.WithValue(ctx, UserIDKey, claims.UserID)
			ctx = context.WithValue(ctx, OrgIDKey, claims.OrgID)
			ctx = context.WithValue(ctx, EmailKey, claims.Email)
			ctx = context.WithValue(ctx, RoleKey, claims.Role)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func handleAuthError(w http.ResponseWriter, ctx context.Context, err error, log *logger.Logger) {
	switch {
	case errors.Is(err, jwt.ErrExpiredToken):
		apierror.Unauthorized("Token has expired").WriteJSON(w)
	case errors.Is(err, jwt.ErrInvalidTokenType):
		apierror.Unauthorized("Invalid token type").WriteJSON(w)
	case errors.Is(err, jwt.ErrInvalidToken):
		apierror.Unauthorized("Invalid token").WriteJSON(w)
	default:
		if log != nil {
			log.Debug("token validation failed",
				"error", err,
				"request_id", GetRequestID(ctx),
			)
		}
		apierror.Unauthorized("Token validation failed").WriteJSON(w)
	}
}

// RequireOrg ensures the request identity carries an organization ID.
// Every tenant-scoped operation depends on it.
func RequireOrg() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if GetOrgID(r.Context()) == "" {
				apierror.Unauthorized("Organization ID not found in token").WriteJSON(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AdminKey guards operational endpoints with a static API key compared in
// constant time. An empty configured key disables the endpoints rather
// than leaving them open.
func AdminKey(configuredKey string, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if configuredKey == "" {
				apierror.Unauthorized("Admin API disabled").WriteJSON(w)
				return
			}

			key := r.Header.Get(AdminAPIKeyHeader)
			if key == "" {
				if log != nil {
					log.Debug("admin auth: missing API key", "request_id", GetRequestID(r.Context()))
				}
				apierror.Unauthorized("Missing admin API key").WriteJSON(w)
				return
			}

			if subtle.ConstantTimeCompare([]byte(key), []byte(configuredKey)) != 1 {
				if log != nil {
					log.Warn("admin auth: invalid API key",
						"remote_addr", r.RemoteAddr,
						"request_id", GetRequestID(r.Context()),
					)
				}
				apierror.Unauthorized("Invalid admin API key").WriteJSON(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
