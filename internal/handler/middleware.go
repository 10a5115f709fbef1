package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"hazard-wager/internal/auth"
	"hazard-wager/internal/model"
)

// ctxUserID is the gin context key holding the authenticated user id.
const ctxUserID = "user_id"

// TokenParser validates bearer tokens. Implemented by *auth.TokenService.
type TokenParser interface {
	Parse(token string) (*auth.Claims, error)
}

// Limiter counts requests per user and action. Implemented by
// *cache.RateLimiter.
type Limiter interface {
	Allow(ctx context.Context, userID int64, action string) (bool, error)
}

// AccountEnsurer creates accounts on first contact.
type AccountEnsurer interface {
	EnsureUser(ctx context.Context, userID int64) (*model.User, bool, error)
}

// AuthMiddleware accepts a bearer token in the Authorization header or, for
// WebSocket clients that cannot set headers, in the token query parameter.
func AuthMiddleware(tokens TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		var tokenString string

		if header := c.GetHeader("Authorization"); header != "" {
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				abort(c, http.StatusUnauthorized, "unauthorized", "invalid authorization format")
				return
			}
			tokenString = parts[1]
		} else {
			tokenString = c.Query("token")
			if tokenString == "" {
				abort(c, http.StatusUnauthorized, "unauthorized", "authorization required")
				return
			}
		}

		claims, err := tokens.Parse(tokenString)
		if err != nil {
			log.Debug().Err(err).Str("path", c.FullPath()).Msg("Rejected token")
			abort(c, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
			return
		}

		c.Set(ctxUserID, claims.UserID)
		c.Next()
	}
}

// EnsureAccountMiddleware creates the caller's account on first contact.
func EnsureAccountMiddleware(accounts AccountEnsurer) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, _, err := accounts.EnsureUser(c.Request.Context(), c.GetInt64(ctxUserID)); err != nil {
			log.Error().Err(err).Int64("user_id", c.GetInt64(ctxUserID)).Msg("Failed to ensure account")
			abort(c, http.StatusInternalServerError, "internal", "internal error")
			return
		}
		c.Next()
	}
}

// AdminMiddleware refuses callers that are not on the admin list. A nil
// isAdmin refuses everyone.
func AdminMiddleware(isAdmin func(userID int64) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetInt64(ctxUserID)
		if isAdmin == nil || !isAdmin(userID) {
			log.Warn().Int64("user_id", userID).Str("path", c.Request.URL.Path).Msg("Non-admin attempted admin route")
			abort(c, http.StatusForbidden, "forbidden", "admin only")
			return
		}
		c.Next()
	}
}

// RateLimitMiddleware bounds how often a user may hit the wrapped route. A
// limiter failure lets the request through.
func RateLimitMiddleware(limiter Limiter, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetInt64(ctxUserID)

		allowed, err := limiter.Allow(c.Request.Context(), userID, action)
		if err != nil {
			log.Warn().Err(err).Int64("user_id", userID).Str("action", action).Msg("Rate limiter unavailable")
			c.Next()
			return
		}
		if !allowed {
			abort(c, http.StatusTooManyRequests, "rate_limited", "too many requests, please wait")
			return
		}

		c.Next()
	}
}

// LoggingMiddleware logs every request at debug level, and server errors at
// error level.
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		logEvent := log.Debug()
		if status >= http.StatusInternalServerError {
			logEvent = log.Error()
		}

		logEvent.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Int64("user_id", c.GetInt64(ctxUserID)).
			Msg("Handled request")
	}
}

// RecoveryMiddleware recovers from panics in handlers.
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Interface("panic", r).
					Str("path", c.Request.URL.Path).
					Msg("Recovered from panic in handler")
				abort(c, http.StatusInternalServerError, "internal", "internal error")
			}
		}()
		c.Next()
	}
}

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": code, "message": message})
}
