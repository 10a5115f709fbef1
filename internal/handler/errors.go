package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"hazard-wager/internal/engine"
	"hazard-wager/internal/pkg/lock"
	"hazard-wager/internal/repository"
	"hazard-wager/internal/service"
)

// statusForKind maps every engine failure kind to an HTTP status. The
// boolean is false for a kind this switch does not know about.
func statusForKind(kind engine.Kind) (int, bool) {
	switch kind {
	case engine.KindInvalidStake, engine.KindInvalidCashoutTime:
		return http.StatusBadRequest, true
	case engine.KindInsufficientBalance:
		return http.StatusUnprocessableEntity, true
	case engine.KindSessionNotFound:
		return http.StatusNotFound, true
	case engine.KindAlreadyActive, engine.KindAlreadyCompleted:
		return http.StatusConflict, true
	case engine.KindInconsistentState, engine.KindInternal:
		return http.StatusInternalServerError, true
	default:
		return http.StatusInternalServerError, false
	}
}

func respondEngineError(c *gin.Context, err error) {
	kind := engine.KindOf(err)
	status, _ := statusForKind(kind)

	message := err.Error()
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("kind", kind.String()).Str("path", c.Request.URL.Path).Msg("Wager operation failed")
		message = "internal error"
	}
	c.JSON(status, gin.H{"error": kind.String(), "message": message})
}

func respondAccountError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_amount", "message": err.Error()})
	case errors.Is(err, repository.ErrInsufficientBalance):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "insufficient_balance", "message": "insufficient balance"})
	case errors.Is(err, repository.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "user_not_found", "message": "user not found"})
	case errors.Is(err, lock.ErrLockTimeout):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "busy", "message": "account is busy, retry shortly"})
	default:
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("Account operation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "internal error"})
	}
}
