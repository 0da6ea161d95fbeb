package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lvdashuaibi/contestvote/internal/lock"
	"github.com/lvdashuaibi/contestvote/internal/logger"
	"github.com/lvdashuaibi/contestvote/internal/model"
	"github.com/lvdashuaibi/contestvote/internal/repository"
	"github.com/lvdashuaibi/contestvote/internal/service"
	"github.com/lvdashuaibi/contestvote/internal/session"
	"github.com/lvdashuaibi/contestvote/internal/ticket"
)

// statusForOutcome maps a vote outcome kind to its HTTP status.
func statusForOutcome(kind model.OutcomeKind) int {
	if kind.IsValidation() {
		return http.StatusBadRequest
	}
	switch kind {
	case model.OutcomeSuccess:
		return http.StatusOK
	case model.OutcomeVotingClosed:
		return http.StatusForbidden
	case model.OutcomeStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg})
}

// abortWithError maps service errors to a status. Internal details are only
// logged.
func abortWithError(c *gin.Context, err error) {
	var (
		status = http.StatusInternalServerError
		msg    = "Internal server error"
	)

	switch {
	case errors.Is(err, ticket.ErrInvalidCount),
		errors.Is(err, ticket.ErrInvalidCode),
		errors.Is(err, service.ErrInvalidContestant):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, repository.ErrNotFound):
		status, msg = http.StatusNotFound, "Not found"
	case errors.Is(err, lock.ErrLockBusy):
		status, msg = http.StatusConflict, "Another ticket operation is in progress"
	case errors.Is(err, repository.ErrCodeSpaceExhausted):
		status, msg = http.StatusConflict, "Could not generate unique ticket codes"
	case errors.Is(err, session.ErrStoreUnavailable), repository.IsTransient(err):
		status, msg = http.StatusServiceUnavailable, "Service temporarily unavailable, please try again"
	}

	if status >= http.StatusInternalServerError {
		logger.Logger.Error().Err(err).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Msg("request failed")
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
