package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"verichat/internal/common"
	"verichat/internal/logger"
)

var statusByKind = map[error]int{
	common.ErrInvalidInput:        http.StatusBadRequest,
	common.ErrNotAuthenticated:    http.StatusUnauthorized,
	common.ErrLogin:               http.StatusUnauthorized,
	common.ErrVerify:              http.StatusForbidden,
	common.ErrSuperseded:          http.StatusConflict,
	common.ErrAlreadyInitialized:  http.StatusConflict,
	common.ErrMfa:                 http.StatusUnprocessableEntity,
	common.ErrIssue:               http.StatusUnprocessableEntity,
	common.ErrInconsistentSuccess: http.StatusBadGateway,
	common.ErrNetwork:             http.StatusServiceUnavailable,
	common.ErrNotInitialized:      http.StatusInternalServerError,
	common.ErrConfiguration:       http.StatusInternalServerError,
}

// StatusFor maps an error onto an HTTP status through its kind.
func StatusFor(err error) int {
	if status, ok := statusByKind[common.Kind(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// writeError reports a failed flow to the UI as JSON. Configuration errors are
// logged at error level; everything else is a warning.
func writeError(c *gin.Context, base *zap.Logger, err error) {
	status := StatusFor(err)
	log := logger.From(c.Request.Context(), base)
	if errors.Is(err, common.ErrConfiguration) || status == http.StatusInternalServerError {
		log.Error("request failed", zap.Error(err))
	} else {
		log.Warn("request failed", zap.Error(err))
	}

	body := gin.H{"error": err.Error(), "retryable": common.Retryable(err)}
	if kind := common.Kind(err); kind != nil {
		body["kind"] = kind.Error()
	}
	c.JSON(status, body)
}
