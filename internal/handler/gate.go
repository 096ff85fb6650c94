package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"verichat/internal/common"
	"verichat/internal/gate"
	"verichat/internal/logger"
	"verichat/internal/middleware"
)

type GateHandler struct {
	Gate     *gate.Gate
	Location *gate.Location
	Logger   *zap.Logger
}

// Enter runs one gate attempt. Denials are a 200 with status "denied"; the
// location is reported so the UI can confirm it did not move.
func (h *GateHandler) Enter(c *gin.Context) {
	var res gate.Resource
	if err := c.ShouldBindJSON(&res); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	userID, _ := middleware.UserIDFromContext(c)
	logger.From(c.Request.Context(), h.Logger).Debug("gate attempt", logger.UserID(userID), logger.ResourceID(res.ID))

	a, err := h.Gate.Enter(c.Request.Context(), res, h.Location)
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"attempt":   a,
		"retryable": a.Status == gate.StatusDenied && common.Retryable(a.Err),
		"location":  h.Location.Current(),
	})
}

// CurrentLocation reports the view the UI is on.
func (h *GateHandler) CurrentLocation(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"location": h.Location.Current()})
}
