package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"verichat/internal/logger"
	"verichat/internal/middleware"
	"verichat/internal/session"
)

type XPHandler struct {
	Machine *session.Machine
	Logger  *zap.Logger
}

type awardXPBody struct {
	Amount int    `json:"amount"`
	Reason string `json:"reason"`
}

func (h *XPHandler) Get(c *gin.Context) {
	userID, _ := middleware.UserIDFromContext(c)
	xp, err := h.Machine.XP(c.Request.Context())
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"userId": userID, "xp": xp})
}

func (h *XPHandler) Award(c *gin.Context) {
	var body awardXPBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	userID, _ := middleware.UserIDFromContext(c)
	xp, err := h.Machine.AwardXP(c.Request.Context(), body.Amount, body.Reason)
	if err != nil {
		logger.From(c.Request.Context(), h.Logger).Debug("xp award rejected", logger.UserID(userID), zap.Error(err))
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"userId": userID, "xp": xp, "awarded": body.Amount})
}
