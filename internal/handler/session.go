package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"verichat/internal/logger"
	"verichat/internal/session"
)

type SessionHandler struct {
	Machine *session.Machine
	Logger  *zap.Logger
}

type usernameBody struct {
	Username string `json:"username"`
}

func (h *SessionHandler) Get(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"session": h.Machine.State().View()})
}

func (h *SessionHandler) Login(c *gin.Context) {
	s, err := h.Machine.Login(c.Request.Context())
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": s.View()})
}

func (h *SessionHandler) Logout(c *gin.Context) {
	if err := h.Machine.Logout(c.Request.Context()); err != nil {
		// The local session is already gone; report the remote failure only.
		logger.From(c.Request.Context(), h.Logger).Warn("remote logout failed", zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{"session": h.Machine.State().View()})
}

func (h *SessionHandler) SetupMfa(c *gin.Context) {
	s, err := h.Machine.SetupMfa(c.Request.Context())
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": s.View()})
}

func (h *SessionHandler) DismissMfa(c *gin.Context) {
	if err := h.Machine.DismissMfaModal(c.Request.Context()); err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": h.Machine.State().View()})
}

func (h *SessionHandler) ResetMfaDismissal(c *gin.Context) {
	if err := h.Machine.ResetMfaDismissal(c.Request.Context()); err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": h.Machine.State().View()})
}

func (h *SessionHandler) SetUsername(c *gin.Context) {
	var body usernameBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if err := h.Machine.SetUsername(c.Request.Context(), body.Username); err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": h.Machine.State().View()})
}

type avatarBody struct {
	Avatar string `json:"avatar"`
}

// SetAvatar stores the avatar URL; an empty value restores the generated one.
func (h *SessionHandler) SetAvatar(c *gin.Context) {
	var body avatarBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if err := h.Machine.SetAvatar(c.Request.Context(), body.Avatar); err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": h.Machine.State().View()})
}

func (h *SessionHandler) UpdateUser(c *gin.Context) {
	var patch session.UserPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if err := h.Machine.UpdateUser(patch); err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": h.Machine.State().View()})
}
