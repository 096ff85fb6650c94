package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"verichat/internal/auth"
	"verichat/internal/common"
	"verichat/internal/logger"
	"verichat/internal/metrics"
)

type KeysHandler struct {
	Signer    *auth.Signer
	Publisher *auth.Publisher
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

// JWKS serves the public half of the signing key. Missing key material is a
// 500, never a 200 with an empty set.
func (h *KeysHandler) JWKS(c *gin.Context) {
	log := logger.From(c.Request.Context(), h.Logger)

	ks, err := h.Publisher.KeySet()
	if err != nil {
		h.Metrics.KeySetServed("error")
		if errors.Is(err, common.ErrConfiguration) {
			log.Error("public key unavailable", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Server configuration error: public key not found."})
			return
		}
		log.Error("generate jwks failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate JWKS."})
		return
	}

	h.Metrics.KeySetServed("ok")
	c.Header("Cache-Control", "public, max-age=300")
	c.JSON(http.StatusOK, ks)
}

// GenerateJWT mints a partner assertion for the configured partner id.
func (h *KeysHandler) GenerateJWT(c *gin.Context) {
	log := logger.From(c.Request.Context(), h.Logger)
	c.Header("Cache-Control", "no-store")

	if err := h.Signer.Configured(); err != nil {
		h.Metrics.AssertionIssued("config_error")
		log.Error("partner id not configured", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Server configuration error: Partner ID not configured."})
		return
	}

	a, err := h.Signer.Issue(h.Signer.PartnerID())
	if err != nil {
		if errors.Is(err, common.ErrConfiguration) {
			h.Metrics.AssertionIssued("config_error")
			log.Error("signing key unavailable", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Server configuration error: signing key not found."})
			return
		}
		h.Metrics.AssertionIssued("error")
		log.Error("sign assertion failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate authentication token."})
		return
	}

	h.Metrics.AssertionIssued("ok")
	log.Info("partner assertion issued",
		logger.PartnerID(a.PartnerID),
		logger.KeyID(a.KeyID),
		zap.Time("expires_at", a.ExpiresAt),
	)
	c.JSON(http.StatusOK, gin.H{"token": a.Token})
}
