package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/middleware"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/service"
)

type GuardianHandler interface {
	Setup(c *gin.Context)
	Unlock(c *gin.Context)
	Reset(c *gin.Context)
	Logout(c *gin.Context)
}

type guardianHandler struct {
	guardian service.GuardianService
	log      *logrus.Logger
}

func NewGuardianHandler(guardian service.GuardianService, log *logrus.Logger) GuardianHandler {
	return &guardianHandler{guardian: guardian, log: log}
}

type SetupRequest struct {
	PIN string `json:"pin" binding:"required"`
}

type UnlockRequest struct {
	PIN string `json:"pin" binding:"required"`
}

type ResetRequest struct {
	RecoveryCode string `json:"recoveryCode" binding:"required"`
	NewPIN       string `json:"newPin" binding:"required"`
}

// Setup handles POST /api/guardian/setup. The recovery code is returned
// only in this response.
func (h *guardianHandler) Setup(c *gin.Context) {
	var req SetupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	code, err := h.guardian.Setup(c.Request.Context(), req.PIN)
	if err != nil {
		respondError(c, h.log, err, "Failed to configure guardian PIN")
		return
	}

	h.log.Info("Guardian PIN configured")
	c.JSON(http.StatusCreated, gin.H{
		"message":      "Guardian PIN configured",
		"recoveryCode": code,
	})
}

// Unlock handles POST /api/guardian/unlock.
func (h *guardianHandler) Unlock(c *gin.Context) {
	var req UnlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := h.guardian.Unlock(c.Request.Context(), req.PIN)
	if err != nil {
		respondError(c, h.log, err, "Failed to unlock")
		return
	}
	c.JSON(http.StatusOK, session)
}

// Reset handles POST /api/guardian/reset.
func (h *guardianHandler) Reset(c *gin.Context) {
	var req ResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.guardian.Reset(c.Request.Context(), req.RecoveryCode, req.NewPIN); err != nil {
		respondError(c, h.log, err, "Failed to reset PIN")
		return
	}

	h.log.Info("Guardian PIN reset with recovery code")
	c.JSON(http.StatusOK, gin.H{"message": "PIN reset successful"})
}

// Logout handles POST /api/guardian/logout.
func (h *guardianHandler) Logout(c *gin.Context) {
	claims, err := middleware.Claims(c)
	if err != nil {
		respondError(c, h.log, service.ErrInvalidToken, "Failed to logout")
		return
	}
	h.guardian.Logout(claims)
	c.JSON(http.StatusOK, gin.H{"message": "Logout successful"})
}
