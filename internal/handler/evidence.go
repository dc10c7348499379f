package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/middleware"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/service"
)

type EvidenceHandler interface {
	ListEvidence(c *gin.Context)
	GetEvidence(c *gin.Context)
	ListAlerts(c *gin.Context)
}

type evidenceHandler struct {
	guardian service.GuardianService
	log      *logrus.Logger
}

func NewEvidenceHandler(guardian service.GuardianService, log *logrus.Logger) EvidenceHandler {
	return &evidenceHandler{guardian: guardian, log: log}
}

// ListEvidence handles GET /api/evidence
// Query parameters:
// - limit: maximum packets, newest first (default 50)
func (h *evidenceHandler) ListEvidence(c *gin.Context) {
	limit, ok := limitParam(c)
	if !ok {
		return
	}
	list, err := h.guardian.ListEvidence(c.Request.Context(), limit)
	if err != nil {
		respondError(c, h.log, err, "Failed to retrieve evidence")
		return
	}
	c.JSON(http.StatusOK, gin.H{"evidence": list})
}

// GetEvidence handles GET /api/evidence/:id and returns the unsealed payload.
func (h *evidenceHandler) GetEvidence(c *gin.Context) {
	claims, err := middleware.Claims(c)
	if err != nil {
		respondError(c, h.log, service.ErrInvalidToken, "Failed to retrieve evidence")
		return
	}

	id := c.Param("id")
	payload, err := h.guardian.ViewEvidence(c.Request.Context(), claims, id)
	if err != nil {
		respondError(c, h.log, err, "Failed to retrieve evidence")
		return
	}

	h.log.WithField("evidence_id", id).Info("Evidence viewed")
	c.JSON(http.StatusOK, gin.H{"id": id, "payload": payload})
}

// ListAlerts handles GET /api/alerts
func (h *evidenceHandler) ListAlerts(c *gin.Context) {
	limit, ok := limitParam(c)
	if !ok {
		return
	}
	list, err := h.guardian.ListAlerts(c.Request.Context(), limit)
	if err != nil {
		respondError(c, h.log, err, "Failed to retrieve alerts")
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": list})
}
