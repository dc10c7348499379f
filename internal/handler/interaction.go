package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/message_processor"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/models"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/router"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/service"
)

// Ingestor is the dispatch path shared with the stdin feed.
type Ingestor interface {
	Process(ctx context.Context, it models.Interaction) (router.Decision, error)
	Stats() message_processor.Stats
}

type StatusSource interface {
	Status() service.Status
}

type InteractionHandler interface {
	Ingest(c *gin.Context)
	Status(c *gin.Context)
}

type interactionHandler struct {
	ingest Ingestor
	status StatusSource
	log    *logrus.Logger
}

func NewInteractionHandler(ingest Ingestor, status StatusSource, log *logrus.Logger) InteractionHandler {
	return &interactionHandler{ingest: ingest, status: status, log: log}
}

// Ingest handles POST /api/interactions and returns the dispatch decision.
func (h *interactionHandler) Ingest(c *gin.Context) {
	var in models.Interaction
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	decision, err := h.ingest.Process(c.Request.Context(), in)
	if err != nil {
		respondError(c, h.log, err, "Failed to process interaction")
		return
	}
	c.JSON(http.StatusOK, decision)
}

// Status handles GET /api/status.
func (h *interactionHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"device":    h.status.Status(),
		"processor": h.ingest.Stats(),
	})
}
