package handler

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/crypto"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/keyvault"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/models"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/repository"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/service"
)

// respondError maps service errors to a status. Unlock and recovery
// failures all read "unlock failed" so a caller cannot tell them apart.
func respondError(c *gin.Context, log *logrus.Logger, err error, fallback string) {
	var lockout *keyvault.LockoutError
	switch {
	case errors.As(err, &lockout):
		secs := int(math.Ceil(lockout.Remaining.Seconds()))
		c.Header("Retry-After", strconv.Itoa(secs))
		c.JSON(http.StatusLocked, gin.H{"error": "too many failed attempts", "retryAfterSeconds": secs})
	case errors.Is(err, models.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, keyvault.ErrCrypto), errors.Is(err, keyvault.ErrRecoveryMismatch):
		c.JSON(http.StatusUnauthorized, gin.H{"error": keyvault.ErrCrypto.Error()})
	case errors.Is(err, service.ErrInvalidToken), errors.Is(err, service.ErrSessionClosed):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, keyvault.ErrKeyNotFound), errors.Is(err, keyvault.ErrRecoveryNotSet):
		c.JSON(http.StatusNotFound, gin.H{"error": "guardian PIN is not configured"})
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, service.ErrAlreadyConfigured):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, repository.ErrIntegrity), errors.Is(err, crypto.ErrDecryptionFailed):
		log.WithError(err).Error("Evidence could not be opened")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "evidence failed integrity check"})
	default:
		log.WithError(err).Error(fallback)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}

func limitParam(c *gin.Context) (int, bool) {
	raw := c.DefaultQuery("limit", "50")
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 || limit > 500 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
		return 0, false
	}
	return limit, true
}
