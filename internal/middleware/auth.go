package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/models"
)

// ClaimsKey is the gin context key holding *models.Claims.
const ClaimsKey = "claims"

type Authenticator interface {
	Authenticate(token string) (*models.Claims, error)
}

// AuthMiddleware creates a Gin middleware for guardian session tokens.
func AuthMiddleware(auth Authenticator, log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header format must be Bearer <token>"})
			return
		}

		claims, err := auth.Authenticate(parts[1])
		if err != nil {
			log.WithError(err).Warn("Rejected guardian token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

// Claims returns the session claims set by AuthMiddleware.
func Claims(c *gin.Context) (*models.Claims, error) {
	v, ok := c.Get(ClaimsKey)
	if !ok {
		return nil, errors.New("no guardian session on request")
	}
	claims, ok := v.(*models.Claims)
	if !ok {
		return nil, errors.New("unexpected claims type")
	}
	return claims, nil
}

// RequestLogger logs one line per request. Bodies are never logged.
func RequestLogger(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		})
		switch {
		case c.Writer.Status() >= 500:
			entry.Error("Request failed")
		case c.Writer.Status() >= 400:
			entry.Warn("Request rejected")
		default:
			entry.Debug("Request served")
		}
	}
}
