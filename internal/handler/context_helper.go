package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/openclass/registry-api/internal/middleware"
	"github.com/openclass/registry-api/internal/models"
)

// claimsFromContext extracts the authenticated user's claims placed by
// the JWT middleware. Returns nil on unauthenticated routes.
func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	if claims, ok := value.(*models.JWTClaims); ok {
		return claims
	}
	return nil
}
