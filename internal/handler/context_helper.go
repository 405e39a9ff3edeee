package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/feedback-desk-api/internal/middleware"
	"github.com/noah-isme/feedback-desk-api/internal/models"
)

// claimsFromContext returns the authenticated staff claims set by the JWT
// middleware, or nil when the request carried no valid token.
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
