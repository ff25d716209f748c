package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/satquery/satquery/internal/access"
	"github.com/satquery/satquery/internal/logging"
)

// ginAPIKeyHashKey carries the sha256 hex digest of the authenticated client
// key through the gin context so usage records can attribute the request.
const ginAPIKeyHashKey = "satquery_api_key_hash"

// requestIDMiddleware tags every request with a short hex id used for log
// correlation.
func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := strings.TrimSpace(c.GetHeader("X-Request-Id"))
		if requestID == "" {
			requestID = logging.GenerateRequestID()
		}
		logging.SetGinRequestID(c, requestID)
		c.Header("X-Request-Id", requestID)
		c.Next()
	}
}

// apiKeyAuthMiddleware enforces client API key access on the /v1 surface.
// When no keys are configured the surface is open.
func (s *Server) apiKeyAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		matchedKey, authErr := s.currentChecker().AuthenticateRequest(c.Request)
		if authErr != nil {
			c.AbortWithStatusJSON(authErr.StatusCode(), ErrorResponse{
				Error: ErrorDetail{
					Message: authErr.Message,
					Type:    "authentication_error",
					Code:    string(authErr.Code),
				},
			})
			return
		}
		if matchedKey != "" {
			c.Set(ginAPIKeyHashKey, access.HashSecret(matchedKey))
		}
		c.Next()
	}
}

// managementAuthMiddleware guards the /v0/management surface with the remote
// management secret. The secret may arrive as plaintext or as its sha256 hex
// digest.
func (s *Server) managementAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		candidate := strings.TrimSpace(c.GetHeader("X-Management-Key"))
		if candidate == "" {
			if authHeader := c.GetHeader("Authorization"); strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
				candidate = strings.TrimSpace(authHeader[len("Bearer "):])
			}
		}
		if candidate == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Error: ErrorDetail{
					Message: "management key required",
					Type:    "authentication_error",
					Code:    "missing_management_key",
				},
			})
			return
		}
		if authErr := s.currentChecker().VerifySecret(candidate); authErr != nil {
			c.AbortWithStatusJSON(authErr.StatusCode(), ErrorResponse{
				Error: ErrorDetail{
					Message: authErr.Message,
					Type:    "authentication_error",
					Code:    string(authErr.Code),
				},
			})
			return
		}
		c.Next()
	}
}
