package server

import (
	"strings"

	apikeydomain "github.com/flowvane/creditdesk/internal/apikey/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const contextAPIKey = "api_key"

// APIKeyRequired authenticates machine callers with a bearer API key. The
// key's provider is the identity; scopes gate individual routes.
func (s *Server) APIKeyRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if header == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		parts := strings.Fields(header)
		if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		key, err := s.apiKeySvc.Authenticate(c.Request.Context(), parts[1])
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.Set(contextAPIKey, key)
		c.Next()
	}
}

func (s *Server) RequireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := s.apiKeyFromContext(c)
		if key == nil || !key.HasScope(scope) {
			AbortWithError(c, ErrForbidden)
			return
		}
		c.Next()
	}
}

// allowWorkLog throttles work-log writes per organization. With no limiter
// wired the gate is open, and redis trouble never blocks logging.
func (s *Server) allowWorkLog(c *gin.Context, orgID string) bool {
	if s.workLogLimiter == nil {
		return true
	}

	allowed, err := s.workLogLimiter.Allow(c.Request.Context(), orgID)
	if err != nil {
		s.log.Warn("work log rate limit check failed", zap.Error(err))
		return true
	}
	return allowed
}

func (s *Server) apiKeyFromContext(c *gin.Context) *apikeydomain.APIKey {
	value, ok := c.Get(contextAPIKey)
	if !ok {
		return nil
	}
	key, _ := value.(*apikeydomain.APIKey)
	return key
}
