package api

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/storyweave/storyweave/pkg/faults"
)

const (
	contextKeyUserID   = "auth.userID"
	contextKeyTestMode = "auth.testMode"
)

// TokenValidator resolves a bearer token to a user id. The production
// implementation delegates to the auth agent; tests use a static map.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (userID string, err error)
}

// authMiddleware enforces bearer authentication and stashes the identity and
// test-mode flag on the request context.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			respondError(c, s.logger, faults.New(faults.KindUnauthenticated, "missing bearer token"))
			c.Abort()
			return
		}
		token := strings.TrimPrefix(header, "Bearer ")

		userID, err := s.tokens.Validate(c.Request.Context(), token)
		if err != nil {
			respondError(c, s.logger, faults.Wrap(faults.KindUnauthenticated, "token rejected", err))
			c.Abort()
			return
		}

		c.Set(contextKeyUserID, userID)
		c.Set(contextKeyTestMode, strings.EqualFold(c.GetHeader("X-Test-Mode"), "true"))
		c.Next()
	}
}

// corsMiddleware allows the configured origins.
func (s *Server) corsMiddleware() gin.HandlerFunc {
	allowed := make(map[string]bool, len(s.cfg.AllowedOrigins))
	for _, origin := range s.cfg.AllowedOrigins {
		allowed[origin] = true
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (allowed["*"] || allowed[origin]) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Test-Mode")
		}
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
