package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/MimeLyc/lingotube/internal/quota"
	"github.com/MimeLyc/lingotube/pkg/log"
)

const (
	ctxUserID    = "userId"
	headerReqID  = "X-Request-ID"
	bearerPrefix = "Bearer "
)

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqID := c.GetHeader(headerReqID)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Header(headerReqID, reqID)

		c.Next()

		log.With("request_id", reqID, "client_ip", c.ClientIP()).Info("%s %s %d %s",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

func recoverer() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		log.Error("Panic serving %s %s: %v", c.Request.Method, c.Request.URL.Path, recovered)
		respondFail(c, http.StatusInternalServerError, msgInternal)
	})
}

func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, bearerPrefix) {
			respondFail(c, http.StatusUnauthorized, "无访问权限，请提供 token")
			return
		}
		claims, err := s.tokens.Validate(strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix)))
		if err != nil {
			respondFail(c, http.StatusUnauthorized, "无效的 token")
			return
		}
		c.Set(ctxUserID, claims.UserID)
		c.Next()
	}
}

// rateLimit consumes one unit of the api/<operation> budget for the caller,
// identified by user id when authenticated and by client IP otherwise.
func (s *Server) rateLimit(operation string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil {
			c.Next()
			return
		}
		identity := c.GetString(ctxUserID)
		if identity == "" {
			identity = c.ClientIP()
		}
		if err := s.limiter.TryConsume(c.Request.Context(), quota.CategoryAPI, operation, identity); err != nil {
			respondError(c, err)
			return
		}
		c.Next()
	}
}

func userID(c *gin.Context) string {
	return c.GetString(ctxUserID)
}
