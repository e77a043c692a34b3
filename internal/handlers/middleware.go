package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/atharvakonge/classroom-market/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const callerKey = "caller"

// RequestLogger logs one line per request
func RequestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		evt := log.Info()
		if status >= http.StatusInternalServerError {
			evt = log.Error()
		} else if status >= http.StatusBadRequest {
			evt = log.Warn()
		}
		evt.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("request")
	}
}

// authenticate resolves the bearer token into a caller. Websocket clients
// cannot set headers and pass the token as ?token= instead.
func (h *Handler) authenticate(c *gin.Context) {
	raw := c.Query("token")
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		raw = parts[1]
	}
	if raw == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header missing"})
		return
	}

	caller, err := h.tokens.Parse(raw)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
		return
	}
	c.Set(callerKey, caller)
	c.Next()
}

func requireRole(role models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if callerFrom(c).Role != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden for role " + string(callerFrom(c).Role)})
			return
		}
		c.Next()
	}
}

func requireAdmin(c *gin.Context) {
	if !callerFrom(c).IsAdmin {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "administrator only"})
		return
	}
	c.Next()
}

func callerFrom(c *gin.Context) models.Caller {
	v, _ := c.Get(callerKey)
	caller, _ := v.(models.Caller)
	return caller
}
