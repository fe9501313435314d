package core

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const actorContextKey = "actor"

// TrustedIdentity accepts the identity asserted by the authenticating reverse
// proxy in cfg.IdentityHeader. Requests without it are rejected before any handler runs.
func TrustedIdentity(cfg Config, logger *slog.Logger) gin.HandlerFunc {
	header := cfg.IdentityHeader
	if header == "" {
		header = "X-Remote-User"
	}
	return func(c *gin.Context) {
		actor := strings.TrimSpace(c.GetHeader(header))
		if actor == "" {
			if logger != nil {
				logger.WarnContext(c.Request.Context(), "request without identity header",
					"header", header,
					"path", c.Request.URL.Path,
				)
			}
			respondError(c, http.StatusUnauthorized, "UNAUTHORIZED", "authenticated identity required")
			c.Abort()
			return
		}
		c.Set(actorContextKey, Actor(actor))
		c.Next()
	}
}

// ActorFrom returns the identity stored by TrustedIdentity.
func ActorFrom(c *gin.Context) (Actor, bool) {
	v, ok := c.Get(actorContextKey)
	if !ok {
		return "", false
	}
	actor, ok := v.(Actor)
	return actor, ok && actor != ""
}
