package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/GreyyDaze/orbit-server/internal/services"
	"github.com/GreyyDaze/orbit-server/pkg/response"
)

// GhostHeader carries the anonymous identity token a browser minted or was
// handed on first contact.
const GhostHeader = "X-Ghost-ID"

// Ghost materializes the anonymous identity named by the ghost header. The
// row is created on first sight so clients may present self-minted UUIDs.
// When authentication already attached the account's canonical ghost, the
// header is ignored.
func Ghost(ghosts *services.GhostService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, exists := c.Get(CtxGhostKey); exists {
			c.Next()
			return
		}

		id := strings.TrimSpace(c.GetHeader(GhostHeader))
		if id == "" {
			c.Next()
			return
		}

		ghost, err := ghosts.GetOrCreateGhost(c.Request.Context(), id)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(CtxGhostKey, ghost)
		c.Next()
	}
}
