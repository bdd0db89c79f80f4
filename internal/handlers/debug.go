package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"messenger-service/internal/presence"
	"messenger-service/internal/telemetry"
)

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router *gin.Engine, registry *presence.Registry, emitter *telemetry.AuditEmitter, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/online", func(c *gin.Context) {
		ids := registry.Snapshot()
		c.JSON(http.StatusOK, gin.H{"online": ids, "count": len(ids)})
	})

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		emitter.Emit(c.Request.Context(), "INFO", "audit test", requestIDFromContext(c), nil)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
