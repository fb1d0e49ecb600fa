package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/linkshelf/storefront/internal/db"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// HealthHandler serves health check endpoints.
type HealthHandler struct {
	db *gorm.DB
}

// NewHealthHandler constructs a HealthHandler.
func NewHealthHandler(conn *gorm.DB) *HealthHandler {
	return &HealthHandler{db: conn}
}

// Healthz checks database connectivity and returns status.
func (h *HealthHandler) Healthz(c *gin.Context) {
	if errPing := db.Ping(c.Request.Context(), h.db); errPing != nil {
		log.WithError(errPing).Warn("health check: database unreachable")
		c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Metrics exposes the Prometheus default registry.
func Metrics() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
