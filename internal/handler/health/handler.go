package health

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Pinger reports whether the backing store is reachable.
type Pinger func(ctx context.Context) error

type Handler struct {
	ping Pinger
}

func NewHandler(ping Pinger) *Handler {
	return &Handler{ping: ping}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/live", h.Live)
	r.GET("/ready", h.Ready)
}

func (h *Handler) Live(c *gin.Context) {
	c.Status(http.StatusOK)
}

func (h *Handler) Ready(c *gin.Context) {
	if h.ping != nil {
		if err := h.ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unreachable"})
			return
		}
	}
	c.Status(http.StatusOK)
}
