package admin

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/recordflow/internal/repository"
	"github.com/jwalitptl/recordflow/internal/service/event"
	"github.com/jwalitptl/recordflow/pkg/logger"
)

// Handler exposes the operator surface: submit a record for intake,
// requeue a dead-letter event, and inspect an event with its error
// records.
type Handler struct {
	store  repository.Store
	intake *event.Service
	logger *logger.Logger
}

func NewHandler(store repository.Store, intake *event.Service, logger *logger.Logger) *Handler {
	return &Handler{store: store, intake: intake, logger: logger}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/records", h.Intake)
	r.POST("/events/:id/requeue", h.Requeue)
	r.GET("/events/:id", h.Inspect)
}

type intakeRequest struct {
	Name   string `json:"name" binding:"required"`
	Domain string `json:"domain" binding:"required,fqdn"`
}

// Intake creates a record and its first pipeline event in one unit of
// work.
func (h *Handler) Intake(c *gin.Context) {
	var req intakeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	record, err := h.intake.IntakeRecord(c.Request.Context(), req.Name, req.Domain)
	if err != nil {
		h.logger.Error(err, "failed to intake record", "domain", req.Domain)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to intake record"})
		return
	}

	h.logger.Info("record submitted", "record_id", record.ID, "domain", record.Domain)
	c.JSON(http.StatusCreated, record)
}

// Requeue resets a dead_letter event to pending and clears its
// attempt count.
func (h *Handler) Requeue(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	if err := h.store.Events().Requeue(c.Request.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no dead_letter event with that id"})
			return
		}
		h.logger.Error(err, "failed to requeue event", "event_id", id.String())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to requeue event"})
		return
	}

	h.logger.Info("event requeued by operator", "event_id", id.String())
	c.JSON(http.StatusOK, gin.H{"status": "pending"})
}

// Inspect dumps an event and its related error records.
func (h *Handler) Inspect(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	ctx := c.Request.Context()
	event, err := h.store.Events().Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
			return
		}
		h.logger.Error(err, "failed to load event", "event_id", id.String())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load event"})
		return
	}

	errs, err := h.store.Errors().ListByEvent(ctx, id)
	if err != nil {
		h.logger.Error(err, "failed to load error records", "event_id", id.String())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load error records"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"event":  event,
		"errors": errs,
	})
}
