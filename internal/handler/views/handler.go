package views

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/patient-flow/internal/handler"
	"github.com/jwalitptl/patient-flow/internal/model"
	"github.com/jwalitptl/patient-flow/internal/store"
	"github.com/jwalitptl/patient-flow/internal/triage"
	"github.com/jwalitptl/patient-flow/internal/view"
)

// Handler serves the derived desk views straight from the store. Reads
// never touch the backend.
type Handler struct {
	store *store.Store
	now   func() time.Time
}

func NewHandler(st *store.Store) *Handler {
	return &Handler{store: st, now: time.Now}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	views := r.Group("/views")
	{
		views.GET("/triage", h.Triage)
		views.GET("/physician/:physicianId", h.Physician)
		views.GET("/panel", h.Panel)
	}
	r.GET("/classify", h.Classify)
}

func (h *Handler) Triage(c *gin.Context) {
	c.JSON(http.StatusOK, handler.NewSuccessResponse(view.Triage(h.store.List(), h.now())))
}

func (h *Handler) Physician(c *gin.Context) {
	v := view.Physician(h.store.List(), c.Param("physicianId"), h.now())
	c.JSON(http.StatusOK, handler.NewSuccessResponse(v))
}

func (h *Handler) Panel(c *gin.Context) {
	c.JSON(http.StatusOK, handler.NewSuccessResponse(view.Panel(h.store.List(), h.now())))
}

type classification struct {
	Priority model.Priority `json:"priority"`
	Label    string         `json:"label"`
}

// Classify is the live suggestion shown while the complaint is typed.
func (h *Handler) Classify(c *gin.Context) {
	p := triage.PriorityOf(c.Query("complaint"))
	c.JSON(http.StatusOK, handler.NewSuccessResponse(classification{Priority: p, Label: p.Label()}))
}
