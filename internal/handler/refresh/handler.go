package refresh

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/patient-flow/internal/handler"
	"github.com/jwalitptl/patient-flow/internal/notice"
	"github.com/jwalitptl/patient-flow/internal/syncer"
	"github.com/jwalitptl/patient-flow/pkg/errors"
)

// Syncer is the sync layer as the desks drive it.
type Syncer interface {
	Refresh(ctx context.Context, force bool) error
	OnFocus(ctx context.Context) error
	RetryLoad(ctx context.Context) error
	ClearError()
	Status() syncer.Status
}

type Handler struct {
	syncer  Syncer
	notices *notice.Board
}

func NewHandler(s Syncer, notices *notice.Board) *Handler {
	return &Handler{syncer: s, notices: notices}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	sync := r.Group("/sync")
	{
		sync.GET("/status", h.Status)
		sync.POST("/refresh", h.Refresh)
		sync.POST("/focus", h.Focus)
		sync.POST("/retry", h.Retry)
		sync.DELETE("/error", h.ClearError)
	}
	notices := r.Group("/notices")
	{
		notices.GET("", h.Notices)
		notices.DELETE("/:id", h.Dismiss)
	}
}

func (h *Handler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, handler.NewSuccessResponse(h.syncer.Status()))
}

// Refresh loads if the data is stale, or always with ?force=true. It
// answers with the sync status once the load settles.
func (h *Handler) Refresh(c *gin.Context) {
	h.run(c, func(ctx context.Context) error {
		return h.syncer.Refresh(ctx, c.Query("force") == "true")
	})
}

func (h *Handler) Focus(c *gin.Context) {
	h.run(c, h.syncer.OnFocus)
}

func (h *Handler) Retry(c *gin.Context) {
	h.run(c, h.syncer.RetryLoad)
}

func (h *Handler) ClearError(c *gin.Context) {
	h.syncer.ClearError()
	c.JSON(http.StatusOK, handler.NewSuccessResponse(h.syncer.Status()))
}

func (h *Handler) Notices(c *gin.Context) {
	c.JSON(http.StatusOK, handler.NewSuccessResponse(h.notices.Active()))
}

func (h *Handler) Dismiss(c *gin.Context) {
	if !h.notices.Dismiss(c.Param("id")) {
		handler.Abort(c, errors.NotFound("notice"))
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) run(c *gin.Context, load func(ctx context.Context) error) {
	if err := load(c.Request.Context()); err != nil {
		handler.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(h.syncer.Status()))
}
