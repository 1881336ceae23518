package patient

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/patient-flow/internal/handler"
	"github.com/jwalitptl/patient-flow/internal/model"
	"github.com/jwalitptl/patient-flow/internal/repository"
	"github.com/jwalitptl/patient-flow/internal/service/attendance"
	"github.com/jwalitptl/patient-flow/pkg/errors"
)

type Handler struct {
	service attendance.AttendanceService
	journal repository.TransitionRepository
}

// NewHandler wires the desk actions; journal is nil when no database is
// configured.
func NewHandler(service attendance.AttendanceService, journal repository.TransitionRepository) *Handler {
	return &Handler{service: service, journal: journal}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	patients := r.Group("/patients")
	{
		patients.POST("", h.Register)
		patients.POST("/lookup", h.Lookup)
		patients.POST("/:id/triage", h.SubmitTriage)
		patients.POST("/:id/conclude", h.Conclude)
		patients.GET("/:id/history", h.History)
	}
	physicians := r.Group("/physicians/:physicianId")
	{
		physicians.POST("/next", h.CallNext)
		physicians.POST("/select/:id", h.Select)
		physicians.POST("/conclude/:id", h.ConcludeAndCallNext)
	}
}

func (h *Handler) Register(c *gin.Context) {
	var req model.RegistrationRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	p, err := h.service.Register(c.Request.Context(), &req)
	if err != nil {
		handler.Abort(c, err)
		return
	}

	c.JSON(http.StatusCreated, handler.NewSuccessResponse(p))
}

type lookupResponse struct {
	Found bool `json:"found"`
}

func (h *Handler) Lookup(c *gin.Context) {
	var req model.LookupRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	found, err := h.service.Lookup(c.Request.Context(), &req)
	if err != nil {
		handler.Abort(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(lookupResponse{Found: found}))
}

func (h *Handler) SubmitTriage(c *gin.Context) {
	var req model.TriageRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	p, err := h.service.SubmitTriage(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		handler.Abort(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(p))
}

// CallNext answers 200 with no data when the queue is empty.
func (h *Handler) CallNext(c *gin.Context) {
	p, ok, err := h.service.CallNext(c.Request.Context(), c.Param("physicianId"))
	if err != nil {
		handler.Abort(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusOK, &handler.Response{Status: "success", Message: "queue is empty"})
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(p))
}

func (h *Handler) Select(c *gin.Context) {
	p, err := h.service.Select(c.Request.Context(), c.Param("physicianId"), c.Param("id"))
	if err != nil {
		handler.Abort(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(p))
}

func (h *Handler) Conclude(c *gin.Context) {
	var req model.ConclusionRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	p, err := h.service.Conclude(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		handler.Abort(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(p))
}

// ConcludeAndCallNext finishes the consultation and calls the next patient.
func (h *Handler) ConcludeAndCallNext(c *gin.Context) {
	var req model.ConclusionRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	out, err := h.service.ConcludeAndCallNext(c.Request.Context(), c.Param("physicianId"), c.Param("id"), &req)
	if err != nil {
		handler.Abort(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(out))
}

// History lists the journalled transitions of a patient.
func (h *Handler) History(c *gin.Context) {
	if h.journal == nil {
		c.JSON(http.StatusServiceUnavailable, handler.NewErrorResponse("transition journal is not configured"))
		return
	}

	transitions, err := h.journal.ListByPatient(c.Request.Context(), c.Param("id"))
	if err != nil {
		handler.Abort(c, errors.Unknown(err))
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(transitions))
}
