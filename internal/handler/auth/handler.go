package auth

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/patient-flow/internal/handler"
	"github.com/jwalitptl/patient-flow/internal/model"
	"github.com/jwalitptl/patient-flow/internal/session"
	"github.com/jwalitptl/patient-flow/internal/store"
	"github.com/jwalitptl/patient-flow/pkg/logger"
	"github.com/jwalitptl/patient-flow/pkg/validator"
)

// Authenticator exchanges credentials for a bearer token.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (string, model.User, error)
}

// Loader is the part of the sync layer a session change drives.
type Loader interface {
	Refresh(ctx context.Context, force bool) error
	Stop()
}

type Handler struct {
	auth      Authenticator
	session   *session.Session
	store     *store.Store
	loader    Loader
	validator validator.Validator
	logger    *logger.Logger
}

func NewHandler(auth Authenticator, sess *session.Session, st *store.Store, loader Loader, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{
		auth:      auth,
		session:   sess,
		store:     st,
		loader:    loader,
		validator: validator.New(),
		logger:    log,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	sessions := r.Group("/session")
	{
		sessions.GET("", h.Current)
		sessions.POST("", h.Login)
		sessions.DELETE("", h.Logout)
	}
}

func (h *Handler) Current(c *gin.Context) {
	user, ok := h.session.User()
	if !ok || !h.session.Valid() {
		c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("no active session"))
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(user))
}

// Login opens the desk session and starts the first load in the
// background.
func (h *Handler) Login(c *gin.Context) {
	var req model.LoginRequest
	if !handler.BindJSON(c, &req) {
		return
	}
	if err := h.validator.Validate(&req); err != nil {
		handler.Abort(c, err)
		return
	}

	token, user, err := h.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		handler.Abort(c, err)
		return
	}
	h.session.Set(token, &user)
	h.logger.Info("session opened", "user_id", user.ID)

	go func() {
		if err := h.loader.Refresh(context.Background(), true); err != nil {
			h.logger.Warn("initial load failed", "error", err.Error())
		}
	}()

	c.JSON(http.StatusOK, handler.NewSuccessResponse(user))
}

// Logout ends the session, abandons any load in flight and empties the
// store.
func (h *Handler) Logout(c *gin.Context) {
	h.session.Clear()
	h.loader.Stop()
	h.store.Clear()
	c.JSON(http.StatusOK, handler.NewSuccessResponse("logged out successfully"))
}
