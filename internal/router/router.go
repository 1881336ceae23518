package router

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/patient-flow/internal/handler/prometheus"
	"github.com/jwalitptl/patient-flow/internal/middleware"
	"github.com/jwalitptl/patient-flow/internal/session"
	"github.com/jwalitptl/patient-flow/pkg/logger"
)

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

type Router struct {
	engine  *gin.Engine
	session *session.Session
	metrics *prometheus.Handler

	healthH  Handler
	authH    Handler
	viewsH   Handler
	refreshH Handler
	patientH Handler
}

type RouterConfig struct {
	RateLimitEnabled bool
	RateLimit        float64
	RateBurst        int
	CORSConfig       middleware.CORSConfig
	MetricsPath      string
	Debug            bool
}

// Handlers groups the route owners the desk server mounts.
type Handlers struct {
	Health  Handler
	Auth    Handler
	Views   Handler
	Refresh Handler
	Patient Handler
}

func NewRouter(sess *session.Session, metrics *prometheus.Handler, handlers Handlers,
	log *logger.Logger, config RouterConfig) *Router {
	if config.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	r := &Router{
		engine:   engine,
		session:  sess,
		metrics:  metrics,
		healthH:  handlers.Health,
		authH:    handlers.Auth,
		viewsH:   handlers.Views,
		refreshH: handlers.Refresh,
		patientH: handlers.Patient,
	}

	engine.Use(
		middleware.RequestID(),
		middleware.Recovery(log),
		middleware.Logger(log),
		metrics.Middleware(),
		middleware.ErrorHandler(log),
		middleware.CORS(config.CORSConfig),
		middleware.SizeLimit(middleware.DefaultSizeLimitConfig()),
	)

	if config.RateLimitEnabled {
		rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
			RPS:   config.RateLimit,
			Burst: config.RateBurst,
		})
		engine.Use(rateLimiter.RateLimit())
	}

	metricsPath := config.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	engine.GET(metricsPath, metrics.Handler())

	return r
}

func (r *Router) Setup() {
	r.healthH.RegisterRoutes(&r.engine.RouterGroup)

	api := r.engine.Group("/api/v1")
	api.Use(func(c *gin.Context) {
		c.Header("X-API-Version", "1.0")
		c.Next()
	})

	// Public routes
	r.authH.RegisterRoutes(api)
	r.viewsH.RegisterRoutes(api)
	r.refreshH.RegisterRoutes(api)

	// Actions reach the backend and need a session
	protected := api.Group("")
	protected.Use(middleware.RequireSession(r.session))
	r.patientH.RegisterRoutes(protected)
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
