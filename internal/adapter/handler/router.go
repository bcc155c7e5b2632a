package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/rl1809/pharmacy/internal/port"
)

type RouterDeps struct {
	Handler     *HTTPHandler
	Auth        port.AuthService
	Logger      *zap.Logger
	Observer    RequestObserver
	RateLimiter *RateLimiter
	Metrics     http.Handler
	ServiceName string
}

// NewRouter wires middleware in order: recovery, tracing, logging, rate
// limiting, then authentication for everything but health and metrics.
func NewRouter(deps RouterDeps) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.ServiceName == "" {
		deps.ServiceName = "pharmacy"
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(deps.ServiceName))
	r.Use(RequestLogger(deps.Logger, deps.Observer))

	r.GET("/health", deps.Handler.HealthCheck)
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	api := r.Group("/")
	if deps.RateLimiter != nil {
		api.Use(deps.RateLimiter.Middleware())
	}
	api.Use(Authenticate(deps.Auth, deps.Logger))
	deps.Handler.Register(api)

	r.NoRoute(func(c *gin.Context) {
		respond(c, http.StatusNotFound, "Not found", nil)
	})
	r.HandleMethodNotAllowed = true
	r.NoMethod(func(c *gin.Context) {
		respond(c, http.StatusMethodNotAllowed, "Method not allowed", nil)
	})
	return r
}
