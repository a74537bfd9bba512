// Package router builds the gin engine and wires handlers onto it.
package router

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/commercebridge/backend/internal/infrastructure/logger"
	"github.com/commercebridge/backend/internal/interfaces/http/middleware"
)

// RouteRegistrar defines the interface for registering routes
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// Config controls the global middleware applied to every route.
type Config struct {
	Environment string
	ServiceName string
	// MaxBodyBytes caps request bodies across the surface.
	MaxBodyBytes int64
	// TracingEnabled turns on OpenTelemetry spans per request.
	TracingEnabled bool
}

// Router manages HTTP route registration on one engine.
type Router struct {
	engine *gin.Engine
	root   *gin.RouterGroup
}

// New creates the engine with the shared middleware chain: recovery,
// request ID, access logging, body cap and optional tracing.
func New(cfg Config, log *zap.Logger) *Router {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(
		logger.Recovery(log),
		middleware.RequestID(),
		logger.GinMiddleware(log),
		middleware.BodyLimit(cfg.MaxBodyBytes),
		middleware.Tracing(middleware.TracingConfig{
			ServiceName: cfg.ServiceName,
			Enabled:     cfg.TracingEnabled,
		}),
	)

	return &Router{
		engine: engine,
		root:   &engine.RouterGroup,
	}
}

// Register wires a registrar onto the root group.
func (r *Router) Register(registrar RouteRegistrar) *Router {
	registrar.RegisterRoutes(r.root)
	return r
}

// RegisterWith wires a registrar onto a sub-group carrying extra
// middleware, e.g. the inbound rate limit on the webhook route.
func (r *Router) RegisterWith(registrar RouteRegistrar, mw ...gin.HandlerFunc) *Router {
	group := r.root.Group("", mw...)
	registrar.RegisterRoutes(group)
	return r
}

// Engine returns the configured gin engine.
func (r *Router) Engine() *gin.Engine {
	return r.engine
}
