package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/openlearnhq/xblock-runtime/internal/handlers"
	"github.com/openlearnhq/xblock-runtime/internal/middleware"
)

type RouterConfig struct {
	XBlockHandler  *handlers.XBlockHandler
	XQueueHandler  *handlers.XQueueHandler
	TOCHandler     *handlers.TOCHandler
	AuthMiddleware *middleware.AuthMiddleware
	AllowedOrigins []string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()
	router.Use(otelgin.Middleware("xblock-runtime"))

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With", "X-CSRFToken"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	courses := router.Group("/courses/:courseID")

	// Browser-facing dispatch: anonymous GET is allowed, writes need a real
	// identity and, for cookie sessions, CSRF.
	authed := courses.Group("/")
	authed.Use(cfg.AuthMiddleware.Identify(), cfg.AuthMiddleware.RequireWriteAuth())
	{
		authed.POST("/xblock/:usageID/handler/:handler", cfg.XBlockHandler.HandleCallback)
		authed.POST("/xblock/:usageID/handler/:handler/*suffix", cfg.XBlockHandler.HandleCallback)
		authed.GET("/xblock/:usageID/handler/:handler", cfg.XBlockHandler.HandleCallback)
		authed.GET("/xblock/:usageID/handler/:handler/*suffix", cfg.XBlockHandler.HandleCallback)
		authed.GET("/xblock/:usageID/view/:view", cfg.XBlockHandler.HandleView)
		authed.GET("/toc", cfg.TOCHandler.GetTOC)
	}

	// Unauthenticated alias plus the grader return path; both run as the
	// anonymous identity with no CSRF.
	anon := courses.Group("/")
	anon.Use(cfg.AuthMiddleware.ForceAnonymous())
	{
		anon.POST("/xblock/:usageID/handler_noauth/:handler", cfg.XBlockHandler.HandleCallback)
		anon.POST("/xblock/:usageID/handler_noauth/:handler/*suffix", cfg.XBlockHandler.HandleCallback)
		anon.POST("/xqueue/:userID/:usageID/:dispatch", cfg.XQueueHandler.HandleCallback)
	}

	return router
}
