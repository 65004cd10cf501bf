package app

import (
	"github.com/gin-gonic/gin"

	"github.com/openlearnhq/xblock-runtime/internal/binding"
	"github.com/openlearnhq/xblock-runtime/internal/handlers"
	"github.com/openlearnhq/xblock-runtime/internal/modulestore"
	"github.com/openlearnhq/xblock-runtime/internal/override"
	"github.com/openlearnhq/xblock-runtime/internal/platform/logger"
	"github.com/openlearnhq/xblock-runtime/internal/server"
	"github.com/openlearnhq/xblock-runtime/internal/toc"
)

type Handlers struct {
	XBlock *handlers.XBlockHandler
	XQueue *handlers.XQueueHandler
	TOC    *handlers.TOCHandler
}

func wireHandlers(
	log *logger.Logger,
	cfg Config,
	store modulestore.Store,
	binder *binding.Binder,
	userOverrides *override.Registry,
	reposet Repos,
	serviceset Services,
) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		XBlock: handlers.NewXBlockHandler(
			log,
			store,
			binder,
			userOverrides,
			reposet.StudentModules,
			serviceset.Sink,
			serviceset.DisabledBlocks,
			handlers.XBlockConfig{
				MaxUploadsPerInput:  cfg.MaxFileuploadsPerInput,
				UploadMaxSizeBytes:  cfg.StudentFileuploadMaxSize,
				ViewEndpointEnabled: cfg.Features.EnableXBlockViewEndpoint,
				LicenseEnabled:      cfg.Features.Licensing,
				StaffDebugEnabled:   cfg.Features.DisplayDebugInfoToStaff,
			},
		),
		XQueue: handlers.NewXQueueHandler(log, store, binder, reposet.AnonymousIDs),
		TOC:    handlers.NewTOCHandler(log, store, binder, userOverrides, toc.NewBuilder(log, store, serviceset.Proctoring)),
	}
}

func wireRouter(cfg Config, handlerset Handlers, middlewareset Middleware) *gin.Engine {
	return server.NewRouter(server.RouterConfig{
		XBlockHandler:  handlerset.XBlock,
		XQueueHandler:  handlerset.XQueue,
		TOCHandler:     handlerset.TOC,
		AuthMiddleware: middlewareset.Auth,
		AllowedOrigins: cfg.AllowedOrigins,
	})
}
