package app

import (
	"github.com/openlearnhq/xblock-runtime/internal/middleware"
	"github.com/openlearnhq/xblock-runtime/internal/platform/logger"
)

type Middleware struct {
	Auth *middleware.AuthMiddleware
}

func wireMiddleware(log *logger.Logger, cfg Config, serviceset Services) Middleware {
	log.Info("Wiring middleware...")
	return Middleware{
		Auth: middleware.NewAuthMiddleware(log, serviceset.Tokens, cfg.CrawlerUserAgents),
	}
}
