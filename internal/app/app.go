package app

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/openlearnhq/xblock-runtime/internal/binding"
	"github.com/openlearnhq/xblock-runtime/internal/data/db"
	"github.com/openlearnhq/xblock-runtime/internal/modulestore"
	"github.com/openlearnhq/xblock-runtime/internal/observability"
	"github.com/openlearnhq/xblock-runtime/internal/override"
	"github.com/openlearnhq/xblock-runtime/internal/platform/logger"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Router   *gin.Engine
	Cfg      Config
	Store    modulestore.Store
	Repos    Repos
	Services Services
	Binder   *binding.Binder

	otelShutdown func(context.Context) error
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)

	otelShutdown := observability.InitOTel(context.Background(), log, observability.OtelConfig{
		ServiceName: "xblock-runtime",
		Environment: os.Getenv("APP_ENV"),
		Version:     os.Getenv("APP_VERSION"),
	})

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}
	theDB := pg.DB()

	store, _, err := wireContentStore(log, cfg)
	if err != nil {
		log.Sync()
		return nil, err
	}

	reposet := wireRepos(theDB, log)
	serviceset := wireServices(log, cfg, reposet, store)

	userOverrides, err := override.NewRegistry(cfg.FieldOverrideProviders)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("field override providers: %w", err)
	}
	storeOverrides, err := override.NewRegistry(cfg.ModulestoreFieldOverrideProviders)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("modulestore override providers: %w", err)
	}

	binder := binding.NewBinder(binding.Config{
		Log:               log,
		Store:             store,
		SMRepo:            reposet.StudentModules,
		TagRepo:           reposet.UserTags,
		AnonRepo:          reposet.AnonymousIDs,
		Base:              serviceset.Base,
		Sink:              serviceset.Sink,
		AuthoredOverrides: storeOverrides,
		Secret:            []byte(cfg.AnonymousIDSecret),
		CompletionEnabled: cfg.Features.EnableCompletionTracking,
	})

	handlerset := wireHandlers(log, cfg, store, binder, userOverrides, reposet, serviceset)
	middlewareset := wireMiddleware(log, cfg, serviceset)
	router := wireRouter(cfg, handlerset, middlewareset)

	return &App{
		Log:          log,
		DB:           theDB,
		Router:       router,
		Cfg:          cfg,
		Store:        store,
		Repos:        reposet,
		Services:     serviceset,
		Binder:       binder,
		otelShutdown: otelShutdown,
	}, nil
}

func (a *App) Run() error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	a.Log.Info("Server listening", "port", a.Cfg.Port)
	return a.Router.Run(":" + a.Cfg.Port)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.otelShutdown != nil {
		if err := a.otelShutdown(context.Background()); err != nil {
			a.Log.Warn("otel shutdown failed", "error", err)
		}
	}
	a.Log.Sync()
}
