package app

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/openlearnhq/xblock-runtime/internal/block"
	"github.com/openlearnhq/xblock-runtime/internal/block/builtin"
	"github.com/openlearnhq/xblock-runtime/internal/keys"
	"github.com/openlearnhq/xblock-runtime/internal/modulestore"
	"github.com/openlearnhq/xblock-runtime/internal/partitions"
	"github.com/openlearnhq/xblock-runtime/internal/platform/logger"
	"github.com/openlearnhq/xblock-runtime/internal/services"
)

type Services struct {
	Tokens         services.TokenService
	Sink           services.TrackingSink
	DisabledBlocks *services.DisabledBlockService
	Partitions     *partitions.Service

	// Proctoring is nil unless special exams are enabled.
	Proctoring block.ProctoringService

	// Base holds the process-wide runtime services; the binder clones it
	// per bind and layers the viewer-specific ones on top.
	Base *services.Registry
}

func wireServices(log *logger.Logger, cfg Config, reposet Repos, store modulestore.Store) Services {
	log.Info("Wiring services...")

	partitions.RegisterScheme(partitions.NewRandomScheme(reposet.UserTags, log))

	partitionService := partitions.NewService(log, coursePartitionLister(store), nil)

	base := services.NewRegistry(log)
	base.Register(block.ServiceI18n, services.NewI18nService())
	base.Register(block.ServiceSettings, services.NewSettingsService(log, cfg.XBlockSettings))
	base.Register(block.ServiceFS, services.NewFSService(cfg.FSRoot))
	base.Register(block.ServiceSandbox, services.NewSandboxService(log, cfg.CoursesWithUnsafeCode))
	base.Register(block.ServiceCallToAction, services.NewCallToActionService())
	base.Register(block.ServicePartitions, partitionService)

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		base.Register(block.ServiceCache, services.NewRedisCacheService(log, client))
	} else {
		base.Register(block.ServiceCache, services.NewMemoryCacheService())
	}

	if cfg.XQueue.URL != "" {
		base.Register(block.ServiceXQueue, services.NewXQueueService(log, cfg.XQueue, nil))
	}

	var proctoring block.ProctoringService
	if cfg.Features.EnableSpecialExams {
		proctoring = services.NewTimedExamService(log, reposet.StudentModules)
		base.Register(block.ServiceProctoring, proctoring)
	}

	return Services{
		Tokens:         services.NewTokenService(log, cfg.JWTSecretKey),
		Sink:           services.NewLogTrackingSink(log),
		DisabledBlocks: services.NewDisabledBlockService(log, reposet.DisabledBlocks, cfg.DisabledBlockCacheTTL),
		Partitions:     partitionService,
		Proctoring:     proctoring,
		Base:           base,
	}
}

// coursePartitionLister reads the course's authored user_partitions field
// through a JSON round trip so forward-compatible fields survive.
func coursePartitionLister(store modulestore.Store) partitions.Lister {
	return func(ctx context.Context, course keys.CourseKey) ([]partitions.Partition, error) {
		courseBlock, err := store.GetCourse(ctx, course)
		if err != nil {
			return nil, err
		}
		raw, ok := courseBlock.Fields["user_partitions"]
		if !ok || raw == nil {
			return nil, nil
		}
		encoded, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("encode user_partitions: %w", err)
		}
		var parsed []partitions.Partition
		if err := json.Unmarshal(encoded, &parsed); err != nil {
			return nil, fmt.Errorf("decode user_partitions: %w", err)
		}
		return parsed, nil
	}
}

// wireContentStore loads the configured course fixtures into the in-memory
// store.
func wireContentStore(log *logger.Logger, cfg Config) (modulestore.Store, *block.TypeRegistry, error) {
	types := block.NewTypeRegistry()
	if err := builtin.RegisterAll(types); err != nil {
		return nil, nil, fmt.Errorf("register block types: %w", err)
	}

	store := modulestore.NewInMemory()
	for _, path := range cfg.CourseFixtures {
		if err := modulestore.LoadFixtureInto(store, path, types); err != nil {
			return nil, nil, fmt.Errorf("load course fixture %s: %w", path, err)
		}
		log.Info("Loaded course fixture", "path", path)
	}
	return store, types, nil
}
