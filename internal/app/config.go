package app

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/openlearnhq/xblock-runtime/internal/platform/envutil"
	"github.com/openlearnhq/xblock-runtime/internal/platform/logger"
	"github.com/openlearnhq/xblock-runtime/internal/services"
)

// Features mirrors the deployment feature toggles.
type Features struct {
	EnableSpecialExams       bool
	DisplayDebugInfoToStaff  bool
	DisplayHistogramsToStaff bool
	Licensing                bool
	EnableXBlockViewEndpoint bool
	EnableOpenBadges         bool
	EnableCompletionTracking bool
}

type Config struct {
	Port           string
	AllowedOrigins []string

	JWTSecretKey      string
	AnonymousIDSecret string

	RedisAddr string
	FSRoot    string

	// CourseFixtures points at YAML course files loaded into the in-memory
	// content store at startup.
	CourseFixtures []string

	MaxFileuploadsPerInput   int
	StudentFileuploadMaxSize int64
	XBlockSettings           string

	FieldOverrideProviders            []string
	ModulestoreFieldOverrideProviders []string

	CoursesWithUnsafeCode []string
	CrawlerUserAgents     []string

	Features Features
	XQueue   services.XQueueConfig

	DisabledBlockCacheTTL time.Duration
}

func LoadConfig(log *logger.Logger) Config {
	cfg := Config{
		Port:           envutil.String("PORT", "8080", log),
		AllowedOrigins: envutil.List("CORS_ALLOWED_ORIGINS", log),

		JWTSecretKey:      envutil.String("JWT_SECRET_KEY", "defaultsecret", log),
		AnonymousIDSecret: envutil.String("ANONYMOUS_ID_SECRET_KEY", "defaultsecret", log),

		RedisAddr: envutil.String("REDIS_ADDR", "", log),
		FSRoot:    envutil.String("FS_ROOT", "./data", log),

		CourseFixtures: envutil.List("COURSE_FIXTURES", log),

		MaxFileuploadsPerInput:   envutil.Int("MAX_FILEUPLOADS_PER_INPUT", 20, log),
		StudentFileuploadMaxSize: envutil.Int64("STUDENT_FILEUPLOAD_MAX_SIZE", 4*1000*1000, log),
		XBlockSettings:           envutil.String("XBLOCK_SETTINGS", "", log),

		FieldOverrideProviders:            envutil.List("FIELD_OVERRIDE_PROVIDERS", log),
		ModulestoreFieldOverrideProviders: envutil.List("MODULESTORE_FIELD_OVERRIDE_PROVIDERS", log),

		CoursesWithUnsafeCode: envutil.List("COURSES_WITH_UNSAFE_CODE", log),
		CrawlerUserAgents:     envutil.List("CRAWLER_USER_AGENTS", log),

		Features: Features{
			EnableSpecialExams:       envutil.Bool("FEATURES_ENABLE_SPECIAL_EXAMS", false, log),
			DisplayDebugInfoToStaff:  envutil.Bool("FEATURES_DISPLAY_DEBUG_INFO_TO_STAFF", true, log),
			DisplayHistogramsToStaff: envutil.Bool("FEATURES_DISPLAY_HISTOGRAMS_TO_STAFF", false, log),
			Licensing:                envutil.Bool("FEATURES_LICENSING", false, log),
			EnableXBlockViewEndpoint: envutil.Bool("FEATURES_ENABLE_XBLOCK_VIEW_ENDPOINT", false, log),
			EnableOpenBadges:         envutil.Bool("FEATURES_ENABLE_OPENBADGES", false, log),
			EnableCompletionTracking: envutil.Bool("FEATURES_ENABLE_COMPLETION_TRACKING", true, log),
		},

		XQueue: services.XQueueConfig{
			URL:         envutil.String("XQUEUE_URL", "", log),
			CallbackURL: envutil.String("XQUEUE_CALLBACK_URL", "", log),
			WaitTime:    time.Duration(envutil.Int("XQUEUE_WAITTIME_BETWEEN_REQUESTS", 5, log)) * time.Second,
		},

		DisabledBlockCacheTTL: time.Duration(envutil.Int("DISABLED_BLOCK_CACHE_TTL", 30, log)) * time.Second,
	}

	if raw := envutil.String("XQUEUE_DJANGO_AUTH", "", log); raw != "" {
		auth := map[string]string{}
		if err := json.Unmarshal([]byte(raw), &auth); err != nil {
			log.Warn("Invalid XQUEUE_DJANGO_AUTH, ignoring", "error", err)
		} else {
			cfg.XQueue.DjangoAuth = auth
		}
	}
	if raw := envutil.String("XQUEUE_BASIC_AUTH", "", log); raw != "" {
		parts := strings.SplitN(raw, ":", 2)
		if len(parts) == 2 {
			cfg.XQueue.BasicAuth = parts
		} else {
			log.Warn("Invalid XQUEUE_BASIC_AUTH, expected user:password")
		}
	}

	return cfg
}
