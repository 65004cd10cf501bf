package block

import (
	"context"
	"io/fs"
	"time"

	"github.com/google/uuid"

	"github.com/openlearnhq/xblock-runtime/internal/keys"
)

// Service registry names. Required services raise ErrNoSuchService when the
// registry lacks them; optional capability services do the same rather than
// ever answering with a nil.
const (
	ServiceFieldData    = "field-data"
	ServiceUser         = "user"
	ServiceI18n         = "i18n"
	ServiceFS           = "fs"
	ServicePartitions   = "partitions"
	ServiceSettings     = "settings"
	ServiceUserTags     = "user_tags"
	ServicePublish      = "publish"
	ServiceReplaceURLs  = "replace_urls"
	ServiceRebindUser   = "rebind_user"
	ServiceCompletion   = "completion"
	ServiceCache        = "cache"
	ServiceSandbox      = "sandbox"
	ServiceCallToAction = "call_to_action"

	ServiceBadging      = "badging"
	ServiceBookmarks    = "bookmarks"
	ServiceCredit       = "credit"
	ServiceGating       = "gating"
	ServiceTeams        = "teams"
	ServiceProctoring   = "proctoring"
	ServiceVerification = "verification"
	ServiceGradeUtils   = "grade_utils"
	ServiceUserState    = "user_state"
	ServiceXQueue       = "xqueue"
)

// UserInfo is the payload of the "user" service.
type UserInfo struct {
	ID              *uuid.UUID
	Username        string
	IsAuthenticated bool
	IsStaff         bool
	Role            string
	AnonymousID     string
	CountryCode     string
}

type UserService interface {
	Info() UserInfo
}

type I18nService interface {
	Translate(msg string) string
	FormatDate(t time.Time) string
}

type FSService interface {
	Open(name string) (fs.File, error)
}

type SettingsService interface {
	// SettingsFor returns the bucket for the block's settings key, or def
	// (the empty map when def is nil).
	SettingsFor(b *Bound, def map[string]any) (map[string]any, error)
}

type UserTagsService interface {
	GetTag(ctx context.Context, scope, key string) (string, error)
	SetTag(ctx context.Context, scope, key, value string) error
}

type PublishService interface {
	Publish(ctx context.Context, b *Bound, eventName string, payload map[string]any) error
}

type ReplaceURLsService interface {
	ReplaceURLs(content string) string
}

type RebindUserService interface {
	RebindUser(ctx context.Context, b *Bound, realUser uuid.UUID) error
}

type CompletionService interface {
	SubmitCompletion(ctx context.Context, usageKey keys.UsageKey, value float64) error
}

type CacheService interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

type SandboxService interface {
	CanExecuteUnsafeCode(course keys.CourseKey) bool
	GetPythonLibZip(ctx context.Context, course keys.CourseKey) ([]byte, error)
}

// CTA is one call-to-action entry.
type CTA struct {
	Link        string            `json:"link"`
	LinkName    string            `json:"link_name"`
	FormValues  map[string]string `json:"form_values"`
	Description string            `json:"description"`
}

type CallToActionService interface {
	GetCTAs(ctx context.Context, b *Bound, category string) []CTA
}

// XQueueService dispatches work to the external grader. The verdict comes
// back later through the xqueue ingress, keyed by lmsKey.
type XQueueService interface {
	Submit(ctx context.Context, queueName, lmsKey string, body map[string]any) error
}

// ProctoringAttempt is the exam context the TOC builder attaches to timed
// and proctored sections.
type ProctoringAttempt struct {
	Status           string `json:"status"`
	ShortDescription string `json:"short_description"`
	SuggestedIcon    string `json:"suggested_icon"`
	InCompletedState bool   `json:"in_completed_state"`
}

type ProctoringService interface {
	AttemptStatus(ctx context.Context, userID uuid.UUID, usageKey keys.UsageKey) (ProctoringAttempt, error)
}
