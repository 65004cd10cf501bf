package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/openlearnhq/xblock-runtime/internal/block"
	"github.com/openlearnhq/xblock-runtime/internal/data/repos"
	"github.com/openlearnhq/xblock-runtime/internal/keys"
	pkgerrors "github.com/openlearnhq/xblock-runtime/internal/pkg/errors"
	"github.com/openlearnhq/xblock-runtime/internal/platform/logger"
	"github.com/openlearnhq/xblock-runtime/internal/requestdata"
	"github.com/openlearnhq/xblock-runtime/internal/types"
)

// publishService routes block-published events. Grade and completion
// events have dedicated handlers; everything else goes to the tracking
// sink wrapped in the course/user context envelope.
type publishService struct {
	log        *logger.Logger
	smRepo     repos.StudentModuleRepo
	completion block.CompletionService
	sink       TrackingSink
	viewer     requestdata.Viewer
	course     keys.CourseKey
}

func NewPublishService(baseLog *logger.Logger, smRepo repos.StudentModuleRepo, completion block.CompletionService, sink TrackingSink, viewer requestdata.Viewer, course keys.CourseKey) block.PublishService {
	return &publishService{
		log:        baseLog.With("service", "PublishService"),
		smRepo:     smRepo,
		completion: completion,
		sink:       sink,
		viewer:     viewer,
		course:     course.ForBranch(),
	}
}

func (s *publishService) Publish(ctx context.Context, b *block.Bound, eventName string, payload map[string]any) error {
	switch eventName {
	case "grade":
		return s.handleGrade(ctx, b, payload)
	case "completion":
		return s.handleCompletion(ctx, b, payload)
	case "progress":
		return s.handleProgress(ctx, b, payload)
	default:
		s.track(ctx, b, eventName, payload)
		return nil
	}
}

// handleGrade persists the score. Masquerading staff never write grades
// into the learner's record, and anonymous viewers have no record to
// write.
func (s *publishService) handleGrade(ctx context.Context, b *block.Bound, payload map[string]any) error {
	if s.viewer.IsMasqueradingAsStudent() {
		return nil
	}
	if !s.viewer.IsAuthenticated || b.UserID == nil {
		return nil
	}
	userID := *b.UserID
	usage := b.UsageKey().String()

	var grade, maxGrade *float64
	if deleted, _ := payload["score_deleted"].(bool); !deleted {
		v, ok := floatValue(payload["value"])
		if !ok {
			return fmt.Errorf("%w: grade event missing value", pkgerrors.ErrInvalidArgument)
		}
		m, ok := floatValue(payload["max_value"])
		if !ok {
			return fmt.Errorf("%w: grade event missing max_value", pkgerrors.ErrInvalidArgument)
		}
		grade, maxGrade = &v, &m
	}
	onlyIfHigher, _ := payload["only_if_higher"].(bool)
	opts := repos.SaveOptions{TouchModified: true}

	err := s.smRepo.SaveGrade(ctx, nil, userID, usage, grade, maxGrade, onlyIfHigher, opts)
	if errors.Is(err, pkgerrors.ErrNotFound) {
		_, err = s.smRepo.CreateOrUpdate(ctx, nil, &types.StudentModule{
			UserID:     userID,
			UsageKey:   usage,
			CourseKey:  s.course.String(),
			ModuleType: b.Type().Name,
			State:      datatypes.JSON([]byte("{}")),
			Grade:      grade,
			MaxGrade:   maxGrade,
			Done:       "na",
		}, opts)
	}
	if err != nil {
		return err
	}
	s.track(ctx, b, "grade", payload)
	return nil
}

// handleCompletion persists completion. Like grades, masquerading staff
// never write into the learner's record.
func (s *publishService) handleCompletion(ctx context.Context, b *block.Bound, payload map[string]any) error {
	if s.viewer.IsMasqueradingAsStudent() {
		return nil
	}
	value, ok := floatValue(payload["completion"])
	if !ok {
		return fmt.Errorf("%w: completion event missing completion", pkgerrors.ErrInvalidArgument)
	}
	return s.completion.SubmitCompletion(ctx, b.UsageKey(), value)
}

// handleProgress is the deprecated fallback: treated as full completion
// unless the block declares its own completion handling.
func (s *publishService) handleProgress(ctx context.Context, b *block.Bound, payload map[string]any) error {
	if s.viewer.IsMasqueradingAsStudent() {
		return nil
	}
	if b.Type().HasCustomCompletion {
		return nil
	}
	if raw, present := payload["user_id"]; present {
		claimed, ok := raw.(string)
		mine := s.viewer.EffectiveUserID()
		if !ok || claimed != mine.String() {
			s.log.Warn("Dropping progress event for mismatched user",
				"claimed_user", raw,
				"usage_key", b.UsageKey().String(),
			)
			return nil
		}
	}
	return s.completion.SubmitCompletion(ctx, b.UsageKey(), 1.0)
}

func (s *publishService) track(ctx context.Context, b *block.Bound, eventName string, payload map[string]any) {
	evCtx := map[string]any{
		"course_id": s.course.String(),
		"usage_key": b.UsageKey().String(),
		"org":       s.course.Org,
	}
	if b.UserID != nil && *b.UserID != uuid.Nil {
		evCtx["user_id"] = b.UserID.String()
	}
	if keys.IsAsideKey(b.UsageKey().String()) {
		evCtx["aside"] = true
	}
	s.sink.Emit(ctx, TrackingEvent{
		Name:      eventName,
		Timestamp: time.Now().UTC(),
		Context:   evCtx,
		Data:      payload,
	})
}

func floatValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
