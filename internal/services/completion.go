package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/openlearnhq/xblock-runtime/internal/block"
	"github.com/openlearnhq/xblock-runtime/internal/data/repos"
	"github.com/openlearnhq/xblock-runtime/internal/keys"
	pkgerrors "github.com/openlearnhq/xblock-runtime/internal/pkg/errors"
	"github.com/openlearnhq/xblock-runtime/internal/platform/logger"
	"github.com/openlearnhq/xblock-runtime/internal/types"
)

// completionService records block completion for authenticated learners.
// Completion rows reuse the student-state store with a dedicated module
// type so aggregation jobs can find them.
type completionService struct {
	log      *logger.Logger
	repo     repos.StudentModuleRepo
	enabled  bool
	userID   uuid.UUID
	realUser bool
	course   keys.CourseKey
}

func NewCompletionService(baseLog *logger.Logger, repo repos.StudentModuleRepo, enabled bool, userID uuid.UUID, realUser bool, course keys.CourseKey) block.CompletionService {
	return &completionService{
		log:      baseLog.With("service", "CompletionService"),
		repo:     repo,
		enabled:  enabled,
		userID:   userID,
		realUser: realUser,
		course:   course.ForBranch(),
	}
}

func (s *completionService) SubmitCompletion(ctx context.Context, usageKey keys.UsageKey, value float64) error {
	if !s.enabled {
		return nil
	}
	if !s.realUser {
		return fmt.Errorf("%w: completion requires an authenticated learner", pkgerrors.ErrUnauthorized)
	}
	if value < 0 || value > 1 {
		return fmt.Errorf("%w: completion %v outside [0,1]", pkgerrors.ErrInvalidArgument, value)
	}
	done := "i"
	if value >= 1 {
		done = "f"
	}
	_, err := s.repo.CreateOrUpdate(ctx, nil, &types.StudentModule{
		UserID:     s.userID,
		UsageKey:   usageKey.String(),
		CourseKey:  s.course.String(),
		ModuleType: "completion",
		State:      datatypes.JSON([]byte(fmt.Sprintf(`{"completion":%v}`, value))),
		Done:       done,
	}, repos.SaveOptions{TouchModified: true})
	return err
}
