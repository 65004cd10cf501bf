package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/openlearnhq/xblock-runtime/internal/block"
	"github.com/openlearnhq/xblock-runtime/internal/data/repos"
	"github.com/openlearnhq/xblock-runtime/internal/keys"
	pkgerrors "github.com/openlearnhq/xblock-runtime/internal/pkg/errors"
	"github.com/openlearnhq/xblock-runtime/internal/platform/logger"
)

// userTagsService reads and writes per-learner course tags. Only the
// "course" scope exists today; anything else is an invalid-scope error, not
// a silent miss. Anonymous viewers always miss on reads and their writes
// are dropped, so the service is safe to register for every bind.
type userTagsService struct {
	log           *logger.Logger
	repo          repos.UserCourseTagRepo
	userID        uuid.UUID
	authenticated bool
	course        keys.CourseKey
}

func NewUserTagsService(baseLog *logger.Logger, repo repos.UserCourseTagRepo, userID uuid.UUID, authenticated bool, course keys.CourseKey) block.UserTagsService {
	return &userTagsService{
		log:           baseLog.With("service", "UserTagsService"),
		repo:          repo,
		userID:        userID,
		authenticated: authenticated,
		course:        course.ForBranch(),
	}
}

func (s *userTagsService) GetTag(ctx context.Context, scope, key string) (string, error) {
	if scope != "course" {
		return "", fmt.Errorf("%w: unexpected scope %q", pkgerrors.ErrInvalidScope, scope)
	}
	if !s.authenticated {
		return "", nil
	}
	tag, err := s.repo.Get(ctx, nil, s.userID, s.course.String(), key)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return tag.Value, nil
}

func (s *userTagsService) SetTag(ctx context.Context, scope, key, value string) error {
	if scope != "course" {
		return fmt.Errorf("%w: unexpected scope %q", pkgerrors.ErrInvalidScope, scope)
	}
	if !s.authenticated {
		s.log.Debug("Dropping tag write for anonymous viewer", "key", key)
		return nil
	}
	return s.repo.Set(ctx, nil, s.userID, s.course.String(), key, value)
}
