package services

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/openlearnhq/xblock-runtime/internal/block"
	"github.com/openlearnhq/xblock-runtime/internal/data/repos"
	"github.com/openlearnhq/xblock-runtime/internal/keys"
	pkgerrors "github.com/openlearnhq/xblock-runtime/internal/pkg/errors"
	"github.com/openlearnhq/xblock-runtime/internal/platform/logger"
)

// timedExamService reports the learner's exam attempt context from the
// section's persisted student state. Deployments with a dedicated
// proctoring backend register their own implementation under the same
// service name.
type timedExamService struct {
	log    *logger.Logger
	smRepo repos.StudentModuleRepo
}

func NewTimedExamService(baseLog *logger.Logger, smRepo repos.StudentModuleRepo) block.ProctoringService {
	return &timedExamService{
		log:    baseLog.With("service", "TimedExamService"),
		smRepo: smRepo,
	}
}

func (s *timedExamService) AttemptStatus(ctx context.Context, userID uuid.UUID, usageKey keys.UsageKey) (block.ProctoringAttempt, error) {
	row, err := s.smRepo.Get(ctx, nil, userID, usageKey.String())
	if errors.Is(err, pkgerrors.ErrNotFound) {
		return attemptFor(""), nil
	}
	if err != nil {
		return block.ProctoringAttempt{}, err
	}
	var state struct {
		AttemptStatus string `json:"attempt_status"`
	}
	if err := json.Unmarshal(row.State, &state); err != nil {
		s.log.Warn("Unreadable exam state, reporting attempt as not started",
			"usage_key", usageKey.String(), "error", err)
		return attemptFor(""), nil
	}
	return attemptFor(state.AttemptStatus), nil
}

func attemptFor(status string) block.ProctoringAttempt {
	switch status {
	case "started", "ready_to_submit":
		return block.ProctoringAttempt{
			Status:           status,
			ShortDescription: "Exam in progress",
			SuggestedIcon:    "fa-pencil-square-o",
		}
	case "submitted", "second_review_required":
		return block.ProctoringAttempt{
			Status:           status,
			ShortDescription: "Pending review",
			SuggestedIcon:    "fa-spinner",
			InCompletedState: true,
		}
	case "verified":
		return block.ProctoringAttempt{
			Status:           status,
			ShortDescription: "Passed proctoring",
			SuggestedIcon:    "fa-check",
			InCompletedState: true,
		}
	case "rejected", "error":
		return block.ProctoringAttempt{
			Status:           status,
			ShortDescription: "Failed proctoring",
			SuggestedIcon:    "fa-exclamation-triangle",
			InCompletedState: true,
		}
	default:
		return block.ProctoringAttempt{
			Status:           "created",
			ShortDescription: "Not started",
			SuggestedIcon:    "fa-clock-o",
		}
	}
}
