package services

import (
	"context"
	"regexp"

	"github.com/openlearnhq/xblock-runtime/internal/block"
	"github.com/openlearnhq/xblock-runtime/internal/keys"
	pkgerrors "github.com/openlearnhq/xblock-runtime/internal/pkg/errors"
	"github.com/openlearnhq/xblock-runtime/internal/platform/logger"
)

// sandboxService gates unsafe code execution per course. The allowlist is a
// set of regexes from COURSES_WITH_UNSAFE_CODE matched against the course
// id; a pattern that fails to compile is logged and skipped.
type sandboxService struct {
	log      *logger.Logger
	patterns []*regexp.Regexp
}

func NewSandboxService(baseLog *logger.Logger, coursePatterns []string) block.SandboxService {
	svc := &sandboxService{log: baseLog.With("service", "SandboxService")}
	for _, p := range coursePatterns {
		re, err := regexp.Compile("^" + p + "$")
		if err != nil {
			svc.log.Warn("Skipping bad unsafe-code course pattern", "pattern", p, "error", err)
			continue
		}
		svc.patterns = append(svc.patterns, re)
	}
	return svc
}

func (s *sandboxService) CanExecuteUnsafeCode(course keys.CourseKey) bool {
	id := course.ForBranch().String()
	for _, re := range s.patterns {
		if re.MatchString(id) {
			return true
		}
	}
	return false
}

func (s *sandboxService) GetPythonLibZip(ctx context.Context, course keys.CourseKey) ([]byte, error) {
	return nil, pkgerrors.ErrNotFound
}
