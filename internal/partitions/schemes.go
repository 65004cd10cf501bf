package partitions

import (
	"context"
	"fmt"
	"hash/fnv"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/openlearnhq/xblock-runtime/internal/data/repos"
	"github.com/openlearnhq/xblock-runtime/internal/keys"
	pkgerrors "github.com/openlearnhq/xblock-runtime/internal/pkg/errors"
	"github.com/openlearnhq/xblock-runtime/internal/platform/logger"
)

// Scheme decides group membership for one partition kind. Implementations
// may be non-deterministic; the service's per-request cache keeps a single
// render consistent regardless.
type Scheme interface {
	Name() string
	// GetGroup returns the user's group, assigning one if absent when
	// assign is true. A nil group with nil error means "no assignment".
	GetGroup(ctx context.Context, course keys.CourseKey, userID uuid.UUID, p *Partition, assign bool) (*Group, error)
}

var (
	schemeMu sync.RWMutex
	schemes  = map[string]Scheme{}
)

func RegisterScheme(s Scheme) {
	schemeMu.Lock()
	defer schemeMu.Unlock()
	schemes[s.Name()] = s
}

func SchemeByName(name string) (Scheme, error) {
	schemeMu.RLock()
	defer schemeMu.RUnlock()
	s, ok := schemes[name]
	if !ok {
		return nil, fmt.Errorf("%w: partition scheme %q", pkgerrors.ErrNotFound, name)
	}
	return s, nil
}

// RandomScheme assigns uniformly at hash and persists the decision as a
// user course tag so the learner keeps the same group forever.
type RandomScheme struct {
	tags repos.UserCourseTagRepo
	log  *logger.Logger
}

func NewRandomScheme(tags repos.UserCourseTagRepo, baseLog *logger.Logger) *RandomScheme {
	return &RandomScheme{tags: tags, log: baseLog.With("scheme", "random")}
}

func (s *RandomScheme) Name() string { return "random" }

func tagKeyFor(p *Partition) string {
	return fmt.Sprintf("xblock.partition_service.partition_%d", p.ID)
}

func (s *RandomScheme) GetGroup(ctx context.Context, course keys.CourseKey, userID uuid.UUID, p *Partition, assign bool) (*Group, error) {
	if len(p.Groups) == 0 {
		return nil, nil
	}
	courseStr := course.ForBranch().String()

	tag, err := s.tags.Get(ctx, nil, userID, courseStr, tagKeyFor(p))
	if err == nil {
		gid, convErr := strconv.Atoi(tag.Value)
		if convErr == nil {
			if g, gErr := p.GroupByID(gid); gErr == nil {
				return &g, nil
			}
			// The stored group no longer exists; fall through to reassign.
			s.log.Warn("stored group vanished from partition, reassigning",
				"partition", p.ID, "group", gid, "user", userID)
		}
	} else if err != pkgerrors.ErrNotFound {
		return nil, err
	}

	if !assign {
		return nil, nil
	}

	h := fnv.New32a()
	h.Write([]byte(userID.String()))
	h.Write([]byte(courseStr))
	h.Write([]byte(strconv.Itoa(p.ID)))
	g := p.Groups[int(h.Sum32())%len(p.Groups)]
	if err := s.tags.Set(ctx, nil, userID, courseStr, tagKeyFor(p), strconv.Itoa(g.ID)); err != nil {
		return nil, err
	}
	return &g, nil
}

// EnrollmentTrackScheme maps the learner's enrollment mode to a group. The
// mode lookup is injected; the default resolver puts everyone in the audit
// group.
type EnrollmentTrackScheme struct {
	// ModeFor returns the learner's enrollment mode for the course.
	ModeFor func(ctx context.Context, course keys.CourseKey, userID uuid.UUID) string
}

func (s *EnrollmentTrackScheme) Name() string { return "enrollment_track" }

func (s *EnrollmentTrackScheme) GetGroup(ctx context.Context, course keys.CourseKey, userID uuid.UUID, p *Partition, assign bool) (*Group, error) {
	mode := "audit"
	if s.ModeFor != nil {
		mode = s.ModeFor(ctx, course, userID)
	}
	for _, g := range p.Groups {
		if g.Name == mode {
			return &g, nil
		}
	}
	return nil, nil
}
