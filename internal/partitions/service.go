package partitions

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/openlearnhq/xblock-runtime/internal/keys"
	pkgerrors "github.com/openlearnhq/xblock-runtime/internal/pkg/errors"
	"github.com/openlearnhq/xblock-runtime/internal/platform/logger"
)

// Lister produces the partitions defined on a course, static and dynamic.
type Lister func(ctx context.Context, course keys.CourseKey) ([]Partition, error)

// GroupCache memoizes assignments per (user, course, partition). The
// default is per-request; callers may inject a shared map so sibling
// service instances agree even when a scheme is non-deterministic.
type GroupCache map[string]*Group

func cacheKey(userID uuid.UUID, course keys.CourseKey, partitionID int) string {
	return fmt.Sprintf("%s|%s|%d", userID, course.ForBranch(), partitionID)
}

type Service struct {
	log    *logger.Logger
	lister Lister
	cache  GroupCache
}

func NewService(baseLog *logger.Logger, lister Lister, cache GroupCache) *Service {
	if cache == nil {
		cache = GroupCache{}
	}
	return &Service{
		log:    baseLog.With("service", "PartitionService"),
		lister: lister,
		cache:  cache,
	}
}

// CoursePartitions lists all partitions on the course.
func (s *Service) CoursePartitions(ctx context.Context, course keys.CourseKey) ([]Partition, error) {
	return s.lister(ctx, course.ForBranch())
}

// PartitionByID finds one partition; ErrNoSuchPartition when unknown.
func (s *Service) PartitionByID(ctx context.Context, course keys.CourseKey, partitionID int) (*Partition, error) {
	ps, err := s.CoursePartitions(ctx, course)
	if err != nil {
		return nil, err
	}
	for i := range ps {
		if ps[i].ID == partitionID {
			return &ps[i], nil
		}
	}
	return nil, fmt.Errorf("%w: partition %d in %s", pkgerrors.ErrNoSuchPartition, partitionID, course)
}

// GroupForUser resolves the user's group in the partition, assigning when
// assign is true. Course keys carrying a version marker are normalized to
// their branch form first so assignment stays stable across author edits.
func (s *Service) GroupForUser(ctx context.Context, course keys.CourseKey, userID uuid.UUID, partitionID int, assign bool) (*Group, error) {
	course = course.ForBranch()
	key := cacheKey(userID, course, partitionID)
	if g, ok := s.cache[key]; ok {
		return g, nil
	}

	p, err := s.PartitionByID(ctx, course, partitionID)
	if err != nil {
		return nil, err
	}
	scheme, err := SchemeByName(p.Scheme)
	if err != nil {
		return nil, err
	}
	g, err := scheme.GetGroup(ctx, course, userID, p, assign)
	if err != nil {
		return nil, err
	}
	s.cache[key] = g
	return g, nil
}
