package binding

import (
	"context"

	"github.com/google/uuid"

	"github.com/openlearnhq/xblock-runtime/internal/block"
	"github.com/openlearnhq/xblock-runtime/internal/keys"
	pkgerrors "github.com/openlearnhq/xblock-runtime/internal/pkg/errors"
	"github.com/openlearnhq/xblock-runtime/internal/requestdata"
	"github.com/openlearnhq/xblock-runtime/internal/services"
)

// rebindService promotes an anonymous binding to a real learner. The
// field-data stack is rebuilt from scratch so unfetched dirty state from
// the anonymous phase cannot leak into the learner's record.
type rebindService struct {
	binder   *Binder
	input    BindInput
	registry *services.Registry
}

var _ block.RebindUserService = (*rebindService)(nil)

func (s *rebindService) RebindUser(ctx context.Context, b *block.Bound, realUser uuid.UUID) error {
	if b.UserID != nil {
		if b.Promoted() && *b.UserID == realUser {
			return nil
		}
		return pkgerrors.ErrRebindNotAllowed
	}
	if err := b.MarkPromoted(); err != nil {
		return err
	}

	course := s.input.Course.ForBranch()
	viewer := requestdata.Viewer{UserID: realUser, IsAuthenticated: true}

	var scope *keys.CourseKey
	if !b.Authored.Type.RequiresPerLearnerID {
		scope = &course
	}
	anonID := AnonymizedID(s.binder.cfg.Secret, realUser, scope)
	if err := s.binder.cfg.AnonRepo.Ensure(ctx, nil, anonID, realUser, course.String()); err != nil {
		return err
	}

	in := s.input
	in.Viewer = viewer
	in.Cache = nil
	stack, err := s.binder.buildStack(ctx, in, course, realUser)
	if err != nil {
		return err
	}

	fd := s.binder.wrapAuthoredOverrides(stack, course)

	id := realUser
	b.UserID = &id
	b.AnonymousID = anonID
	b.FieldData = fd
	s.binder.registerIdentity(s.registry, viewer, course, realUser, anonID, fd, s.input.StaticAssetPath)
	return nil
}
