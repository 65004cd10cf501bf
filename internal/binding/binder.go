// Package binding constructs bound blocks: one authored block joined to one
// viewer identity, with its field-data stack, service registry, and wrapper
// pipeline in place.
package binding

import (
	"context"

	"github.com/google/uuid"

	"github.com/openlearnhq/xblock-runtime/internal/block"
	"github.com/openlearnhq/xblock-runtime/internal/data/repos"
	"github.com/openlearnhq/xblock-runtime/internal/fielddata"
	"github.com/openlearnhq/xblock-runtime/internal/keys"
	"github.com/openlearnhq/xblock-runtime/internal/modulestore"
	"github.com/openlearnhq/xblock-runtime/internal/override"
	"github.com/openlearnhq/xblock-runtime/internal/platform/logger"
	"github.com/openlearnhq/xblock-runtime/internal/requestdata"
	"github.com/openlearnhq/xblock-runtime/internal/services"
)

type Config struct {
	Log      *logger.Logger
	Store    modulestore.Store
	SMRepo   repos.StudentModuleRepo
	TagRepo  repos.UserCourseTagRepo
	AnonRepo repos.AnonymousIDRepo

	// Base is the shared registry of process-wide services; per-bind
	// services are added to a clone.
	Base *services.Registry
	Sink services.TrackingSink

	Access AccessChecker
	Dates  fielddata.DateLookup
	URLs   block.URLBuilder

	// AuthoredOverrides are the modulestore-level providers; they wrap the
	// assembled stack so they answer before authored values regardless of
	// viewer.
	AuthoredOverrides *override.Registry

	// Secret keys anonymized-id derivation.
	Secret            []byte
	CompletionEnabled bool
}

type Binder struct {
	cfg Config
	log *logger.Logger
}

func NewBinder(cfg Config) *Binder {
	if cfg.Access == nil {
		cfg.Access = NewDefaultAccessChecker()
	}
	if cfg.URLs == nil {
		cfg.URLs = CourseURLBuilder{}
	}
	if cfg.Sink == nil {
		cfg.Sink = services.NewLogTrackingSink(cfg.Log)
	}
	return &Binder{cfg: cfg, log: cfg.Log.With("component", "Binder")}
}

// BindInput carries everything one bind needs. Cache, Env, Overrides,
// Session and Wrappers are request-scoped: the dispatcher builds them once
// and reuses them across sibling binds.
type BindInput struct {
	Authored *block.Authored
	Viewer   requestdata.Viewer
	Course   keys.CourseKey

	Cache     *fielddata.Cache
	Env       *fielddata.Env
	Overrides *override.RequestOverrides
	Session   fielddata.SessionStore
	Wrappers  []block.FragmentWrapper

	RequestToken    string
	StaticAssetPath string

	// Position is the 1-based position within the parent; zero or negative
	// is ignored.
	Position    int
	WrapDisplay bool

	// WillRecheckAccess keeps a deny-with-message block bound so the
	// wrapper pipeline can render the denial.
	WillRecheckAccess bool
	// SkipAccessCheck is reserved for the grader ingress, where possession
	// of the queue key authorizes access.
	SkipAccessCheck bool
	// ReadOnly suppresses student-state persistence (crawlers).
	ReadOnly bool

	URLs block.URLBuilder
}

// Bind builds the bound block. A silent denial, or a message denial without
// a recheck promise, yields (nil, nil); the caller maps that to not-found.
func (bd *Binder) Bind(ctx context.Context, in BindInput) (*block.Bound, error) {
	a := in.Authored
	viewer := in.Viewer
	course := in.Course.ForBranch()
	effective := viewer.EffectiveUserID()

	var anonID string
	if viewer.IsAuthenticated {
		var scope *keys.CourseKey
		if !a.Type.RequiresPerLearnerID {
			scope = &course
		}
		anonID = AnonymizedID(bd.cfg.Secret, effective, scope)
		if err := bd.cfg.AnonRepo.Ensure(ctx, nil, anonID, effective, course.String()); err != nil {
			return nil, err
		}
	}

	stack, err := bd.buildStack(ctx, in, course, effective)
	if err != nil {
		return nil, err
	}

	fd := bd.wrapAuthoredOverrides(stack, course)

	reg := bd.cfg.Base.Clone()
	bd.registerIdentity(reg, in.Viewer, course, effective, anonID, fd, in.StaticAssetPath)

	rt := &block.Runtime{
		Services:     reg,
		URLs:         bd.urls(in),
		RequestToken: in.RequestToken,
		WrapDisplay:  in.WrapDisplay,
	}
	if in.Position > 0 {
		rt.Position = in.Position
	}
	rt.AttachWrappers(in.Wrappers)

	bound := &block.Bound{
		Authored:    a,
		FieldData:   fd,
		Runtime:     rt,
		AnonymousID: anonID,
	}
	if viewer.IsAuthenticated {
		id := effective
		bound.UserID = &id
	}
	reg.Register(block.ServiceRebindUser, &rebindService{binder: bd, input: in, registry: reg})

	if !in.SkipAccessCheck && !viewer.IsSystem {
		res := bd.cfg.Access.Check(ctx, viewer, a, stack)
		switch res.Decision {
		case DenySilent:
			return nil, nil
		case DenyWithMessage:
			if !in.WillRecheckAccess {
				return nil, nil
			}
			bound.AccessDenied = res.Denied
		}
	}
	return bound, nil
}

// buildStack assembles the field-data layers for one identity. Rebinding
// calls it again from scratch so dirty state never crosses identities.
func (bd *Binder) buildStack(ctx context.Context, in BindInput, course keys.CourseKey, userID uuid.UUID) (*fielddata.Stack, error) {
	cache := in.Cache
	if cache == nil {
		cacheUser := uuid.Nil
		if in.Viewer.IsAuthenticated {
			cacheUser = userID
		}
		var err error
		cache, err = fielddata.NewCache(ctx, bd.cfg.SMRepo, bd.log, course, cacheUser, in.Authored, bd.childLookup(), fielddata.CacheOptions{
			ReadOnly: in.ReadOnly,
		})
		if err != nil {
			return nil, err
		}
	}

	var layers []fielddata.OverrideLayer
	if in.Overrides != nil {
		if l := in.Overrides.Layer(course, in.Viewer); l != nil {
			layers = append(layers, l)
		}
	}

	stack := fielddata.NewStack(fielddata.StackConfig{
		Env:       in.Env,
		Dates:     bd.cfg.Dates,
		Overrides: layers,
		Student:   fielddata.NewStudentStateLayer(cache, bd.cfg.TagRepo),
		Parent:    bd.parentLookup(),
	})
	if in.Viewer.IsMasqueradingAsStudent() {
		session := in.Session
		if session == nil {
			session = fielddata.NewMapSessionStore()
		}
		stack = stack.WithMasquerade(session)
	}
	return stack, nil
}

// wrapAuthoredOverrides layers the modulestore-level providers over the
// stack; a no-op when none are configured.
func (bd *Binder) wrapAuthoredOverrides(stack *fielddata.Stack, course keys.CourseKey) block.FieldData {
	if bd.cfg.AuthoredOverrides == nil || bd.cfg.AuthoredOverrides.Empty() {
		return stack
	}
	return override.Wrap(stack, bd.cfg.AuthoredOverrides, course)
}

// registerIdentity installs the viewer-specific services. Rebinding calls
// it again on the same registry with the promoted identity.
func (bd *Binder) registerIdentity(reg *services.Registry, viewer requestdata.Viewer, course keys.CourseKey, userID uuid.UUID, anonID string, fd block.FieldData, staticAssetPath string) {
	reg.Register(block.ServiceFieldData, fd)
	reg.Register(block.ServiceUser, services.NewUserService(viewer, anonID))
	reg.Register(block.ServiceReplaceURLs, services.NewReplaceURLsService(course, staticAssetPath))
	reg.Register(block.ServiceUserTags, services.NewUserTagsService(bd.log, bd.cfg.TagRepo, userID, viewer.IsAuthenticated, course))

	completion := services.NewCompletionService(bd.log, bd.cfg.SMRepo, bd.cfg.CompletionEnabled, userID, viewer.IsAuthenticated, course)
	if viewer.IsAuthenticated {
		reg.Register(block.ServiceCompletion, completion)
	}
	reg.Register(block.ServicePublish, services.NewPublishService(bd.log, bd.cfg.SMRepo, completion, bd.cfg.Sink, viewer, course))
}

func (bd *Binder) urls(in BindInput) block.URLBuilder {
	if in.URLs != nil {
		return in.URLs
	}
	return bd.cfg.URLs
}

func (bd *Binder) childLookup() fielddata.ChildLookup {
	return func(ctx context.Context, u keys.UsageKey) []keys.UsageKey {
		return bd.cfg.Store.Children(ctx, u)
	}
}

func (bd *Binder) parentLookup() fielddata.ParentLookup {
	return func(ctx context.Context, u keys.UsageKey) *block.Authored {
		a, err := bd.cfg.Store.GetBlock(ctx, u)
		if err != nil {
			return nil
		}
		return a
	}
}
