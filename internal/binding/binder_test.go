package binding

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/openlearnhq/xblock-runtime/internal/block"
	"github.com/openlearnhq/xblock-runtime/internal/block/builtin"
	"github.com/openlearnhq/xblock-runtime/internal/data/repos"
	"github.com/openlearnhq/xblock-runtime/internal/data/repos/testutil"
	"github.com/openlearnhq/xblock-runtime/internal/keys"
	"github.com/openlearnhq/xblock-runtime/internal/modulestore"
	pkgerrors "github.com/openlearnhq/xblock-runtime/internal/pkg/errors"
	"github.com/openlearnhq/xblock-runtime/internal/requestdata"
	"github.com/openlearnhq/xblock-runtime/internal/services"
)

const fixtureYAML = `
course: course-v1:edX+DemoX+2026
blocks:
  - usage: "block-v1:edX+DemoX+2026+type@course+block@course"
    type: course
    children:
      - "block-v1:edX+DemoX+2026+type@chapter+block@ch1"
  - usage: "block-v1:edX+DemoX+2026+type@chapter+block@ch1"
    type: chapter
    fields:
      display_name: Week 1
    children:
      - "block-v1:edX+DemoX+2026+type@sequential+block@seq1"
  - usage: "block-v1:edX+DemoX+2026+type@sequential+block@seq1"
    type: sequential
    children:
      - "block-v1:edX+DemoX+2026+type@vertical+block@v1"
  - usage: "block-v1:edX+DemoX+2026+type@vertical+block@v1"
    type: vertical
    children:
      - "block-v1:edX+DemoX+2026+type@html+block@h1"
      - "block-v1:edX+DemoX+2026+type@problem+block@p1"
  - usage: "block-v1:edX+DemoX+2026+type@html+block@h1"
    type: html
    fields:
      data: "<p>hello</p>"
  - usage: "block-v1:edX+DemoX+2026+type@problem+block@p1"
    type: problem
    fields:
      display_name: Quiz
  - usage: "block-v1:edX+DemoX+2026+type@html+block@staffonly"
    type: html
    fields:
      visible_to_staff_only: true
  - usage: "block-v1:edX+DemoX+2026+type@html+block@future"
    type: html
    fields:
      start: "2099-01-01T00:00:00Z"
`

func fixtureStore(t *testing.T) *modulestore.InMemory {
	t.Helper()
	reg := block.NewTypeRegistry()
	if err := builtin.RegisterAll(reg); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}
	store, err := modulestore.ParseFixture([]byte(fixtureYAML), reg)
	if err != nil {
		t.Fatalf("ParseFixture: %v", err)
	}
	return store
}

func testCourse(t *testing.T) keys.CourseKey {
	t.Helper()
	c, err := keys.ParseCourseKey("course-v1:edX+DemoX+2026")
	if err != nil {
		t.Fatalf("ParseCourseKey: %v", err)
	}
	return c
}

func newTestBinder(t *testing.T) (*Binder, *modulestore.InMemory) {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	store := fixtureStore(t)

	base := services.NewRegistry(log)
	base.Register(block.ServiceI18n, services.NewI18nService())
	base.Register(block.ServiceSettings, services.NewSettingsService(log, ""))
	base.Register(block.ServiceCache, services.NewMemoryCacheService())

	return NewBinder(Config{
		Log:               log,
		Store:             store,
		SMRepo:            repos.NewStudentModuleRepo(db, log),
		TagRepo:           repos.NewUserCourseTagRepo(db, log),
		AnonRepo:          repos.NewAnonymousIDRepo(db, log),
		Base:              base,
		Secret:            []byte("binder-test-secret"),
		CompletionEnabled: true,
	}), store
}

func mustBlock(t *testing.T, store *modulestore.InMemory, usage string) *block.Authored {
	t.Helper()
	u, err := keys.ParseUsageKey(usage)
	if err != nil {
		t.Fatalf("ParseUsageKey: %v", err)
	}
	a, err := store.GetBlock(context.Background(), u)
	if err != nil {
		t.Fatalf("GetBlock(%s): %v", usage, err)
	}
	return a
}

func TestAnonymizedIDStability(t *testing.T) {
	secret := []byte("s")
	user := uuid.New()
	courseA := testCourse(t)
	courseB, _ := keys.ParseCourseKey("course-v1:MITx+Other+2026")

	// Per-learner ids ignore the course.
	if AnonymizedID(secret, user, nil) != AnonymizedID(secret, user, nil) {
		t.Fatal("per-learner id unstable")
	}

	inA := AnonymizedID(secret, user, &courseA)
	if inA != AnonymizedID(secret, user, &courseA) {
		t.Fatal("per-course id unstable within one course")
	}
	if inA == AnonymizedID(secret, user, &courseB) {
		t.Fatal("per-course id identical across courses")
	}
	if inA == AnonymizedID(secret, uuid.New(), &courseA) {
		t.Fatal("distinct learners share an id")
	}

	// A versioned course key normalizes to the same id.
	versioned, err := keys.ParseCourseKey("course-v1:edX+DemoX+2026+branch@draft-branch+version@abc123")
	if err != nil {
		t.Fatalf("ParseCourseKey: %v", err)
	}
	branchOnly := versioned.ForBranch()
	if AnonymizedID(secret, user, &versioned) != AnonymizedID(secret, user, &branchOnly) {
		t.Fatal("version marker changed the id")
	}
}

func TestBindAuthenticatedLearner(t *testing.T) {
	binder, store := newTestBinder(t)
	a := mustBlock(t, store, "block-v1:edX+DemoX+2026+type@html+block@h1")
	viewer := requestdata.Viewer{UserID: uuid.New(), Username: "learner", IsAuthenticated: true}

	b, err := binder.Bind(context.Background(), BindInput{
		Authored: a,
		Viewer:   viewer,
		Course:   testCourse(t),
		Position: 2,
	})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if b == nil {
		t.Fatal("Bind returned nil for an accessible block")
	}
	if b.UserID == nil || *b.UserID != viewer.UserID {
		t.Fatalf("UserID = %v", b.UserID)
	}
	if b.AnonymousID == "" {
		t.Fatal("missing anonymized id")
	}
	if b.Runtime.Position != 2 {
		t.Fatalf("position = %d", b.Runtime.Position)
	}

	svc, err := b.Runtime.Service(block.ServiceUser)
	if err != nil {
		t.Fatalf("user service: %v", err)
	}
	info := svc.(block.UserService).Info()
	if !info.IsAuthenticated || info.AnonymousID != b.AnonymousID {
		t.Fatalf("user info = %+v", info)
	}
	if _, err := b.Runtime.Service(block.ServiceTeams); !errors.Is(err, pkgerrors.ErrNoSuchService) {
		t.Fatalf("absent service: %v", err)
	}
}

func TestBindAnonymousViewerHasNoCompletion(t *testing.T) {
	binder, store := newTestBinder(t)
	a := mustBlock(t, store, "block-v1:edX+DemoX+2026+type@html+block@h1")

	b, err := binder.Bind(context.Background(), BindInput{
		Authored: a,
		Viewer:   requestdata.Anonymous(),
		Course:   testCourse(t),
	})
	if err != nil || b == nil {
		t.Fatalf("Bind: %v %v", b, err)
	}
	if b.UserID != nil || b.AnonymousID != "" {
		t.Fatalf("anonymous bind carries identity: %v %q", b.UserID, b.AnonymousID)
	}
	if _, err := b.Runtime.Service(block.ServiceCompletion); !errors.Is(err, pkgerrors.ErrNoSuchService) {
		t.Fatalf("completion for anonymous viewer: %v", err)
	}
}

func TestBindStaffOnlyBlockDeniedSilently(t *testing.T) {
	binder, store := newTestBinder(t)
	a := mustBlock(t, store, "block-v1:edX+DemoX+2026+type@html+block@staffonly")
	ctx := context.Background()

	b, err := binder.Bind(ctx, BindInput{
		Authored: a,
		Viewer:   requestdata.Viewer{UserID: uuid.New(), IsAuthenticated: true},
		Course:   testCourse(t),
	})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if b != nil {
		t.Fatal("staff-only block bound for a learner")
	}

	staff, err := binder.Bind(ctx, BindInput{
		Authored: a,
		Viewer:   requestdata.Viewer{UserID: uuid.New(), IsAuthenticated: true, IsStaff: true},
		Course:   testCourse(t),
	})
	if err != nil || staff == nil {
		t.Fatalf("staff bind: %v %v", staff, err)
	}
}

func TestBindFutureStartNeedsRecheckPromise(t *testing.T) {
	binder, store := newTestBinder(t)
	a := mustBlock(t, store, "block-v1:edX+DemoX+2026+type@html+block@future")
	viewer := requestdata.Viewer{UserID: uuid.New(), IsAuthenticated: true}
	ctx := context.Background()

	b, err := binder.Bind(ctx, BindInput{Authored: a, Viewer: viewer, Course: testCourse(t)})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if b != nil {
		t.Fatal("unreleased block bound without recheck promise")
	}

	b, err = binder.Bind(ctx, BindInput{
		Authored:          a,
		Viewer:            viewer,
		Course:            testCourse(t),
		WillRecheckAccess: true,
	})
	if err != nil || b == nil {
		t.Fatalf("recheck bind: %v %v", b, err)
	}
	if b.AccessDenied == nil || b.AccessDenied.Code != "not_yet_started" {
		t.Fatalf("AccessDenied = %+v", b.AccessDenied)
	}
}

func TestBindMasqueradeDivertsWrites(t *testing.T) {
	binder, store := newTestBinder(t)
	a := mustBlock(t, store, "block-v1:edX+DemoX+2026+type@problem+block@p1")
	learner := uuid.New()
	staff := requestdata.Viewer{UserID: uuid.New(), IsAuthenticated: true, IsStaff: true, MasqueradeAs: &learner}
	ctx := context.Background()

	b, err := binder.Bind(ctx, BindInput{Authored: a, Viewer: staff, Course: testCourse(t)})
	if err != nil || b == nil {
		t.Fatalf("Bind: %v %v", b, err)
	}
	if err := b.SetField(ctx, "attempts", 3); err != nil {
		t.Fatalf("SetField: %v", err)
	}
	if err := b.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// The learner's own binding must not see the staff preview write.
	own, err := binder.Bind(ctx, BindInput{
		Authored: a,
		Viewer:   requestdata.Viewer{UserID: learner, IsAuthenticated: true},
		Course:   testCourse(t),
	})
	if err != nil || own == nil {
		t.Fatalf("learner bind: %v %v", own, err)
	}
	v, err := own.GetField(ctx, "attempts")
	if err != nil {
		t.Fatalf("GetField: %v", err)
	}
	if n, _ := v.(int); n != 0 {
		t.Fatalf("masquerade write persisted: %v", v)
	}
}

func TestRebindPromotesAnonymousBindingOnce(t *testing.T) {
	binder, store := newTestBinder(t)
	a := mustBlock(t, store, "block-v1:edX+DemoX+2026+type@problem+block@p1")
	ctx := context.Background()

	b, err := binder.Bind(ctx, BindInput{Authored: a, Viewer: requestdata.Anonymous(), Course: testCourse(t)})
	if err != nil || b == nil {
		t.Fatalf("Bind: %v %v", b, err)
	}
	svc, err := b.Runtime.Service(block.ServiceRebindUser)
	if err != nil {
		t.Fatalf("rebind service: %v", err)
	}
	rebind := svc.(block.RebindUserService)

	learner := uuid.New()
	if err := rebind.RebindUser(ctx, b, learner); err != nil {
		t.Fatalf("RebindUser: %v", err)
	}
	if b.UserID == nil || *b.UserID != learner || b.AnonymousID == "" {
		t.Fatalf("promotion incomplete: %v %q", b.UserID, b.AnonymousID)
	}

	// Same learner again is a no-op.
	if err := rebind.RebindUser(ctx, b, learner); err != nil {
		t.Fatalf("repeat RebindUser: %v", err)
	}
	// A different learner is refused.
	if err := rebind.RebindUser(ctx, b, uuid.New()); !errors.Is(err, pkgerrors.ErrRebindNotAllowed) {
		t.Fatalf("cross-learner rebind: %v", err)
	}

	// Promoted state persists and writes land on the learner.
	if err := b.SetField(ctx, "attempts", 1); err != nil {
		t.Fatalf("SetField: %v", err)
	}
	if err := b.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}
}

func TestRebindRefusedForRealBinding(t *testing.T) {
	binder, store := newTestBinder(t)
	a := mustBlock(t, store, "block-v1:edX+DemoX+2026+type@problem+block@p1")
	ctx := context.Background()

	b, err := binder.Bind(ctx, BindInput{
		Authored: a,
		Viewer:   requestdata.Viewer{UserID: uuid.New(), IsAuthenticated: true},
		Course:   testCourse(t),
	})
	if err != nil || b == nil {
		t.Fatalf("Bind: %v %v", b, err)
	}
	svc, _ := b.Runtime.Service(block.ServiceRebindUser)
	if err := svc.(block.RebindUserService).RebindUser(ctx, b, uuid.New()); !errors.Is(err, pkgerrors.ErrRebindNotAllowed) {
		t.Fatalf("rebind of real binding: %v", err)
	}
}

func TestHandlerURLEscapesUsageID(t *testing.T) {
	u, err := keys.ParseUsageKey("block-v1:edX+DemoX+2026+type@html+block@h1")
	if err != nil {
		t.Fatalf("ParseUsageKey: %v", err)
	}
	a := &block.Authored{UsageKey: u, Fields: map[string]any{}}
	url := CourseURLBuilder{}.HandlerURL(a, "xmodule_handler", "problem_check")
	want := "/courses/course-v1:edX+DemoX+2026/xblock/" + keys.Escape(u.String()) + "/handler/xmodule_handler/problem_check"
	if url != want {
		t.Fatalf("HandlerURL = %q, want %q", url, want)
	}
}

func TestDefaultAccessCheckerMasqueradeUsesLearnerView(t *testing.T) {
	binder, store := newTestBinder(t)
	a := mustBlock(t, store, "block-v1:edX+DemoX+2026+type@html+block@staffonly")
	learner := uuid.New()
	staff := requestdata.Viewer{UserID: uuid.New(), IsAuthenticated: true, IsStaff: true, MasqueradeAs: &learner}

	b, err := binder.Bind(context.Background(), BindInput{Authored: a, Viewer: staff, Course: testCourse(t)})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if b != nil {
		t.Fatal("masquerading staff saw a staff-only block")
	}
}
