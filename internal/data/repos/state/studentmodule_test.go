package state

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/openlearnhq/xblock-runtime/internal/data/repos/testutil"
	pkgerrors "github.com/openlearnhq/xblock-runtime/internal/pkg/errors"
	"github.com/openlearnhq/xblock-runtime/internal/types"
)

const testUsageKey = "block-v1:edX+DemoX+2026+type@problem+block@p1"

func TestStudentModuleRepoCreateAndGet(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := NewStudentModuleRepo(db, testutil.Logger(t))
	ctx := context.Background()

	userID := uuid.New()
	row, err := repo.CreateOrUpdate(ctx, tx, &types.StudentModule{
		UserID:     userID,
		UsageKey:   testUsageKey,
		CourseKey:  "course-v1:edX+DemoX+2026",
		ModuleType: "problem",
		State:      datatypes.JSON([]byte(`{"attempts":1}`)),
	}, SaveOptions{TouchModified: true})
	if err != nil {
		t.Fatalf("CreateOrUpdate: %v", err)
	}
	if row.ID == uuid.Nil {
		t.Fatalf("CreateOrUpdate: id not assigned")
	}

	got, err := repo.Get(ctx, tx, userID, testUsageKey)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ModuleType != "problem" {
		t.Fatalf("Get: unexpected row: %+v", got)
	}

	if _, err := repo.Get(ctx, tx, uuid.New(), testUsageKey); err != pkgerrors.ErrNotFound {
		t.Fatalf("Get (missing): expected ErrNotFound, got %v", err)
	}
}

func TestStudentModuleRepoUpsertOnConflict(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := NewStudentModuleRepo(db, testutil.Logger(t))
	ctx := context.Background()

	userID := uuid.New()
	first, err := repo.CreateOrUpdate(ctx, tx, &types.StudentModule{
		UserID:    userID,
		UsageKey:  testUsageKey,
		CourseKey: "course-v1:edX+DemoX+2026",
		State:     datatypes.JSON([]byte(`{"v":1}`)),
	}, SaveOptions{TouchModified: true})
	if err != nil {
		t.Fatalf("first CreateOrUpdate: %v", err)
	}

	// Same (user, usage-key): must not create a second row.
	second, err := repo.CreateOrUpdate(ctx, tx, &types.StudentModule{
		UserID:    userID,
		UsageKey:  testUsageKey,
		CourseKey: "course-v1:edX+DemoX+2026",
		State:     datatypes.JSON([]byte(`{"v":2}`)),
	}, SaveOptions{TouchModified: true})
	if err != nil {
		t.Fatalf("second CreateOrUpdate: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("upsert created a new row: %s vs %s", second.ID, first.ID)
	}
	if string(second.State) != `{"v":2}` {
		t.Fatalf("upsert did not apply update: %s", second.State)
	}

	var count int64
	if err := tx.Model(&types.StudentModule{}).
		Where("user_id = ? AND usage_key = ?", userID, testUsageKey).
		Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one row, got %d", count)
	}
}

func TestStudentModuleRepoModifiedSuppression(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := NewStudentModuleRepo(db, testutil.Logger(t))
	ctx := context.Background()

	userID := uuid.New()
	created, err := repo.CreateOrUpdate(ctx, tx, &types.StudentModule{
		UserID:    userID,
		UsageKey:  testUsageKey,
		CourseKey: "course-v1:edX+DemoX+2026",
		State:     datatypes.JSON([]byte(`{}`)),
	}, SaveOptions{TouchModified: true})
	if err != nil {
		t.Fatalf("CreateOrUpdate: %v", err)
	}

	// Background-worker save: modified preserved.
	time.Sleep(5 * time.Millisecond)
	if err := repo.SaveState(ctx, tx, userID, testUsageKey, []byte(`{"worker":true}`), SaveOptions{TouchModified: false}); err != nil {
		t.Fatalf("SaveState (worker): %v", err)
	}
	got, err := repo.Get(ctx, tx, userID, testUsageKey)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.ModifiedAt.Equal(created.ModifiedAt) {
		t.Fatalf("worker save touched modified: %v -> %v", created.ModifiedAt, got.ModifiedAt)
	}

	// Request-context save: modified touched.
	time.Sleep(5 * time.Millisecond)
	if err := repo.SaveState(ctx, tx, userID, testUsageKey, []byte(`{"request":true}`), SaveOptions{TouchModified: true}); err != nil {
		t.Fatalf("SaveState (request): %v", err)
	}
	got, err = repo.Get(ctx, tx, userID, testUsageKey)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.ModifiedAt.After(created.ModifiedAt) {
		t.Fatalf("request save did not touch modified: %v", got.ModifiedAt)
	}
}

func TestStudentModuleRepoSaveGradeOnlyIfHigher(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := NewStudentModuleRepo(db, testutil.Logger(t))
	ctx := context.Background()

	userID := uuid.New()
	g, mg := 0.8, 1.0
	if _, err := repo.CreateOrUpdate(ctx, tx, &types.StudentModule{
		UserID:    userID,
		UsageKey:  testUsageKey,
		CourseKey: "course-v1:edX+DemoX+2026",
		Grade:     &g,
		MaxGrade:  &mg,
	}, SaveOptions{TouchModified: true}); err != nil {
		t.Fatalf("CreateOrUpdate: %v", err)
	}

	lower := 0.5
	if err := repo.SaveGrade(ctx, tx, userID, testUsageKey, &lower, &mg, true, SaveOptions{TouchModified: true}); err != nil {
		t.Fatalf("SaveGrade (lower, onlyIfHigher): %v", err)
	}
	got, err := repo.Get(ctx, tx, userID, testUsageKey)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Grade == nil || *got.Grade != 0.8 {
		t.Fatalf("onlyIfHigher overwrote grade: %v", got.Grade)
	}

	higher := 0.9
	if err := repo.SaveGrade(ctx, tx, userID, testUsageKey, &higher, &mg, true, SaveOptions{TouchModified: true}); err != nil {
		t.Fatalf("SaveGrade (higher): %v", err)
	}
	got, err = repo.Get(ctx, tx, userID, testUsageKey)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Grade == nil || *got.Grade != 0.9 {
		t.Fatalf("higher grade not applied: %v", got.Grade)
	}
}
