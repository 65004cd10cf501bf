package state

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/openlearnhq/xblock-runtime/internal/data/repos/testutil"
	pkgerrors "github.com/openlearnhq/xblock-runtime/internal/pkg/errors"
)

func TestUserCourseTagRepoSetAndGet(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := NewUserCourseTagRepo(db, testutil.Logger(t))
	ctx := context.Background()

	userID := uuid.New()
	courseKey := "course-v1:edX+DemoX+2026"

	if _, err := repo.Get(ctx, tx, userID, courseKey, "partition.42"); err != pkgerrors.ErrNotFound {
		t.Fatalf("Get (missing): expected ErrNotFound, got %v", err)
	}

	if err := repo.Set(ctx, tx, userID, courseKey, "partition.42", "7"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := repo.Get(ctx, tx, userID, courseKey, "partition.42")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Value != "7" {
		t.Fatalf("Get: value %q", got.Value)
	}

	// Overwrite in place.
	if err := repo.Set(ctx, tx, userID, courseKey, "partition.42", "9"); err != nil {
		t.Fatalf("Set (overwrite): %v", err)
	}
	got, err = repo.Get(ctx, tx, userID, courseKey, "partition.42")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Value != "9" {
		t.Fatalf("overwrite did not apply: %q", got.Value)
	}
}

func TestAnonymousIDRepoEnsureAndLookup(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := NewAnonymousIDRepo(db, testutil.Logger(t))
	ctx := context.Background()

	userID := uuid.New()
	if err := repo.Ensure(ctx, tx, "anon-abc", userID, ""); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	// Repeat insert of the same mapping is a no-op.
	if err := repo.Ensure(ctx, tx, "anon-abc", userID, ""); err != nil {
		t.Fatalf("Ensure (repeat): %v", err)
	}

	got, err := repo.LookupUser(ctx, tx, "anon-abc")
	if err != nil {
		t.Fatalf("LookupUser: %v", err)
	}
	if got != userID {
		t.Fatalf("LookupUser: got %s want %s", got, userID)
	}

	if _, err := repo.LookupUser(ctx, tx, "anon-missing"); err != pkgerrors.ErrNotFound {
		t.Fatalf("LookupUser (missing): expected ErrNotFound, got %v", err)
	}
}
