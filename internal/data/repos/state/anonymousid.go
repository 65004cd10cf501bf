package state

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	pkgerrors "github.com/openlearnhq/xblock-runtime/internal/pkg/errors"
	"github.com/openlearnhq/xblock-runtime/internal/platform/logger"
	"github.com/openlearnhq/xblock-runtime/internal/types"
)

type AnonymousIDRepo interface {
	// Ensure records the derived anonymized id if it is not already stored.
	Ensure(ctx context.Context, tx *gorm.DB, anonID string, userID uuid.UUID, courseKey string) error
	LookupUser(ctx context.Context, tx *gorm.DB, anonID string) (uuid.UUID, error)
}

type anonymousIDRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAnonymousIDRepo(db *gorm.DB, baseLog *logger.Logger) AnonymousIDRepo {
	repoLog := baseLog.With("repo", "AnonymousIDRepo")
	return &anonymousIDRepo{db: db, log: repoLog}
}

func (r *anonymousIDRepo) Ensure(ctx context.Context, tx *gorm.DB, anonID string, userID uuid.UUID, courseKey string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	row := &types.AnonymousUserID{
		AnonID:    anonID,
		UserID:    userID,
		CourseKey: courseKey,
		CreatedAt: time.Now().UTC(),
	}
	err := transaction.WithContext(ctx).Create(row).Error
	if err != nil && isUniqueViolation(err) {
		return nil
	}
	return err
}

func (r *anonymousIDRepo) LookupUser(ctx context.Context, tx *gorm.DB, anonID string) (uuid.UUID, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var row types.AnonymousUserID
	err := transaction.WithContext(ctx).
		Where("anon_id = ?", anonID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return uuid.Nil, pkgerrors.ErrNotFound
	}
	if err != nil {
		return uuid.Nil, err
	}
	return row.UserID, nil
}
