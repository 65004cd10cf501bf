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

type UserCourseTagRepo interface {
	Get(ctx context.Context, tx *gorm.DB, userID uuid.UUID, courseKey, key string) (*types.UserCourseTag, error)
	Set(ctx context.Context, tx *gorm.DB, userID uuid.UUID, courseKey, key, value string) error
}

type userCourseTagRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUserCourseTagRepo(db *gorm.DB, baseLog *logger.Logger) UserCourseTagRepo {
	repoLog := baseLog.With("repo", "UserCourseTagRepo")
	return &userCourseTagRepo{db: db, log: repoLog}
}

func (r *userCourseTagRepo) Get(ctx context.Context, tx *gorm.DB, userID uuid.UUID, courseKey, key string) (*types.UserCourseTag, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var row types.UserCourseTag
	err := transaction.WithContext(ctx).
		Where("user_id = ? AND course_key = ? AND key = ?", userID, courseKey, key).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *userCourseTagRepo) Set(ctx context.Context, tx *gorm.DB, userID uuid.UUID, courseKey, key, value string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	now := time.Now().UTC()
	res := transaction.WithContext(ctx).
		Model(&types.UserCourseTag{}).
		Where("user_id = ? AND course_key = ? AND key = ?", userID, courseKey, key).
		Updates(map[string]any{"value": value, "updated_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	row := &types.UserCourseTag{
		ID:        uuid.New(),
		UserID:    userID,
		CourseKey: courseKey,
		Key:       key,
		Value:     value,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := transaction.WithContext(ctx).Create(row).Error
	if err != nil && isUniqueViolation(err) {
		return transaction.WithContext(ctx).
			Model(&types.UserCourseTag{}).
			Where("user_id = ? AND course_key = ? AND key = ?", userID, courseKey, key).
			Updates(map[string]any{"value": value, "updated_at": now}).Error
	}
	return err
}
