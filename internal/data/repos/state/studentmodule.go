package state

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	pkgerrors "github.com/openlearnhq/xblock-runtime/internal/pkg/errors"
	"github.com/openlearnhq/xblock-runtime/internal/platform/logger"
	"github.com/openlearnhq/xblock-runtime/internal/types"
)

// SaveOptions control how a student-state save touches row metadata.
// TouchModified is false for saves originating from background workers so
// that re-grades do not look like learner activity.
type SaveOptions struct {
	TouchModified bool
}

type StudentModuleRepo interface {
	Get(ctx context.Context, tx *gorm.DB, userID uuid.UUID, usageKey string) (*types.StudentModule, error)
	GetForUsageKeys(ctx context.Context, tx *gorm.DB, userID uuid.UUID, usageKeys []string) ([]*types.StudentModule, error)
	// CreateOrUpdate inserts the row, and on a (user_id, usage_key) unique
	// violation re-reads the winner and applies the update instead. Exactly
	// one row results under concurrent first writes.
	CreateOrUpdate(ctx context.Context, tx *gorm.DB, row *types.StudentModule, opts SaveOptions) (*types.StudentModule, error)
	SaveState(ctx context.Context, tx *gorm.DB, userID uuid.UUID, usageKey string, state []byte, opts SaveOptions) error
	SaveGrade(ctx context.Context, tx *gorm.DB, userID uuid.UUID, usageKey string, grade, maxGrade *float64, onlyIfHigher bool, opts SaveOptions) error
}

type studentModuleRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewStudentModuleRepo(db *gorm.DB, baseLog *logger.Logger) StudentModuleRepo {
	repoLog := baseLog.With("repo", "StudentModuleRepo")
	return &studentModuleRepo{db: db, log: repoLog}
}

func (r *studentModuleRepo) Get(ctx context.Context, tx *gorm.DB, userID uuid.UUID, usageKey string) (*types.StudentModule, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var row types.StudentModule
	err := transaction.WithContext(ctx).
		Where("user_id = ? AND usage_key = ?", userID, usageKey).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *studentModuleRepo) GetForUsageKeys(ctx context.Context, tx *gorm.DB, userID uuid.UUID, usageKeys []string) ([]*types.StudentModule, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var results []*types.StudentModule
	if len(usageKeys) == 0 {
		return results, nil
	}

	if err := transaction.WithContext(ctx).
		Where("user_id = ? AND usage_key IN ?", userID, usageKeys).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *studentModuleRepo) CreateOrUpdate(ctx context.Context, tx *gorm.DB, row *types.StudentModule, opts SaveOptions) (*types.StudentModule, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	now := time.Now().UTC()
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	if row.ModifiedAt.IsZero() {
		row.ModifiedAt = now
	}

	// The losing writer of a concurrent first write upgrades to an update in
	// the same statement, so the unique constraint never aborts an open
	// transaction.
	updates := map[string]any{
		"state":       row.State,
		"module_type": row.ModuleType,
		"done":        row.Done,
	}
	if row.Grade != nil {
		updates["grade"] = row.Grade
	}
	if row.MaxGrade != nil {
		updates["max_grade"] = row.MaxGrade
	}
	if opts.TouchModified {
		updates["modified"] = now
	}
	if err := transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "usage_key"}},
			DoUpdates: clause.Assignments(updates),
		}).
		Create(row).Error; err != nil {
		return nil, err
	}
	return r.Get(ctx, transaction, row.UserID, row.UsageKey)
}

func (r *studentModuleRepo) SaveState(ctx context.Context, tx *gorm.DB, userID uuid.UUID, usageKey string, state []byte, opts SaveOptions) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	updates := map[string]any{"state": state}
	if opts.TouchModified {
		updates["modified"] = time.Now().UTC()
	}
	res := transaction.WithContext(ctx).
		Model(&types.StudentModule{}).
		Where("user_id = ? AND usage_key = ?", userID, usageKey).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.ErrNotFound
	}
	return nil
}

func (r *studentModuleRepo) SaveGrade(ctx context.Context, tx *gorm.DB, userID uuid.UUID, usageKey string, grade, maxGrade *float64, onlyIfHigher bool, opts SaveOptions) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	existing, err := r.Get(ctx, transaction, userID, usageKey)
	if err != nil {
		return err
	}
	if onlyIfHigher && existing.Grade != nil && grade != nil && *grade < *existing.Grade {
		return nil
	}
	updates := map[string]any{
		"grade":     grade,
		"max_grade": maxGrade,
	}
	if opts.TouchModified {
		updates["modified"] = time.Now().UTC()
	}
	return transaction.WithContext(ctx).
		Model(&types.StudentModule{}).
		Where("id = ?", existing.ID).
		Updates(updates).Error
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	// sqlite (tests) reports constraint failures as plain strings.
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
