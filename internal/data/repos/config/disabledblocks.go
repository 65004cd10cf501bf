package config

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	pkgerrors "github.com/openlearnhq/xblock-runtime/internal/pkg/errors"
	"github.com/openlearnhq/xblock-runtime/internal/platform/logger"
	"github.com/openlearnhq/xblock-runtime/internal/types"
)

type DisabledBlockConfigRepo interface {
	// Latest returns the newest configuration row; ErrNotFound when none
	// has ever been written.
	Latest(ctx context.Context, tx *gorm.DB) (*types.DisabledBlockConfig, error)
	Insert(ctx context.Context, tx *gorm.DB, row *types.DisabledBlockConfig) (*types.DisabledBlockConfig, error)
}

type disabledBlockConfigRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDisabledBlockConfigRepo(db *gorm.DB, baseLog *logger.Logger) DisabledBlockConfigRepo {
	repoLog := baseLog.With("repo", "DisabledBlockConfigRepo")
	return &disabledBlockConfigRepo{db: db, log: repoLog}
}

func (r *disabledBlockConfigRepo) Latest(ctx context.Context, tx *gorm.DB) (*types.DisabledBlockConfig, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var row types.DisabledBlockConfig
	err := transaction.WithContext(ctx).
		Order("id DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *disabledBlockConfigRepo) Insert(ctx context.Context, tx *gorm.DB, row *types.DisabledBlockConfig) (*types.DisabledBlockConfig, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if err := transaction.WithContext(ctx).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}
