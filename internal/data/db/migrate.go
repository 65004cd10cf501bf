package db

import (
	"gorm.io/gorm"

	"github.com/openlearnhq/xblock-runtime/internal/types"
)

// AutoMigrateAll is append-only by convention: new models may be added here,
// existing columns must not change type.
func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		// Per-learner runtime state
		&types.StudentModule{},
		&types.UserCourseTag{},
		&types.AnonymousUserID{},

		// Process-wide configuration
		&types.DisabledBlockConfig{},
	)
}
