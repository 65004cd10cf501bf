package types

import (
	"time"

	"github.com/google/uuid"
)

// AnonymousUserID records a derived anonymized id so that external graders,
// which only ever see the anonymized form, can be mapped back to the learner.
// CourseKey is empty for the per-learner (course-independent) form.
type AnonymousUserID struct {
	AnonID    string    `gorm:"column:anon_id;primaryKey" json:"anon_id"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	CourseKey string    `gorm:"column:course_key;not null;default:''" json:"course_key"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (AnonymousUserID) TableName() string { return "anonymous_user_id" }
