package types

import (
	"time"

	"github.com/google/uuid"
)

// UserCourseTag is an arbitrary course-scoped key/value attached to a user.
// The partition service stores group assignments here for schemes that
// persist their decisions.
type UserCourseTag struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uq_user_course_tag" json:"user_id"`
	CourseKey string    `gorm:"column:course_key;not null;uniqueIndex:uq_user_course_tag" json:"course_key"`
	Key       string    `gorm:"column:key;not null;uniqueIndex:uq_user_course_tag" json:"key"`
	Value     string    `gorm:"column:value;not null" json:"value"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (UserCourseTag) TableName() string { return "user_course_tag" }
