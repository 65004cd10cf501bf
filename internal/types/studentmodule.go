package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// StudentModule is the persistent per-user-per-block state record. The
// (user_id, usage_key) pair is unique; concurrent first writes race on that
// constraint and the loser upgrades to an update.
type StudentModule struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID     uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:uq_student_module_user_usage" json:"user_id"`
	UsageKey   string         `gorm:"column:usage_key;not null;uniqueIndex:uq_student_module_user_usage" json:"usage_key"`
	CourseKey  string         `gorm:"column:course_key;not null;index" json:"course_key"`
	ModuleType string         `gorm:"column:module_type;not null;default:problem" json:"module_type"`
	State      datatypes.JSON `gorm:"column:state;type:jsonb" json:"state"`
	Grade      *float64       `gorm:"column:grade" json:"grade,omitempty"`
	MaxGrade   *float64       `gorm:"column:max_grade" json:"max_grade,omitempty"`
	Done       string         `gorm:"column:done;not null;default:na" json:"done"`
	CreatedAt  time.Time      `gorm:"column:created;not null" json:"created"`
	ModifiedAt time.Time      `gorm:"column:modified;not null" json:"modified"`
}

func (StudentModule) TableName() string { return "student_module" }
