package types

import (
	"time"

	"gorm.io/datatypes"
)

// DisabledBlockConfig is a versioned configuration row. The newest row wins;
// older rows are retained as history. RenderTypes lists block types whose
// rendering is suppressed, CreateTypes those whose authoring is suppressed.
type DisabledBlockConfig struct {
	ID          int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Enabled     bool           `gorm:"column:enabled;not null;default:false" json:"enabled"`
	RenderTypes datatypes.JSON `gorm:"column:render_types;type:jsonb" json:"render_types"`
	CreateTypes datatypes.JSON `gorm:"column:create_types;type:jsonb" json:"create_types"`
	ChangedBy   string         `gorm:"column:changed_by" json:"changed_by"`
	CreatedAt   time.Time      `gorm:"not null" json:"created_at"`
}

func (DisabledBlockConfig) TableName() string { return "disabled_block_config" }
