package models

import (
	"time"

	"gorm.io/datatypes"
)

// DefaultThreadTitle is used when a thread is created without a title.
const DefaultThreadTitle = "New Conversation"

// Thread is a persisted conversation. ThreadID is assigned once by the agent
// backend and never changes.
type Thread struct {
	ThreadID  string         `gorm:"primaryKey;size:64" json:"thread_id"`
	Title     string         `gorm:"size:256;not null" json:"title"`
	AccountID *string        `gorm:"size:64;index" json:"account_id,omitempty"`
	Summary   string         `gorm:"type:text" json:"summary,omitempty"`
	Metadata  datatypes.JSON `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `gorm:"index" json:"updated_at"`
}
