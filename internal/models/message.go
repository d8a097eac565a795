package models

import (
	"time"

	"gorm.io/datatypes"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single turn in a thread. Messages are never mutated once
// written; they are removed only when their thread is deleted.
type Message struct {
	ID          uint                               `gorm:"primaryKey;autoIncrement" json:"id"`
	ThreadID    string                             `gorm:"size:64;not null;index" json:"thread_id"`
	Role        string                             `gorm:"size:16;not null" json:"role"`
	Content     string                             `gorm:"type:text" json:"content"`
	Attachments datatypes.JSONSlice[AttachmentRef] `json:"attachments"`
	CreatedAt   time.Time                          `json:"created_at"`
}

// AttachmentRef is the persisted description of a file attached to a message.
type AttachmentRef struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Type string `json:"type,omitempty"`
	Size int64  `json:"size,omitempty"`
}
