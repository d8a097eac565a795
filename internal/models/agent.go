package models

import "time"

// Agent is a configured assistant persona selectable when composing a message.
type Agent struct {
	AgentID     string    `gorm:"primaryKey;size:64" json:"agent_id"`
	Name        string    `gorm:"size:128;not null" json:"name"`
	Description string    `gorm:"type:text" json:"description,omitempty"`
	ModelName   string    `gorm:"size:128" json:"model_name,omitempty"`
	Persona     string    `gorm:"type:text" json:"persona,omitempty"`
	IsDefault   bool      `gorm:"default:false;index" json:"is_default"`
	CreatedAt   time.Time `json:"created_at"`
}
