package models

import "time"

// Profile holds user-editable account details. ID is the identity user id.
type Profile struct {
	ID           string    `gorm:"primaryKey;size:64" json:"id"`
	FullName     string    `gorm:"size:256" json:"full_name"`
	Email        string    `gorm:"size:256" json:"email"`
	Organization string    `gorm:"size:256" json:"organization"`
	Role         string    `gorm:"size:128" json:"role"`
	UpdatedAt    time.Time `json:"updated_at"`
}
