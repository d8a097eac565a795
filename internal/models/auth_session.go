package models

import "time"

// AuthSession is the locally persisted login. At most one row exists.
type AuthSession struct {
	ID           uint   `gorm:"primaryKey"`
	AccessToken  string `gorm:"type:text;not null"`
	RefreshToken string `gorm:"type:text"`
	ExpiresAt    time.Time
	UserID       string `gorm:"size:64;not null"`
	Email        string `gorm:"size:256"`
	Name         string `gorm:"size:256"`
	AvatarURL    string `gorm:"size:512"`
	UpdatedAt    time.Time
}
