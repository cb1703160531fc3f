package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Profile is the public identity of a student account.
type Profile struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	Email        string    `gorm:"size:255;not null;uniqueIndex" json:"email"`
	FullName     string    `gorm:"size:128;not null" json:"full_name"`
	AvatarURL    *string   `gorm:"size:512" json:"avatar_url"`
	CollegeID    *string   `gorm:"size:36;index" json:"college_id"`
	CollegeEmail *string   `gorm:"size:255" json:"college_email"`
	IsVerified   bool      `gorm:"default:false" json:"is_verified"`
	Phone        *string   `gorm:"size:32" json:"phone"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	College *College `gorm:"foreignKey:CollegeID" json:"college,omitempty"`
}

func (p *Profile) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// Credential holds the password hash for a profile. It is never serialized.
type Credential struct {
	UserID       string `gorm:"primaryKey;size:36"`
	PasswordHash string `gorm:"size:72;not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
