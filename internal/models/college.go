package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// College is a campus. Sign-up is restricted to emails under EmailDomain.
type College struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	Name        string    `gorm:"size:128;not null" json:"name"`
	Slug        string    `gorm:"size:64;not null;uniqueIndex" json:"slug"`
	LogoURL     *string   `gorm:"size:512" json:"logo_url"`
	EmailDomain string    `gorm:"size:128;not null;index" json:"email_domain"`
	Location    *string   `gorm:"size:128" json:"location"`
	IsActive    bool      `gorm:"default:true" json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

func (c *College) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// Category groups listings (textbooks, electronics, ...).
type Category struct {
	ID   uint    `gorm:"primaryKey;autoIncrement" json:"id"`
	Name string  `gorm:"size:64;not null" json:"name"`
	Slug string  `gorm:"size:64;not null;uniqueIndex" json:"slug"`
	Icon *string `gorm:"size:64" json:"icon"`
}
