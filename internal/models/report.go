package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Report reasons.
const (
	ReportFake   = "fake"
	ReportAbuse  = "abuse"
	ReportStolen = "stolen"
	ReportOther  = "other"
)

// Report is a user-submitted abuse report, optionally about a listing.
type Report struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	ReporterID string    `gorm:"size:36;not null;index" json:"reporter_id"`
	ListingID  *string   `gorm:"size:36;index" json:"listing_id"`
	Reason     string    `gorm:"size:16;not null" json:"reason"`
	Details    string    `gorm:"type:text" json:"details"`
	Forwarded  bool      `gorm:"default:false" json:"forwarded"`
	CreatedAt  time.Time `json:"created_at"`
}

func (r *Report) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}
