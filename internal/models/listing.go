package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Listing conditions.
const (
	ConditionNew     = "new"
	ConditionLikeNew = "like_new"
	ConditionGood    = "good"
	ConditionFair    = "fair"
)

// ValidCondition reports whether c is one of the known listing conditions.
func ValidCondition(c string) bool {
	switch c {
	case ConditionNew, ConditionLikeNew, ConditionGood, ConditionFair:
		return true
	}
	return false
}

// Listing is an item offered for sale by a student.
type Listing struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	SellerID    string    `gorm:"size:36;not null;index" json:"seller_id"`
	Title       string    `gorm:"size:200;not null" json:"title"`
	Description *string   `gorm:"type:text" json:"description"`
	Price       float64   `gorm:"not null" json:"price"`
	CategoryID  *uint     `gorm:"index" json:"category_id"`
	Condition   string    `gorm:"size:16;not null" json:"condition"`
	Images      []string  `gorm:"serializer:json;type:text" json:"images"`
	CollegeID   *string   `gorm:"size:36;index" json:"college_id"`
	Location    *string   `gorm:"size:128" json:"location"`
	IsActive    bool      `gorm:"default:true;index" json:"is_active"`
	IsSold      bool      `gorm:"default:false;index" json:"is_sold"`
	ViewsCount  int       `gorm:"default:0" json:"views_count"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	Seller   *Profile  `gorm:"foreignKey:SellerID" json:"seller,omitempty"`
	Category *Category `gorm:"foreignKey:CategoryID" json:"category,omitempty"`
	College  *College  `gorm:"foreignKey:CollegeID" json:"college,omitempty"`
}

func (l *Listing) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	return nil
}

// Thumbnail returns the first image URL, or empty when the listing has none.
func (l *Listing) Thumbnail() string {
	if len(l.Images) == 0 {
		return ""
	}
	return l.Images[0]
}

// SavedListing marks a listing as saved by a user.
type SavedListing struct {
	UserID    string    `gorm:"primaryKey;size:36" json:"user_id"`
	ListingID string    `gorm:"primaryKey;size:36;index" json:"listing_id"`
	CreatedAt time.Time `json:"created_at"`

	Listing *Listing `gorm:"foreignKey:ListingID;constraint:OnDelete:CASCADE" json:"listing,omitempty"`
}
