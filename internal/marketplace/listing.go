package marketplace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/zulandar/peerly/internal/apperr"
	"github.com/zulandar/peerly/internal/models"
	"github.com/zulandar/peerly/internal/storage"
	"gorm.io/gorm"
)

// Image is one uploaded listing photo.
type Image struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

// CreateInput describes a new listing.
type CreateInput struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
	Category    string  `json:"category"`
	Condition   string  `json:"condition"`
	Location    string  `json:"location"`
}

// ListingUpdate carries the editable listing fields. Nil fields are left
// unchanged.
type ListingUpdate struct {
	Title       *string  `json:"title"`
	Description *string  `json:"description"`
	Price       *float64 `json:"price"`
	Location    *string  `json:"location"`
	IsActive    *bool    `json:"is_active"`
	IsSold      *bool    `json:"is_sold"`
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func validateTitle(title string) error {
	if title == "" {
		return apperr.Invalid("title is required")
	}
	if len(title) > MaxTitleLength {
		return apperr.Invalid(fmt.Sprintf("title exceeds %d characters", MaxTitleLength))
	}
	return nil
}

// Get loads a listing with its seller, category and college.
func (s *Service) Get(ctx context.Context, id string) (*models.Listing, error) {
	var l models.Listing
	err := s.db.WithContext(ctx).
		Preload("Seller").Preload("Category").Preload("College").
		Where("id = ?", id).First(&l).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("listing not found")
		}
		return nil, fmt.Errorf("marketplace: get listing %s: %w", id, err)
	}
	return &l, nil
}

// IncrementViews adds one to the listing's view count.
func (s *Service) IncrementViews(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&models.Listing{}).Where("id = ?", id).
		UpdateColumn("views_count", gorm.Expr("views_count + ?", 1))
	if res.Error != nil {
		return fmt.Errorf("marketplace: increment views %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("listing not found")
	}
	return nil
}

// Create uploads images and stores a new listing for sellerID. The listing
// inherits the seller's college.
func (s *Service) Create(ctx context.Context, sellerID string, in CreateInput, images []Image) (*models.Listing, error) {
	title := strings.TrimSpace(in.Title)
	if err := validateTitle(title); err != nil {
		return nil, err
	}
	if in.Price < 0 {
		return nil, apperr.Invalid("price must not be negative")
	}
	if !models.ValidCondition(in.Condition) {
		return nil, apperr.Invalid(fmt.Sprintf("unknown condition %q", in.Condition))
	}
	if len(images) > MaxImages {
		return nil, apperr.Invalid(fmt.Sprintf("at most %d images are allowed", MaxImages))
	}

	var seller models.Profile
	if err := s.db.WithContext(ctx).Where("id = ?", sellerID).First(&seller).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("profile not found")
		}
		return nil, fmt.Errorf("marketplace: create listing: %w", err)
	}

	var categoryID *uint
	if in.Category != "" {
		id, err := s.categoryID(ctx, in.Category)
		if err != nil {
			return nil, fmt.Errorf("marketplace: create listing: %w", err)
		}
		if id == nil {
			return nil, apperr.Invalid(fmt.Sprintf("unknown category %q", in.Category))
		}
		categoryID = id
	}

	urls := make([]string, 0, len(images))
	for _, img := range images {
		url, err := s.store.Put(ctx, storage.ObjectKey(sellerID, img.Filename), img.ContentType, img.Body)
		if err != nil {
			return nil, fmt.Errorf("marketplace: upload %s: %w", img.Filename, err)
		}
		urls = append(urls, url)
	}

	l := models.Listing{
		SellerID:    sellerID,
		Title:       title,
		Description: optional(in.Description),
		Price:       in.Price,
		CategoryID:  categoryID,
		Condition:   in.Condition,
		Images:      urls,
		CollegeID:   seller.CollegeID,
		Location:    optional(in.Location),
		IsActive:    true,
	}
	if err := s.db.WithContext(ctx).Create(&l).Error; err != nil {
		return nil, fmt.Errorf("marketplace: create listing: %w", err)
	}
	s.log.Info().Str("listing", l.ID).Str("seller", sellerID).Int("images", len(urls)).Msg("listing created")
	return &l, nil
}

// owned loads a listing and checks userID is its seller.
func (s *Service) owned(ctx context.Context, tx *gorm.DB, id, userID string) (*models.Listing, error) {
	var l models.Listing
	if err := tx.WithContext(ctx).Where("id = ?", id).First(&l).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("listing not found")
		}
		return nil, fmt.Errorf("marketplace: load listing %s: %w", id, err)
	}
	if l.SellerID != userID {
		return nil, apperr.Forbidden("only the seller can change this listing")
	}
	return &l, nil
}

// Update applies u to a listing owned by userID.
func (s *Service) Update(ctx context.Context, id, userID string, u ListingUpdate) (*models.Listing, error) {
	if _, err := s.owned(ctx, s.db, id, userID); err != nil {
		return nil, err
	}
	changes := map[string]any{}
	if u.Title != nil {
		title := strings.TrimSpace(*u.Title)
		if err := validateTitle(title); err != nil {
			return nil, err
		}
		changes["title"] = title
	}
	if u.Description != nil {
		changes["description"] = optional(*u.Description)
	}
	if u.Price != nil {
		if *u.Price < 0 {
			return nil, apperr.Invalid("price must not be negative")
		}
		changes["price"] = *u.Price
	}
	if u.Location != nil {
		changes["location"] = optional(*u.Location)
	}
	if u.IsActive != nil {
		changes["is_active"] = *u.IsActive
	}
	if u.IsSold != nil {
		changes["is_sold"] = *u.IsSold
	}
	if len(changes) > 0 {
		err := s.db.WithContext(ctx).Model(&models.Listing{}).Where("id = ?", id).Updates(changes).Error
		if err != nil {
			return nil, fmt.Errorf("marketplace: update listing %s: %w", id, err)
		}
	}
	return s.Get(ctx, id)
}

// Delete removes a listing owned by userID together with its saved marks,
// conversations and their messages.
func (s *Service) Delete(ctx context.Context, id, userID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.owned(ctx, tx, id, userID); err != nil {
			return err
		}
		convs := tx.Model(&models.Conversation{}).Select("id").Where("listing_id = ?", id)
		steps := []struct {
			what string
			run  func() error
		}{
			{"messages", func() error {
				return tx.Where("conversation_id IN (?)", convs).Delete(&models.Message{}).Error
			}},
			{"conversations", func() error {
				return tx.Where("listing_id = ?", id).Delete(&models.Conversation{}).Error
			}},
			{"saved listings", func() error {
				return tx.Where("listing_id = ?", id).Delete(&models.SavedListing{}).Error
			}},
			{"listing", func() error {
				return tx.Where("id = ?", id).Delete(&models.Listing{}).Error
			}},
		}
		for _, step := range steps {
			if err := step.run(); err != nil {
				return fmt.Errorf("marketplace: delete %s for listing %s: %w", step.what, id, err)
			}
		}
		return nil
	})
}

// MyListings returns every listing of userID, newest first, sold and
// inactive ones included.
func (s *Service) MyListings(ctx context.Context, userID string) ([]models.Listing, error) {
	var listings []models.Listing
	err := s.db.WithContext(ctx).Preload("Category").
		Where("seller_id = ?", userID).
		Order("created_at DESC").Find(&listings).Error
	if err != nil {
		return nil, fmt.Errorf("marketplace: listings of %s: %w", userID, err)
	}
	return listings, nil
}
