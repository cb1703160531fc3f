package marketplace

import (
	"context"
	"fmt"

	"github.com/zulandar/peerly/internal/models"
	"gorm.io/gorm/clause"
)

// Save marks listingID as saved by userID. Saving twice is a no-op.
func (s *Service) Save(ctx context.Context, userID, listingID string) error {
	if _, err := s.Get(ctx, listingID); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.SavedListing{UserID: userID, ListingID: listingID}).Error
	if err != nil {
		return fmt.Errorf("marketplace: save %s: %w", listingID, err)
	}
	return nil
}

// Unsave removes the saved mark. Removing a missing mark is a no-op.
func (s *Service) Unsave(ctx context.Context, userID, listingID string) error {
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND listing_id = ?", userID, listingID).
		Delete(&models.SavedListing{}).Error
	if err != nil {
		return fmt.Errorf("marketplace: unsave %s: %w", listingID, err)
	}
	return nil
}

// IsSaved reports whether userID saved listingID.
func (s *Service) IsSaved(ctx context.Context, userID, listingID string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.SavedListing{}).
		Where("user_id = ? AND listing_id = ?", userID, listingID).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("marketplace: is saved %s: %w", listingID, err)
	}
	return n > 0, nil
}

// Saved returns the listings userID saved, most recently saved first.
func (s *Service) Saved(ctx context.Context, userID string) ([]models.Listing, error) {
	var rows []models.SavedListing
	err := s.db.WithContext(ctx).
		Preload("Listing").Preload("Listing.Category").
		Where("user_id = ?", userID).
		Order("created_at DESC").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("marketplace: saved listings of %s: %w", userID, err)
	}
	listings := make([]models.Listing, 0, len(rows))
	for _, r := range rows {
		if r.Listing != nil {
			listings = append(listings, *r.Listing)
		}
	}
	return listings, nil
}
