package marketplace

import (
	"context"
	"fmt"

	"github.com/zulandar/peerly/internal/messaging"
	"github.com/zulandar/peerly/internal/models"
)

// Dashboard summarizes a user's selling activity.
type Dashboard struct {
	Recent         []models.Listing `json:"recent_listings"`
	ActiveListings int64            `json:"active_listings"`
	TotalViews     int64            `json:"total_views"`
	SavedCount     int64            `json:"saved_count"`
	UnreadMessages int64            `json:"unread_messages"`
}

// Dashboard collects userID's recent listings and counters.
func (s *Service) Dashboard(ctx context.Context, userID string) (*Dashboard, error) {
	d := &Dashboard{}
	db := s.db.WithContext(ctx)

	err := db.Where("seller_id = ?", userID).
		Order("created_at DESC").Limit(DashboardItems).Find(&d.Recent).Error
	if err != nil {
		return nil, fmt.Errorf("marketplace: dashboard listings: %w", err)
	}
	err = db.Model(&models.Listing{}).
		Where("seller_id = ? AND is_active = ? AND is_sold = ?", userID, true, false).
		Count(&d.ActiveListings).Error
	if err != nil {
		return nil, fmt.Errorf("marketplace: dashboard active count: %w", err)
	}
	err = db.Model(&models.Listing{}).Where("seller_id = ?", userID).
		Select("COALESCE(SUM(views_count), 0)").Scan(&d.TotalViews).Error
	if err != nil {
		return nil, fmt.Errorf("marketplace: dashboard views: %w", err)
	}
	err = db.Model(&models.SavedListing{}).Where("user_id = ?", userID).Count(&d.SavedCount).Error
	if err != nil {
		return nil, fmt.Errorf("marketplace: dashboard saved count: %w", err)
	}
	d.UnreadMessages, err = messaging.UnreadCount(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	return d, nil
}
