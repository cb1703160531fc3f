package marketplace

import (
	"context"
	"fmt"
	"strings"

	"github.com/zulandar/peerly/internal/apperr"
	"github.com/zulandar/peerly/internal/models"
	"gorm.io/gorm"
)

// Sort orders accepted by Browse.
const (
	SortNewest    = "newest"
	SortOldest    = "oldest"
	SortPriceLow  = "price_low"
	SortPriceHigh = "price_high"
	SortPopular   = "popular"
)

// Filter narrows Browse. Zero values mean no constraint.
type Filter struct {
	Category  string   `form:"category"`
	Condition string   `form:"condition"`
	MinPrice  *float64 `form:"min_price"`
	MaxPrice  *float64 `form:"max_price"`
	Query     string   `form:"q"`
	College   string   `form:"college"`
	Sort      string   `form:"sort"`
	Offset    int      `form:"offset"`
	Limit     int      `form:"limit"`
}

// Page is one page of Browse results. Total counts every match.
type Page struct {
	Listings []models.Listing `json:"listings"`
	Total    int64            `json:"total"`
	Offset   int              `json:"offset"`
	Limit    int              `json:"limit"`
}

var likeEscaper = strings.NewReplacer(`!`, `!!`, `%`, `!%`, `_`, `!_`)

func (s *Service) categoryID(ctx context.Context, slug string) (*uint, error) {
	var cat models.Category
	err := s.db.WithContext(ctx).Select("id").Where("slug = ?", slug).Limit(1).Find(&cat).Error
	if err != nil {
		return nil, err
	}
	if cat.ID == 0 {
		return nil, nil
	}
	return &cat.ID, nil
}

func (s *Service) collegeID(ctx context.Context, slug string) (*string, error) {
	var col models.College
	err := s.db.WithContext(ctx).Select("id").Where("slug = ?", slug).Limit(1).Find(&col).Error
	if err != nil {
		return nil, err
	}
	if col.ID == "" {
		return nil, nil
	}
	return &col.ID, nil
}

// Browse returns active unsold listings matching f. Unknown category or
// college slugs are ignored rather than matching nothing.
func (s *Service) Browse(ctx context.Context, f Filter) (*Page, error) {
	if f.Condition != "" && !models.ValidCondition(f.Condition) {
		return nil, apperr.Invalid(fmt.Sprintf("unknown condition %q", f.Condition))
	}
	if f.MinPrice != nil && f.MaxPrice != nil && *f.MinPrice > *f.MaxPrice {
		return nil, apperr.Invalid("min_price exceeds max_price")
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	switch {
	case f.Limit <= 0:
		f.Limit = DefaultPage
	case f.Limit > MaxPage:
		f.Limit = MaxPage
	}

	q := s.db.WithContext(ctx).Model(&models.Listing{}).
		Where("is_active = ? AND is_sold = ?", true, false)

	if f.Category != "" {
		id, err := s.categoryID(ctx, f.Category)
		if err != nil {
			return nil, fmt.Errorf("marketplace: browse: %w", err)
		}
		if id != nil {
			q = q.Where("category_id = ?", *id)
		}
	}
	if f.College != "" {
		id, err := s.collegeID(ctx, f.College)
		if err != nil {
			return nil, fmt.Errorf("marketplace: browse: %w", err)
		}
		if id != nil {
			q = q.Where("college_id = ?", *id)
		}
	}
	if f.Condition != "" {
		// condition is reserved in MySQL; map keys are quoted.
		q = q.Where(map[string]any{"condition": f.Condition})
	}
	if f.MinPrice != nil {
		q = q.Where("price >= ?", *f.MinPrice)
	}
	if f.MaxPrice != nil {
		q = q.Where("price <= ?", *f.MaxPrice)
	}
	if term := strings.TrimSpace(f.Query); term != "" {
		q = q.Where("LOWER(title) LIKE ? ESCAPE '!'", "%"+likeEscaper.Replace(strings.ToLower(term))+"%")
	}

	q = q.Session(&gorm.Session{})
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("marketplace: browse count: %w", err)
	}

	var listings []models.Listing
	err := orderBy(q, f.Sort).
		Preload("Category").Preload("College").
		Offset(f.Offset).Limit(f.Limit).
		Find(&listings).Error
	if err != nil {
		return nil, fmt.Errorf("marketplace: browse: %w", err)
	}
	return &Page{Listings: listings, Total: total, Offset: f.Offset, Limit: f.Limit}, nil
}

func orderBy(q *gorm.DB, sort string) *gorm.DB {
	switch sort {
	case SortOldest:
		return q.Order("created_at ASC").Order("id")
	case SortPriceLow:
		return q.Order("price ASC").Order("created_at DESC")
	case SortPriceHigh:
		return q.Order("price DESC").Order("created_at DESC")
	case SortPopular:
		return q.Order("views_count DESC").Order("created_at DESC")
	default:
		return q.Order("created_at DESC").Order("id")
	}
}

// Recent returns the newest active unsold listings.
func (s *Service) Recent(ctx context.Context, limit int) ([]models.Listing, error) {
	if limit <= 0 {
		limit = RecentLimit
	}
	page, err := s.Browse(ctx, Filter{Sort: SortNewest, Limit: limit})
	if err != nil {
		return nil, err
	}
	return page.Listings, nil
}
