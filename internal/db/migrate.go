package db

import (
	"fmt"

	"github.com/zulandar/peerly/internal/config"
	"github.com/zulandar/peerly/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllModels returns every GORM model in dependency order for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.College{},
		&models.Category{},
		&models.Profile{},
		&models.Credential{},
		&models.Listing{},
		&models.SavedListing{},
		&models.Conversation{},
		&models.Message{},
		&models.Report{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// DropAll drops every table in reverse dependency order.
func DropAll(db *gorm.DB) error {
	all := AllModels()
	for i := len(all) - 1; i >= 0; i-- {
		if err := db.Migrator().DropTable(all[i]); err != nil {
			return fmt.Errorf("db: drop %T: %w", all[i], err)
		}
	}
	return nil
}

func strPtr(s string) *string { return &s }

// DefaultCategories is the stock category set.
func DefaultCategories() []models.Category {
	return []models.Category{
		{Name: "Textbooks", Slug: "textbooks", Icon: strPtr("📚")},
		{Name: "Electronics", Slug: "electronics", Icon: strPtr("💻")},
		{Name: "Cycles", Slug: "cycles", Icon: strPtr("🚲")},
		{Name: "Furniture", Slug: "furniture", Icon: strPtr("🪑")},
		{Name: "Clothing", Slug: "clothing", Icon: strPtr("👕")},
		{Name: "Sports", Slug: "sports", Icon: strPtr("⚽")},
		{Name: "Music", Slug: "music", Icon: strPtr("🎸")},
		{Name: "Other", Slug: "other", Icon: strPtr("📦")},
	}
}

// SeedCategories upserts categories keyed by slug.
func SeedCategories(db *gorm.DB, categories []models.Category) error {
	for _, c := range categories {
		c := c
		result := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "slug"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "icon"}),
		}).Create(&c)
		if result.Error != nil {
			return fmt.Errorf("db: seed category %q: %w", c.Slug, result.Error)
		}
	}
	return nil
}

// SeedColleges upserts College rows from configuration, keyed by slug.
func SeedColleges(db *gorm.DB, colleges []config.CollegeConfig) error {
	for _, cc := range colleges {
		college := models.College{
			Name:        cc.Name,
			Slug:        cc.Slug,
			EmailDomain: cc.EmailDomain,
			IsActive:    true,
		}
		if cc.Location != "" {
			college.Location = strPtr(cc.Location)
		}
		if cc.LogoURL != "" {
			college.LogoURL = strPtr(cc.LogoURL)
		}

		result := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "slug"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "email_domain", "location", "logo_url", "is_active"}),
		}).Create(&college)
		if result.Error != nil {
			return fmt.Errorf("db: seed college %q: %w", cc.Slug, result.Error)
		}
	}
	return nil
}

// Seed migrates and loads the stock categories plus the configured colleges.
func Seed(db *gorm.DB, cfg *config.Config) error {
	if err := AutoMigrate(db); err != nil {
		return err
	}
	if err := SeedCategories(db, DefaultCategories()); err != nil {
		return err
	}
	return SeedColleges(db, cfg.Colleges)
}
