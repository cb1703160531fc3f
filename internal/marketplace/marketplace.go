// Package marketplace implements listings, saved listings and the seller
// dashboard over gorm, with listing images in object storage.
package marketplace

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/zulandar/peerly/internal/storage"
	"gorm.io/gorm"
)

// Limits applied to listing input.
const (
	MaxImages      = 5
	MaxTitleLength = 200
	DefaultPage    = 12
	MaxPage        = 100
	RecentLimit    = 8
	DashboardItems = 5
)

// Service is the marketplace API.
type Service struct {
	db       *gorm.DB
	store    storage.Store
	cache    Cache
	cacheTTL time.Duration
	log      zerolog.Logger
}

// Opts holds parameters for NewService.
type Opts struct {
	DB      *gorm.DB
	Storage storage.Store
	// Cache holds category and college lists; nil disables caching.
	Cache    Cache
	CacheTTL time.Duration // default 10m
	Logger   zerolog.Logger
}

// NewService validates opts and returns a Service.
func NewService(opts Opts) (*Service, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("marketplace: db is required")
	}
	if opts.Storage == nil {
		return nil, fmt.Errorf("marketplace: storage is required")
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 10 * time.Minute
	}
	return &Service{
		db:       opts.DB,
		store:    opts.Storage,
		cache:    opts.Cache,
		cacheTTL: opts.CacheTTL,
		log:      opts.Logger,
	}, nil
}
