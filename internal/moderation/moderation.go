// Package moderation stores abuse reports and forwards them to a
// moderator channel (Slack, Discord).
package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/zulandar/peerly/internal/apperr"
	"github.com/zulandar/peerly/internal/models"
	"gorm.io/gorm"
)

// MaxDetailsLength bounds the free-text part of a report.
const MaxDetailsLength = 2000

// Notifier posts an alert to a moderator channel.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// Alert is a platform-neutral moderator notification.
type Alert struct {
	Title  string
	Body   string
	Color  string // sidebar color hint, e.g. "#d9534f"
	Fields []Field
}

// Field is a key-value pair shown with an alert.
type Field struct {
	Name  string
	Value string
	Short bool
}

// ValidReason reports whether r is a known report reason.
func ValidReason(r string) bool {
	switch r {
	case models.ReportFake, models.ReportAbuse, models.ReportStolen, models.ReportOther:
		return true
	}
	return false
}

var reasonColors = map[string]string{
	models.ReportFake:   "#f0ad4e",
	models.ReportAbuse:  "#d9534f",
	models.ReportStolen: "#d9534f",
	models.ReportOther:  "#5bc0de",
}

// FormatReport builds the alert for r. listing may be nil.
func FormatReport(r *models.Report, listing *models.Listing) Alert {
	a := Alert{
		Title: fmt.Sprintf("New report: %s", r.Reason),
		Body:  r.Details,
		Color: reasonColors[r.Reason],
		Fields: []Field{
			{Name: "Report", Value: r.ID, Short: true},
			{Name: "Reporter", Value: r.ReporterID, Short: true},
		},
	}
	if listing != nil {
		a.Fields = append(a.Fields,
			Field{Name: "Listing", Value: fmt.Sprintf("%s (%s)", listing.Title, listing.ID), Short: false},
			Field{Name: "Seller", Value: listing.SellerID, Short: true},
		)
	}
	if a.Body == "" {
		a.Body = "(no details)"
	}
	return a
}

// ReportInput is a user's report.
type ReportInput struct {
	ListingID string `json:"listing_id"`
	Reason    string `json:"reason"`
	Details   string `json:"details"`
}

// Service records reports and forwards them.
type Service struct {
	db       *gorm.DB
	notifier Notifier
	timeout  time.Duration
	log      zerolog.Logger
}

// Opts holds parameters for NewService.
type Opts struct {
	DB *gorm.DB
	// Notifier is optional; without one reports are only stored.
	Notifier Notifier
	Timeout  time.Duration // per forward, default 10s
	Logger   zerolog.Logger
}

// NewService validates opts and returns a Service.
func NewService(opts Opts) (*Service, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("moderation: db is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Service{db: opts.DB, notifier: opts.Notifier, timeout: opts.Timeout, log: opts.Logger}, nil
}

// Submit stores a report from reporterID and forwards it. Forwarding is
// best-effort: a notifier failure is logged and the stored report is still
// returned with Forwarded false.
func (s *Service) Submit(ctx context.Context, reporterID string, in ReportInput) (*models.Report, error) {
	if reporterID == "" {
		return nil, apperr.Invalid("reporter is required")
	}
	if !ValidReason(in.Reason) {
		return nil, apperr.Invalid(fmt.Sprintf("unknown reason %q", in.Reason))
	}
	details := strings.TrimSpace(in.Details)
	if len(details) > MaxDetailsLength {
		return nil, apperr.Invalid(fmt.Sprintf("details exceed %d characters", MaxDetailsLength))
	}
	if in.Reason == models.ReportOther && details == "" {
		return nil, apperr.Invalid("details are required for reason \"other\"")
	}

	var listing *models.Listing
	if in.ListingID != "" {
		var l models.Listing
		if err := s.db.WithContext(ctx).Where("id = ?", in.ListingID).First(&l).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, apperr.NotFound("listing not found")
			}
			return nil, fmt.Errorf("moderation: load listing: %w", err)
		}
		listing = &l
	}

	r := models.Report{ReporterID: reporterID, Reason: in.Reason, Details: details}
	if listing != nil {
		r.ListingID = &listing.ID
	}
	if err := s.db.WithContext(ctx).Create(&r).Error; err != nil {
		return nil, fmt.Errorf("moderation: store report: %w", err)
	}
	s.log.Info().Str("report", r.ID).Str("reason", r.Reason).Msg("report stored")

	if s.notifier == nil {
		return &r, nil
	}
	fctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.notifier.Notify(fctx, FormatReport(&r, listing)); err != nil {
		s.log.Error().Err(err).Str("report", r.ID).Msg("error forwarding report")
		return &r, nil
	}
	if err := s.db.WithContext(ctx).Model(&r).Update("forwarded", true).Error; err != nil {
		s.log.Error().Err(err).Str("report", r.ID).Msg("error marking report forwarded")
		return &r, nil
	}
	r.Forwarded = true
	return &r, nil
}

// Recent returns the newest reports, most recent first.
func (s *Service) Recent(ctx context.Context, limit int) ([]models.Report, error) {
	if limit <= 0 {
		limit = 50
	}
	var reports []models.Report
	if err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&reports).Error; err != nil {
		return nil, fmt.Errorf("moderation: recent reports: %w", err)
	}
	return reports, nil
}
