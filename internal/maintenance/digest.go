package maintenance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/zulandar/peerly/internal/models"
	"github.com/zulandar/peerly/internal/moderation"
	"gorm.io/gorm"
)

// Digest holds marketplace activity for one period.
type Digest struct {
	PeriodStart   time.Time
	PeriodEnd     time.Time
	NewUsers      int64
	NewListings   int64
	SoldListings  int64
	Conversations int64
	Messages      int64
	Reports       int64
	Unforwarded   int64
}

// Empty reports whether nothing happened in the period.
func (d *Digest) Empty() bool {
	return d.NewUsers == 0 && d.NewListings == 0 && d.SoldListings == 0 &&
		d.Conversations == 0 && d.Messages == 0 && d.Reports == 0
}

// BuildDigest counts activity in [since, until).
func BuildDigest(ctx context.Context, db *gorm.DB, since, until time.Time) (*Digest, error) {
	d := &Digest{PeriodStart: since, PeriodEnd: until}
	db = db.WithContext(ctx)
	inRange := func(col string) string { return col + " >= ? AND " + col + " < ?" }

	counts := []struct {
		model any
		where string
		args  []any
		dst   *int64
	}{
		{&models.Profile{}, inRange("created_at"), []any{since, until}, &d.NewUsers},
		{&models.Listing{}, inRange("created_at"), []any{since, until}, &d.NewListings},
		{&models.Listing{}, "is_sold = ? AND " + inRange("updated_at"), []any{true, since, until}, &d.SoldListings},
		{&models.Conversation{}, inRange("created_at"), []any{since, until}, &d.Conversations},
		{&models.Message{}, inRange("created_at"), []any{since, until}, &d.Messages},
		{&models.Report{}, inRange("created_at"), []any{since, until}, &d.Reports},
		{&models.Report{}, "forwarded = ? AND " + inRange("created_at"), []any{false, since, until}, &d.Unforwarded},
	}
	for _, c := range counts {
		if err := db.Model(c.model).Where(c.where, c.args...).Count(c.dst).Error; err != nil {
			return nil, fmt.Errorf("maintenance: digest: count %T: %w", c.model, err)
		}
	}
	return d, nil
}

// FormatDigest renders d as a moderator alert.
func FormatDigest(d *Digest) moderation.Alert {
	lines := []string{
		fmt.Sprintf("Period: %s to %s", d.PeriodStart.Format("Jan 2 15:04"), d.PeriodEnd.Format("Jan 2 15:04")),
		fmt.Sprintf("Listings: %d new, %d sold", d.NewListings, d.SoldListings),
		fmt.Sprintf("Messaging: %d new conversations, %d messages", d.Conversations, d.Messages),
	}
	color := "#5cb85c"
	if d.Reports > 0 {
		line := fmt.Sprintf("Reports: %d", d.Reports)
		if d.Unforwarded > 0 {
			line += fmt.Sprintf(" (%d not forwarded)", d.Unforwarded)
		}
		lines = append(lines, line)
		color = "#f0ad4e"
	}
	return moderation.Alert{
		Title: "PeeRly daily digest",
		Body:  strings.Join(lines, "\n"),
		Color: color,
		Fields: []moderation.Field{
			{Name: "New users", Value: fmt.Sprintf("%d", d.NewUsers), Short: true},
			{Name: "New listings", Value: fmt.Sprintf("%d", d.NewListings), Short: true},
			{Name: "Messages", Value: fmt.Sprintf("%d", d.Messages), Short: true},
			{Name: "Reports", Value: fmt.Sprintf("%d", d.Reports), Short: true},
		},
	}
}

// Digester posts the daily digest to the moderator channel.
type Digester struct {
	db       *gorm.DB
	notifier moderation.Notifier
	log      zerolog.Logger
	now      func() time.Time
}

// DigesterOpts holds parameters for NewDigester.
type DigesterOpts struct {
	DB       *gorm.DB
	Notifier moderation.Notifier
	Logger   zerolog.Logger
	Now      func() time.Time
}

// NewDigester validates opts and returns a Digester.
func NewDigester(opts DigesterOpts) (*Digester, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("maintenance: db is required")
	}
	if opts.Notifier == nil {
		return nil, fmt.Errorf("maintenance: notifier is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Digester{db: opts.DB, notifier: opts.Notifier, log: opts.Logger, now: opts.Now}, nil
}

// Post sends the digest for the last 24 hours. Quiet days are skipped and
// Post returns false.
func (g *Digester) Post(ctx context.Context) (bool, error) {
	until := g.now().UTC()
	d, err := BuildDigest(ctx, g.db, until.Add(-24*time.Hour), until)
	if err != nil {
		return false, err
	}
	if d.Empty() {
		g.log.Debug().Msg("no activity, digest skipped")
		return false, nil
	}
	if err := g.notifier.Notify(ctx, FormatDigest(d)); err != nil {
		return false, fmt.Errorf("maintenance: post digest: %w", err)
	}
	return true, nil
}

// DigestJob wraps Post as a Job on schedule.
func (g *Digester) DigestJob(schedule string) Job {
	return Job{
		Name:     "daily-digest",
		Schedule: schedule,
		Run: func(ctx context.Context) error {
			_, err := g.Post(ctx)
			return err
		},
	}
}
