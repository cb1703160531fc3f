package maintenance

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/peerly/internal/logging"
	"github.com/zulandar/peerly/internal/models"
	"github.com/zulandar/peerly/internal/moderation"
)

type recordingNotifier struct {
	alerts []moderation.Alert
	err    error
}

func (r *recordingNotifier) Notify(_ context.Context, a moderation.Alert) error {
	if r.err != nil {
		return r.err
	}
	r.alerts = append(r.alerts, a)
	return nil
}

func TestBuildDigest(t *testing.T) {
	gdb := openMaintenanceTestDB(t)
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	yesterday := now.Add(-3 * time.Hour)
	lastWeek := now.Add(-7 * 24 * time.Hour)

	listings := []models.Listing{
		{SellerID: "s", Title: "Lamp", Condition: models.ConditionGood, Images: []string{}, IsActive: true, CreatedAt: yesterday, UpdatedAt: yesterday},
		{SellerID: "s", Title: "Cycle", Condition: models.ConditionFair, Images: []string{}, IsActive: true, IsSold: true, CreatedAt: lastWeek, UpdatedAt: yesterday},
		{SellerID: "s", Title: "Desk", Condition: models.ConditionFair, Images: []string{}, IsActive: true, CreatedAt: lastWeek, UpdatedAt: lastWeek},
	}
	if err := gdb.Create(&listings).Error; err != nil {
		t.Fatal(err)
	}
	conv := models.Conversation{ListingID: listings[0].ID, BuyerID: "b", SellerID: "s", CreatedAt: yesterday, UpdatedAt: yesterday}
	if err := gdb.Create(&conv).Error; err != nil {
		t.Fatal(err)
	}
	msgs := []models.Message{
		{ConversationID: conv.ID, SenderID: "b", Content: "hi", CreatedAt: yesterday},
		{ConversationID: conv.ID, SenderID: "s", Content: "hello", CreatedAt: yesterday.Add(time.Minute)},
	}
	if err := gdb.Create(&msgs).Error; err != nil {
		t.Fatal(err)
	}
	report := models.Report{ReporterID: "b", Reason: models.ReportFake, CreatedAt: yesterday}
	if err := gdb.Create(&report).Error; err != nil {
		t.Fatal(err)
	}

	d, err := BuildDigest(context.Background(), gdb, now.Add(-24*time.Hour), now)
	if err != nil {
		t.Fatalf("BuildDigest: %v", err)
	}
	if d.NewListings != 1 || d.SoldListings != 1 || d.Conversations != 1 || d.Messages != 2 || d.Reports != 1 || d.Unforwarded != 1 {
		t.Errorf("digest = %+v", d)
	}
	if d.Empty() {
		t.Error("digest should not be empty")
	}

	a := FormatDigest(d)
	if !strings.Contains(a.Body, "1 new, 1 sold") || !strings.Contains(a.Body, "(1 not forwarded)") {
		t.Errorf("body = %q", a.Body)
	}
	if a.Color != "#f0ad4e" {
		t.Errorf("color = %q, want report color", a.Color)
	}
}

func TestDigester_Post(t *testing.T) {
	gdb := openMaintenanceTestDB(t)
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	n := &recordingNotifier{}

	if _, err := NewDigester(DigesterOpts{DB: gdb}); err == nil {
		t.Error("expected error without notifier")
	}
	g, err := NewDigester(DigesterOpts{DB: gdb, Notifier: n, Logger: logging.Nop(), Now: func() time.Time { return now }})
	if err != nil {
		t.Fatal(err)
	}

	sent, err := g.Post(context.Background())
	if err != nil || sent {
		t.Errorf("quiet day: sent=%v err=%v", sent, err)
	}

	l := models.Listing{SellerID: "s", Title: "Kettle", Condition: models.ConditionNew, Images: []string{}, IsActive: true, CreatedAt: now.Add(-time.Hour), UpdatedAt: now.Add(-time.Hour)}
	if err := gdb.Create(&l).Error; err != nil {
		t.Fatal(err)
	}
	sent, err = g.Post(context.Background())
	if err != nil || !sent {
		t.Fatalf("sent=%v err=%v", sent, err)
	}
	if len(n.alerts) != 1 || n.alerts[0].Title != "PeeRly daily digest" {
		t.Errorf("alerts = %+v", n.alerts)
	}

	n.err = errors.New("channel gone")
	if err := g.DigestJob("0 8 * * *").Run(context.Background()); err == nil {
		t.Error("expected notifier error from job")
	}
}
