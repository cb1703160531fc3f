package moderation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/zulandar/peerly/internal/apperr"
	"github.com/zulandar/peerly/internal/db"
	"github.com/zulandar/peerly/internal/logging"
	"github.com/zulandar/peerly/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openModerationTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := gdb.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}

type fakeNotifier struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
}

func (f *fakeNotifier) Notify(_ context.Context, a Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.alerts = append(f.alerts, a)
	return nil
}

func newTestService(t *testing.T, gdb *gorm.DB, n Notifier) *Service {
	t.Helper()
	s, err := NewService(Opts{DB: gdb, Notifier: n, Logger: logging.Nop()})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return s
}

func TestNewService_RequiresDB(t *testing.T) {
	if _, err := NewService(Opts{}); err == nil || err.Error() != "moderation: db is required" {
		t.Errorf("err = %v", err)
	}
}

func TestSubmit_ForwardsAndMarks(t *testing.T) {
	gdb := openModerationTestDB(t)
	listing := models.Listing{SellerID: "seller-1", Title: "iPhone 15", Price: 100, Condition: models.ConditionNew, IsActive: true}
	gdb.Create(&listing)
	n := &fakeNotifier{}
	svc := newTestService(t, gdb, n)

	r, err := svc.Submit(context.Background(), "reporter-1", ReportInput{
		ListingID: listing.ID,
		Reason:    models.ReportStolen,
		Details:   "  this is my phone  ",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !r.Forwarded || r.Details != "this is my phone" || r.ListingID == nil || *r.ListingID != listing.ID {
		t.Errorf("report = %+v", r)
	}
	var stored models.Report
	gdb.First(&stored, "id = ?", r.ID)
	if !stored.Forwarded {
		t.Error("stored report not marked forwarded")
	}

	if len(n.alerts) != 1 {
		t.Fatalf("alerts = %d", len(n.alerts))
	}
	a := n.alerts[0]
	if a.Title != "New report: stolen" || a.Color != "#d9534f" || a.Body != "this is my phone" {
		t.Errorf("alert = %+v", a)
	}
	var sawListing bool
	for _, f := range a.Fields {
		if f.Name == "Listing" && strings.Contains(f.Value, "iPhone 15") {
			sawListing = true
		}
	}
	if !sawListing {
		t.Errorf("listing field missing: %+v", a.Fields)
	}
}

func TestSubmit_NotifierFailureKeepsReport(t *testing.T) {
	gdb := openModerationTestDB(t)
	svc := newTestService(t, gdb, &fakeNotifier{err: errors.New("slack down")})

	r, err := svc.Submit(context.Background(), "reporter-1", ReportInput{Reason: models.ReportAbuse})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if r.Forwarded {
		t.Error("report marked forwarded")
	}
	var n int64
	gdb.Model(&models.Report{}).Count(&n)
	if n != 1 {
		t.Errorf("reports = %d, want 1", n)
	}
}

func TestSubmit_WithoutNotifier(t *testing.T) {
	svc := newTestService(t, openModerationTestDB(t), nil)
	r, err := svc.Submit(context.Background(), "u", ReportInput{Reason: models.ReportFake})
	if err != nil || r.Forwarded {
		t.Errorf("Submit = %+v, %v", r, err)
	}
}

func TestSubmit_Validation(t *testing.T) {
	svc := newTestService(t, openModerationTestDB(t), &fakeNotifier{})
	tests := []struct {
		name     string
		reporter string
		in       ReportInput
		want     error
	}{
		{"missing reporter", "", ReportInput{Reason: models.ReportFake}, apperr.ErrInvalid},
		{"unknown reason", "u", ReportInput{Reason: "boring"}, apperr.ErrInvalid},
		{"other needs details", "u", ReportInput{Reason: models.ReportOther, Details: "  "}, apperr.ErrInvalid},
		{"details too long", "u", ReportInput{Reason: models.ReportAbuse, Details: strings.Repeat("x", MaxDetailsLength+1)}, apperr.ErrInvalid},
		{"missing listing", "u", ReportInput{Reason: models.ReportFake, ListingID: "nope"}, apperr.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Submit(context.Background(), tt.reporter, tt.in); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRecent(t *testing.T) {
	svc := newTestService(t, openModerationTestDB(t), nil)
	for _, reason := range []string{models.ReportFake, models.ReportAbuse, models.ReportStolen} {
		if _, err := svc.Submit(context.Background(), "u", ReportInput{Reason: reason}); err != nil {
			t.Fatal(err)
		}
	}
	got, err := svc.Recent(context.Background(), 2)
	if err != nil || len(got) != 2 {
		t.Fatalf("Recent = %v, %v", got, err)
	}
}

func TestFormatReport_NoListing(t *testing.T) {
	a := FormatReport(&models.Report{ID: "r1", ReporterID: "u1", Reason: models.ReportOther}, nil)
	if a.Body != "(no details)" || len(a.Fields) != 2 || a.Color != "#5bc0de" {
		t.Errorf("alert = %+v", a)
	}
}
