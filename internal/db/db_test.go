package db

import (
	"strings"
	"testing"

	"github.com/zulandar/peerly/internal/config"
	"github.com/zulandar/peerly/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	return db
}

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.DatabaseConfig
		want string
	}{
		{
			name: "explicit dsn wins",
			cfg:  config.DatabaseConfig{Driver: "postgres", DSN: "postgres://u@h/db", Host: "ignored"},
			want: "postgres://u@h/db",
		},
		{
			name: "postgres",
			cfg:  config.DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, Name: "peerly", User: "app", Password: "pw"},
			want: "host=db port=5432 dbname=peerly sslmode=disable user=app password=pw",
		},
		{
			name: "mysql default user",
			cfg:  config.DatabaseConfig{Driver: "mysql", Host: "127.0.0.1", Port: 3306, Name: "peerly"},
			want: "root@tcp(127.0.0.1:3306)/peerly?parseTime=true&charset=utf8mb4",
		},
		{
			name: "mysql with password",
			cfg:  config.DatabaseConfig{Driver: "mysql", Host: "h", Port: 3307, Name: "p", User: "u", Password: "x"},
			want: "u:x@tcp(h:3307)/p?parseTime=true&charset=utf8mb4",
		},
		{
			name: "sqlite",
			cfg:  config.DatabaseConfig{Driver: "sqlite", Name: "peerly.db"},
			want: "peerly.db?_foreign_keys=on",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DSN(tt.cfg); got != tt.want {
				t.Errorf("DSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDialector_Unsupported(t *testing.T) {
	_, err := Dialector(config.DatabaseConfig{Driver: "oracle"})
	if err == nil || !strings.Contains(err.Error(), `unsupported driver "oracle"`) {
		t.Fatalf("err = %v, want unsupported driver", err)
	}
}

func TestConnect_SQLiteFile(t *testing.T) {
	path := t.TempDir() + "/peerly.db"
	db, err := Connect(config.DatabaseConfig{Driver: "sqlite", Name: path, MaxOpen: 1, MaxIdle: 1})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	sqlDB, _ := db.DB()
	defer sqlDB.Close()
	if got := sqlDB.Stats().MaxOpenConnections; got != 1 {
		t.Errorf("MaxOpenConnections = %d, want 1", got)
	}
}

func TestConnect_Error(t *testing.T) {
	// Port 1 is unlikely to have a MySQL server; expect connection error.
	_, err := Connect(config.DatabaseConfig{Driver: "mysql", Host: "127.0.0.1", Port: 1, Name: "nonexistent"})
	if err == nil {
		t.Fatal("expected error connecting to invalid port")
	}
	if !strings.Contains(err.Error(), "db: connect to") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "db: connect to")
	}
}

func TestConnectAdmin_SQLiteRejected(t *testing.T) {
	_, err := ConnectAdmin(config.DatabaseConfig{Driver: "sqlite", Name: "x.db"})
	if err == nil || !strings.Contains(err.Error(), "has no server") {
		t.Fatalf("err = %v, want no server error", err)
	}
}

func TestAllModels_Count(t *testing.T) {
	if got := len(AllModels()); got != 9 {
		t.Errorf("AllModels() returned %d models, want 9", got)
	}
}

func TestAutoMigrate_CreatesTables(t *testing.T) {
	db := openTestDB(t)
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	for _, table := range []string{"profiles", "credentials", "colleges", "categories", "listings", "saved_listings", "conversations", "messages", "reports"} {
		if !db.Migrator().HasTable(table) {
			t.Errorf("table %s not created", table)
		}
	}
	if !db.Migrator().HasIndex(&models.Conversation{}, "idx_conversation_natural_key") {
		t.Error("conversation natural key index missing")
	}
}

func TestAutoMigrate_ConversationNaturalKeyUnique(t *testing.T) {
	db := openTestDB(t)
	if err := AutoMigrate(db); err != nil {
		t.Fatal(err)
	}
	c1 := models.Conversation{ListingID: "l1", BuyerID: "b", SellerID: "s"}
	if err := db.Create(&c1).Error; err != nil {
		t.Fatalf("first create: %v", err)
	}
	c2 := models.Conversation{ListingID: "l1", BuyerID: "b", SellerID: "s"}
	if err := db.Create(&c2).Error; err == nil {
		t.Fatal("duplicate (listing, buyer, seller) accepted")
	}
}

func TestDropAll(t *testing.T) {
	db := openTestDB(t)
	if err := AutoMigrate(db); err != nil {
		t.Fatal(err)
	}
	if err := DropAll(db); err != nil {
		t.Fatalf("DropAll: %v", err)
	}
	if db.Migrator().HasTable("messages") {
		t.Error("messages table still present")
	}
}

func TestSeed_Idempotent(t *testing.T) {
	db := openTestDB(t)
	cfg := &config.Config{Colleges: []config.CollegeConfig{
		{Name: "IIT Delhi", Slug: "iitd", EmailDomain: "iitd.ac.in", Location: "New Delhi"},
	}}
	for i := 0; i < 2; i++ {
		if err := Seed(db, cfg); err != nil {
			t.Fatalf("Seed #%d: %v", i+1, err)
		}
	}

	var catCount, colCount int64
	db.Model(&models.Category{}).Count(&catCount)
	db.Model(&models.College{}).Count(&colCount)
	if catCount != int64(len(DefaultCategories())) {
		t.Errorf("categories = %d, want %d", catCount, len(DefaultCategories()))
	}
	if colCount != 1 {
		t.Errorf("colleges = %d after double seed, want 1", colCount)
	}
}

func TestSeedColleges_UpdateExisting(t *testing.T) {
	db := openTestDB(t)
	if err := AutoMigrate(db); err != nil {
		t.Fatal(err)
	}
	if err := SeedColleges(db, []config.CollegeConfig{{Name: "Old", Slug: "x", EmailDomain: "old.edu"}}); err != nil {
		t.Fatal(err)
	}
	if err := SeedColleges(db, []config.CollegeConfig{{Name: "New", Slug: "x", EmailDomain: "new.edu"}}); err != nil {
		t.Fatal(err)
	}
	var c models.College
	if err := db.Where("slug = ?", "x").First(&c).Error; err != nil {
		t.Fatal(err)
	}
	if c.Name != "New" || c.EmailDomain != "new.edu" {
		t.Errorf("college = %+v, want updated name and domain", c)
	}
}

func TestSeedCategories_Error(t *testing.T) {
	db := openTestDB(t)
	// No migration: the table does not exist.
	err := SeedCategories(db, DefaultCategories())
	if err == nil || !strings.Contains(err.Error(), "db: seed category") {
		t.Fatalf("err = %v, want seed category error", err)
	}
}
