package db

import (
	"fmt"

	"github.com/zulandar/peerly/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DSN builds the driver-specific connection string for cfg. An explicit
// cfg.DSN wins over the discrete fields.
func DSN(cfg config.DatabaseConfig) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}
	switch cfg.Driver {
	case "postgres":
		dsn := fmt.Sprintf("host=%s port=%d dbname=%s sslmode=disable", cfg.Host, cfg.Port, cfg.Name)
		if cfg.User != "" {
			dsn += " user=" + cfg.User
		}
		if cfg.Password != "" {
			dsn += " password=" + cfg.Password
		}
		return dsn
	case "mysql":
		return fmt.Sprintf("%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4", userInfo(cfg), cfg.Host, cfg.Port, cfg.Name)
	default:
		return cfg.Name + "?_foreign_keys=on"
	}
}

func userInfo(cfg config.DatabaseConfig) string {
	user := cfg.User
	if user == "" {
		user = "root"
	}
	if cfg.Password != "" {
		return user + ":" + cfg.Password
	}
	return user
}

// Dialector returns the gorm dialector for cfg.Driver.
func Dialector(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	dsn := DSN(cfg)
	switch cfg.Driver {
	case "postgres":
		return postgres.Open(dsn), nil
	case "mysql":
		return mysql.Open(dsn), nil
	case "sqlite", "":
		return sqlite.Open(dsn), nil
	}
	return nil, fmt.Errorf("db: unsupported driver %q", cfg.Driver)
}

// Connect opens a GORM connection and applies pool limits.
func Connect(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dialector, err := Dialector(cfg)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: connect to %s %s: %w", cfg.Driver, cfg.Name, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("db: connect to %s %s: %w", cfg.Driver, cfg.Name, err)
	}
	if cfg.MaxOpen > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpen)
	}
	if cfg.MaxIdle > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdle)
	}
	return db, nil
}

// ConnectAdmin opens a connection to the server without selecting the
// application database, used for CREATE/DROP DATABASE. Not available for
// sqlite, where the database is a file.
func ConnectAdmin(cfg config.DatabaseConfig) (*gorm.DB, error) {
	admin := cfg
	admin.DSN = ""
	switch cfg.Driver {
	case "postgres":
		admin.Name = "postgres"
	case "mysql":
		admin.Name = ""
	default:
		return nil, fmt.Errorf("db: admin connect: driver %q has no server", cfg.Driver)
	}
	dialector, err := Dialector(admin)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: admin connect to %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return db, nil
}

// CreateDatabase creates the named database if it doesn't already exist.
func CreateDatabase(adminDB *gorm.DB, name string) error {
	var sql string
	switch adminDB.Dialector.Name() {
	case "postgres":
		var n int64
		if err := adminDB.Raw("SELECT count(*) FROM pg_database WHERE datname = ?", name).Scan(&n).Error; err != nil {
			return fmt.Errorf("db: create database %s: %w", name, err)
		}
		if n > 0 {
			return nil
		}
		sql = fmt.Sprintf(`CREATE DATABASE "%s"`, name)
	default:
		sql = fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", name)
	}
	if err := adminDB.Exec(sql).Error; err != nil {
		return fmt.Errorf("db: create database %s: %w", name, err)
	}
	return nil
}

// DropDatabase drops the named database if it exists.
func DropDatabase(adminDB *gorm.DB, name string) error {
	sql := fmt.Sprintf("DROP DATABASE IF EXISTS `%s`", name)
	if adminDB.Dialector.Name() == "postgres" {
		sql = fmt.Sprintf(`DROP DATABASE IF EXISTS "%s"`, name)
	}
	if err := adminDB.Exec(sql).Error; err != nil {
		return fmt.Errorf("db: drop database %s: %w", name, err)
	}
	return nil
}
