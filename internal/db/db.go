package db

import (
	"errors"
	"fmt"
	"time"

	"github.com/diewo77/go-contracts/internal/config"
	"github.com/diewo77/go-contracts/internal/logger"
	"github.com/diewo77/go-contracts/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const connectAttempts = 5

// GormConfig is shared by every connection so that unique violations surface
// as gorm.ErrDuplicatedKey and timestamps are written in UTC.
func GormConfig(debug bool) *gorm.Config {
	level := gormlogger.Silent
	if debug {
		level = gormlogger.Info
	}
	return &gorm.Config{
		Logger:         gormlogger.Default.LogMode(level),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	}
}

// Connect opens the configured database, retrying while Postgres starts up.
func Connect(cfg config.DatabaseConfig) (*gorm.DB, error) {
	log := logger.WithComponent("db")
	if cfg.Driver == "sqlite" {
		log.Info().Str("path", cfg.Path).Msg("opening sqlite database")
		return OpenSQLite(cfg.Path, cfg.Debug)
	}
	if cfg.Driver != "" && cfg.Driver != "postgres" {
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.Driver)
	}

	dsn := NormalizeDSN(cfg.DSN())
	if dsn == "" {
		return nil, errors.New("empty database DSN")
	}
	dsn = WithTimeZone(dsn, "UTC")
	var conn *gorm.DB
	var err error
	for i := 0; i < connectAttempts; i++ {
		conn, err = gorm.Open(postgres.Open(dsn), GormConfig(cfg.Debug))
		if err == nil {
			break
		}
		log.Warn().Err(err).Int("attempt", i+1).Msg("database not reachable, retrying")
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect database after retries: %w", err)
	}
	if err := conn.Exec("SELECT 1").Error; err != nil {
		return nil, fmt.Errorf("db ping failed: %w", err)
	}
	log.Info().Str("dsn", MaskDSN(dsn)).Msg("database connected")
	return conn, nil
}

// OpenSQLite opens a sqlite database. SQLite allows a single writer, so the
// pool is limited to one connection; concurrent batch workers queue on it.
func OpenSQLite(dsn string, debug bool) (*gorm.DB, error) {
	conn, err := gorm.Open(sqlite.Open(dsn), GormConfig(debug))
	if err != nil {
		return nil, err
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return conn, nil
}

// Migrate creates or updates every table with GORM AutoMigrate.
func Migrate(conn *gorm.DB) error {
	for _, m := range models.All() {
		if err := conn.AutoMigrate(m); err != nil {
			return fmt.Errorf("automigrate %T: %w", m, err)
		}
	}
	return nil
}

// DefaultCancellationReasons are seeded for every tenant.
var DefaultCancellationReasons = []models.CancellationReason{
	{Name: "Customer request", Active: true},
	{Name: "Non-payment", Active: true},
	{Name: "Service dissatisfaction", Active: true, RequiresDetails: true},
	{Name: "Other", Active: true, RequiresDetails: true},
}

// Seed makes sure every tenant has the default cancellation reasons. Safe to
// run repeatedly.
func Seed(conn *gorm.DB) error {
	var tenants []models.TenantSettings
	if err := conn.Find(&tenants).Error; err != nil {
		return err
	}
	for _, t := range tenants {
		if err := SeedTenant(conn, t.CompanyID); err != nil {
			return err
		}
	}
	return nil
}

// SeedTenant creates the default cancellation reasons missing for companyID.
func SeedTenant(conn *gorm.DB, companyID uint) error {
	for _, r := range DefaultCancellationReasons {
		var existing models.CancellationReason
		err := conn.Where("company_id = ? AND name = ?", companyID, r.Name).First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		r.CompanyID = companyID
		if err := conn.Create(&r).Error; err != nil {
			return fmt.Errorf("seed reason %q: %w", r.Name, err)
		}
	}
	return nil
}
