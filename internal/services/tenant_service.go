package services

import (
	"context"
	"time"
	// zone names must resolve on hosts without a system tz database
	_ "time/tzdata"

	"github.com/diewo77/go-contracts/internal/models"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// TenantService reads per-company billing policy.
type TenantService struct {
	db  *gorm.DB
	log zerolog.Logger
}

func NewTenantService(db *gorm.DB, log zerolog.Logger) *TenantService {
	return &TenantService{db: db, log: log}
}

// Locations returns the time zone of every company that configured its own.
// Unknown zone names are logged and left out, so those companies follow the
// default billing zone.
func (s *TenantService) Locations(ctx context.Context) (map[uint]*time.Location, error) {
	var settings []models.TenantSettings
	err := s.db.WithContext(ctx).
		Select("company_id", "timezone").
		Where("timezone IS NOT NULL AND timezone <> ''").
		Find(&settings).Error
	if err != nil {
		return nil, err
	}
	out := make(map[uint]*time.Location, len(settings))
	for _, ts := range settings {
		loc, err := time.LoadLocation(ts.Timezone)
		if err != nil {
			s.log.Warn().Err(err).Uint("company_id", ts.CompanyID).Str("timezone", ts.Timezone).
				Msg("unknown tenant time zone, using the default")
			continue
		}
		out[ts.CompanyID] = loc
	}
	return out, nil
}
