package services

import (
	"context"
	"testing"

	"github.com/diewo77/go-contracts/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTenantService_Locations(t *testing.T) {
	db := setupTestDB(t)
	svc := NewTenantService(db, nopLogger())
	require.NoError(t, db.Create(&models.TenantSettings{CompanyID: 1, Timezone: "America/Sao_Paulo"}).Error)
	require.NoError(t, db.Create(&models.TenantSettings{CompanyID: 2}).Error)
	require.NoError(t, db.Create(&models.TenantSettings{CompanyID: 3, Timezone: "Mars/Olympus_Mons"}).Error)

	locs, err := svc.Locations(context.Background())
	require.NoError(t, err)
	require.Len(t, locs, 1)
	require.Contains(t, locs, uint(1))
	assert.Equal(t, "America/Sao_Paulo", locs[1].String())
}
