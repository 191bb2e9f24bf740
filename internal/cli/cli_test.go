package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/diewo77/go-contracts/internal/automation"
	"github.com/diewo77/go-contracts/internal/cadence"
	"github.com/diewo77/go-contracts/internal/config"
	database "github.com/diewo77/go-contracts/internal/db"
	"github.com/diewo77/go-contracts/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.OpenSQLite(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()), false)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func execute(t *testing.T, db *gorm.DB, args ...string) (string, error) {
	t.Helper()
	cfg := &config.Config{Database: config.DatabaseConfig{Driver: "sqlite"}}
	root := NewRootCmd(cfg, func(*config.Config) (*gorm.DB, error) { return db, nil })
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func seedActiveContract(t *testing.T, db *gorm.DB) *models.Contract {
	t.Helper()
	next := cadence.NewDate(2024, time.February, 1)
	c := &models.Contract{
		CompanyID:       1,
		CustomerID:      1,
		MonthlyValue:    decimal.NewFromInt(100),
		BillingType:     cadence.Monthly,
		BillingDay:      1,
		StartDate:       cadence.NewDate(2024, time.January, 1),
		NextBillingDate: &next,
		Status:          models.ContractStatusActive,
	}
	require.NoError(t, db.Create(c).Error)
	return c
}

func TestMigrateAndSeed(t *testing.T) {
	db := setupTestDB(t)

	out, err := execute(t, db, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "migrations completed")

	out, err = execute(t, db, "seed", "--company", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "seeding completed")

	var count int64
	db.Model(&models.CancellationReason{}).Where("company_id = ?", 5).Count(&count)
	assert.Equal(t, int64(len(database.DefaultCancellationReasons)), count)
}

func TestRunCommand(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, database.Migrate(db))
	c := seedActiveContract(t, db)

	out, err := execute(t, db, "run", "--date", "2024-03-01")
	require.NoError(t, err)
	var res automation.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res), out)
	assert.Len(t, res.GeneratedEntries, 2)
	assert.Zero(t, res.ErrorCount)

	// the same date again bills nothing new
	out, err = execute(t, db, "run", "--date", "2024-03-01")
	require.NoError(t, err)
	res = automation.Result{}
	require.NoError(t, json.Unmarshal([]byte(out), &res), out)
	assert.Empty(t, res.GeneratedEntries)

	var entries int64
	db.Model(&models.FinancialEntry{}).Where("contract_id = ?", c.ID).Count(&entries)
	assert.Equal(t, int64(2), entries)

	out, err = execute(t, db, "runs", "--limit", "5")
	require.NoError(t, err)
	var runs []models.AutomationRun
	require.NoError(t, json.Unmarshal([]byte(out), &runs), out)
	require.Len(t, runs, 2)
	assert.Equal(t, models.TriggerCLI, runs[0].Trigger)
}

func TestDueAndCancelCommands(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, database.Migrate(db))
	c := seedActiveContract(t, db)

	out, err := execute(t, db, "due", "--date", "2024-02-01", "--company", "1")
	require.NoError(t, err)
	var due []models.Contract
	require.NoError(t, json.Unmarshal([]byte(out), &due), out)
	require.Len(t, due, 1)
	assert.Equal(t, c.ID, due[0].ID)

	out, err = execute(t, db, "cancel", fmt.Sprint(c.ID), "--reason", "Customer request", "--date", "2024-01-20", "--fee", "25")
	require.NoError(t, err)
	var res struct {
		Contract models.Contract        `json:"contract"`
		FeeEntry *models.FinancialEntry `json:"fee_entry"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res), out)
	assert.Equal(t, models.ContractStatusCancelled, res.Contract.Status)
	require.NotNil(t, res.FeeEntry)
	assert.True(t, decimal.NewFromInt(25).Equal(res.FeeEntry.Amount))
}

func TestCommandErrors(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, database.Migrate(db))

	_, err := execute(t, db, "cancel", "abc", "--reason", "x")
	assert.ErrorContains(t, err, "invalid contract id")

	_, err = execute(t, db, "run", "--date", "01/03/2024")
	assert.ErrorContains(t, err, "invalid --date")

	_, err = execute(t, db, "cancel", "999", "--reason", "Customer request")
	assert.Error(t, err)
}
