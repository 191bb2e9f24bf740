package services

import (
	"fmt"
	"testing"
	"time"

	"github.com/diewo77/go-contracts/internal/cadence"
	database "github.com/diewo77/go-contracts/internal/db"
	"github.com/diewo77/go-contracts/internal/models"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	// unique in-memory DB per test name to avoid leakage via shared cache
	db, err := database.OpenSQLite(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()), false)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func day(s string) time.Time {
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return d
}

func dayPtr(s string) *time.Time {
	d := day(s)
	return &d
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// seedContract stores an active monthly contract billed on the 1st at 100/month,
// next due 2024-02-01. mutate adjusts it before insert.
func seedContract(t *testing.T, db *gorm.DB, mutate func(c *models.Contract)) *models.Contract {
	t.Helper()
	customer := models.Customer{CompanyID: 1, Name: "Acme Corp"}
	require.NoError(t, db.Create(&customer).Error)
	c := &models.Contract{
		CompanyID:       1,
		CustomerID:      customer.ID,
		MonthlyValue:    dec("100"),
		BillingType:     cadence.Monthly,
		BillingDay:      1,
		StartDate:       day("2024-01-01"),
		NextBillingDate: dayPtr("2024-02-01"),
		Status:          models.ContractStatusActive,
	}
	if mutate != nil {
		mutate(c)
	}
	require.NoError(t, db.Create(c).Error)
	return c
}

func seedEntry(t *testing.T, db *gorm.DB, c *models.Contract, cycle int, due string, status models.EntryStatus) *models.FinancialEntry {
	t.Helper()
	id := c.ID
	e := &models.FinancialEntry{
		CompanyID:           c.CompanyID,
		ContractID:          &id,
		CustomerID:          c.CustomerID,
		Type:                models.EntryTypeIncome,
		Kind:                models.EntryKindBilling,
		Amount:              c.MonthlyValue,
		BillingDate:         dayPtr(due),
		DueDate:             day(due),
		Status:              status,
		BillingCycleNumber:  cycle,
		IsContractGenerated: true,
	}
	require.NoError(t, db.Create(e).Error)
	return e
}

func reload(t *testing.T, db *gorm.DB, id uint) models.Contract {
	t.Helper()
	var c models.Contract
	require.NoError(t, db.Unscoped().First(&c, id).Error)
	return c
}

func nopLogger() zerolog.Logger { return zerolog.Nop() }
