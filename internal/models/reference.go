package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Reference data below is owned by the surrounding back office. The billing
// engine reads it to label entries and to snapshot prices, and never writes it.

// Customer is the billed party of a contract.
type Customer struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
	CompanyID uint           `gorm:"index;not null" json:"company_id"`
	Name      string         `gorm:"size:255;not null" json:"name"`
	Email     string         `gorm:"size:255" json:"email,omitempty"`
}

type Product struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	DeletedAt gorm.DeletedAt  `gorm:"index" json:"deleted_at,omitempty"`
	CompanyID uint            `gorm:"index;not null" json:"company_id"`
	Name      string          `gorm:"size:255;not null" json:"name"`
	Price     decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"price"`
	Active    bool            `gorm:"not null" json:"active"`
}

// Package bundles products sold together under one contract.
type Package struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	DeletedAt gorm.DeletedAt  `gorm:"index" json:"deleted_at,omitempty"`
	CompanyID uint            `gorm:"index;not null" json:"company_id"`
	Name      string          `gorm:"size:255;not null" json:"name"`
	Discount  decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"discount"`
	Items     []PackageItem   `gorm:"foreignKey:PackageID" json:"items,omitempty"`
}

type PackageItem struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	PackageID uint            `gorm:"index;not null" json:"package_id"`
	ProductID uint            `gorm:"not null" json:"product_id"`
	Product   *Product        `gorm:"foreignKey:ProductID" json:"product,omitempty"`
	Quantity  decimal.Decimal `gorm:"type:decimal(10,3);not null" json:"quantity"`
	Position  int             `gorm:"default:0" json:"position"`
}

type PaymentMethod struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	CompanyID uint      `gorm:"index;not null" json:"company_id"`
	Name      string    `gorm:"size:100;not null" json:"name"`
}

type Category struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	CompanyID uint      `gorm:"index;not null" json:"company_id"`
	Name      string    `gorm:"size:100;not null" json:"name"`
	Type      EntryType `gorm:"size:20;not null" json:"type"`
}
