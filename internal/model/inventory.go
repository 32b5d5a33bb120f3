package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID          string          `gorm:"primaryKey;size:64;column:product_id"`
	Name        string          `gorm:"size:128;not null"`
	Description string          `gorm:"size:512"`
	Price       decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	CreatedAt   time.Time       `gorm:"autoCreateTime"`
}

func (Product) TableName() string { return "products" }

type InventoryItem struct {
	ProductID         string    `gorm:"primaryKey;size:64"`
	QuantityAvailable int       `gorm:"not null;check:chk_inventory_available,quantity_available >= 0"`
	QuantityReserved  int       `gorm:"not null;check:chk_inventory_reserved,quantity_reserved >= 0"`
	ReorderLevel      int       `gorm:"not null"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime"`
}

func (InventoryItem) TableName() string { return "inventory_items" }

// OnHand is the physical stock: available plus held by reservations.
func (i InventoryItem) OnHand() int { return i.QuantityAvailable + i.QuantityReserved }

type InventoryReservation struct {
	ID               string    `gorm:"primaryKey;size:36"`
	OrderID          string    `gorm:"size:64;not null;index"`
	ProductID        string    `gorm:"size:64;not null"`
	QuantityReserved int       `gorm:"not null"`
	Status           string    `gorm:"size:16;not null;index"`
	ReservedAt       time.Time `gorm:"not null"`
	ReleasedAt       *time.Time
	FulfilledAt      *time.Time
	Reason           string `gorm:"size:256"`
}

func (InventoryReservation) TableName() string { return "inventory_reservations" }
