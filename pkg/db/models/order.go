package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pharmalink/pharmalink-backend/pkg/enums"
)

// Order is the settled record of one cart line. Price fields are written
// once at settlement; only Status and DeliveryDate change afterwards.
type Order struct {
	ID              uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	SettlementID    uuid.UUID           `gorm:"column:settlement_id;type:uuid;not null;index"`
	CustomerID      uuid.UUID           `gorm:"column:customer_id;type:uuid;not null;index"`
	PharmacyID      uuid.UUID           `gorm:"column:pharmacy_id;type:uuid;not null;index"`
	MedicineID      uuid.UUID           `gorm:"column:medicine_id;type:uuid;not null"`
	Quantity        int                 `gorm:"column:quantity;not null"`
	UnitPrice       decimal.Decimal     `gorm:"column:unit_price;type:numeric(12,2);not null"`
	TotalPrice      decimal.Decimal     `gorm:"column:total_price;type:numeric(12,2);not null"`
	DeliveryCharge  decimal.Decimal     `gorm:"column:delivery_charge;type:numeric(12,2);not null"`
	PlatformFee     decimal.Decimal     `gorm:"column:platform_fee;type:numeric(12,2);not null"`
	GrandTotal      decimal.Decimal     `gorm:"column:grand_total;type:numeric(12,2);not null"`
	DeliveryType    enums.DeliveryType  `gorm:"column:delivery_type;type:varchar(16);not null"`
	DeliveryAddress *string             `gorm:"column:delivery_address"`
	Status          enums.OrderStatus   `gorm:"column:status;type:varchar(16);not null"`
	PaymentMethod   enums.PaymentMethod `gorm:"column:payment_method;type:varchar(32);not null"`
	TransactionID   *string             `gorm:"column:transaction_id;index"`
	DeliveryDate    *time.Time          `gorm:"column:delivery_date"`
	CreatedAt       time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
