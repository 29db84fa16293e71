package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pharmalink/pharmalink-backend/pkg/enums"
)

// Reservation is a single-item purchase request. Status is driven by the
// pharmacy; PaymentStatus by gateway reconciliation.
type Reservation struct {
	ID             uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	CustomerID     uuid.UUID               `gorm:"column:customer_id;type:uuid;not null;index"`
	PharmacyID     uuid.UUID               `gorm:"column:pharmacy_id;type:uuid;not null;index"`
	MedicineID     uuid.UUID               `gorm:"column:medicine_id;type:uuid;not null"`
	Quantity       int                     `gorm:"column:quantity;not null"`
	UnitPrice      decimal.Decimal         `gorm:"column:unit_price;type:numeric(12,2);not null"`
	TotalPrice     decimal.Decimal         `gorm:"column:total_price;type:numeric(12,2);not null"`
	DeliveryCharge decimal.Decimal         `gorm:"column:delivery_charge;type:numeric(12,2);not null"`
	PlatformFee    decimal.Decimal         `gorm:"column:platform_fee;type:numeric(12,2);not null"`
	GrandTotal     decimal.Decimal         `gorm:"column:grand_total;type:numeric(12,2);not null"`
	DeliveryOption enums.DeliveryType      `gorm:"column:delivery_option;type:varchar(16);not null"`
	Address        *string                 `gorm:"column:address"`
	Status         enums.ReservationStatus `gorm:"column:status;type:varchar(16);not null"`
	PaymentStatus  enums.PaymentStatus     `gorm:"column:payment_status;type:varchar(16);not null"`
	TransactionID  *string                 `gorm:"column:transaction_id;uniqueIndex:uniq_reservation_transaction"`
	ValidationID   *string                 `gorm:"column:validation_id"`
	PaymentMethod  *string                 `gorm:"column:payment_method"`
	PaidAt         *time.Time              `gorm:"column:paid_at"`
	CreatedAt      time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}
