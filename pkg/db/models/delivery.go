package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/pharmalink/pharmalink-backend/pkg/enums"
)

// Delivery tracks the delivery leg of one reservation.
type Delivery struct {
	ID            uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	ReservationID uuid.UUID            `gorm:"column:reservation_id;type:uuid;not null;uniqueIndex:uniq_delivery_reservation"`
	PharmacyID    uuid.UUID            `gorm:"column:pharmacy_id;type:uuid;not null;index"`
	CustomerID    uuid.UUID            `gorm:"column:customer_id;type:uuid;not null"`
	Address       string               `gorm:"column:address;not null"`
	Status        enums.DeliveryStatus `gorm:"column:status;type:varchar(32);not null"`
	CourierID     *string              `gorm:"column:courier_id"`
	DeliveredAt   *time.Time           `gorm:"column:delivered_at"`
	CreatedAt     time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}
