package models

import (
	"time"

	"github.com/google/uuid"
)

// Pharmacy is a catalog entity owned by a pharmacy user. Read-only here.
type Pharmacy struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	OwnerUserID uuid.UUID `gorm:"column:owner_user_id;type:uuid;not null;index"`
	Name        string    `gorm:"column:name;not null"`
	Address     string    `gorm:"column:address;not null"`
	Phone       *string   `gorm:"column:phone"`
	IsActive    bool      `gorm:"column:is_active;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// Medicine is a catalog entry shared across pharmacies.
type Medicine struct {
	ID                   uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Name                 string    `gorm:"column:name;not null"`
	GenericName          *string   `gorm:"column:generic_name"`
	Manufacturer         *string   `gorm:"column:manufacturer"`
	RequiresPrescription bool      `gorm:"column:requires_prescription;not null"`
	CreatedAt            time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
