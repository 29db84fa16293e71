package deliveries

import (
	"time"

	"github.com/google/uuid"

	"github.com/pharmalink/pharmalink-backend/pkg/db/models"
	"github.com/pharmalink/pharmalink-backend/pkg/enums"
)

// CreateInput is the body of POST /deliveries.
type CreateInput struct {
	ReservationID uuid.UUID `json:"reservationId" validate:"required"`
	Address       string    `json:"address" validate:"omitempty,max=512"`
	CourierID     *string   `json:"courierId" validate:"omitempty,max=64"`
}

// UpdateStatusInput is the body of PUT /deliveries/{id}/status.
type UpdateStatusInput struct {
	Status    string  `json:"status" validate:"required,oneof=pending out_for_delivery delivered"`
	CourierID *string `json:"courierId" validate:"omitempty,max=64"`
}

// DeliveryDTO is the API shape of a delivery.
type DeliveryDTO struct {
	ID            uuid.UUID            `json:"id"`
	ReservationID uuid.UUID            `json:"reservationId"`
	PharmacyID    uuid.UUID            `json:"pharmacyId"`
	CustomerID    uuid.UUID            `json:"customerId"`
	Address       string               `json:"address"`
	Status        enums.DeliveryStatus `json:"deliveryStatus"`
	CourierID     *string              `json:"courierId,omitempty"`
	DeliveredAt   *time.Time           `json:"deliveredAt,omitempty"`
	CreatedAt     time.Time            `json:"createdAt"`
	UpdatedAt     time.Time            `json:"updatedAt"`
}

func FromModel(d models.Delivery) DeliveryDTO {
	return DeliveryDTO{
		ID:            d.ID,
		ReservationID: d.ReservationID,
		PharmacyID:    d.PharmacyID,
		CustomerID:    d.CustomerID,
		Address:       d.Address,
		Status:        d.Status,
		CourierID:     d.CourierID,
		DeliveredAt:   d.DeliveredAt,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}
