package reservations

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pharmalink/pharmalink-backend/pkg/db/models"
	"github.com/pharmalink/pharmalink-backend/pkg/enums"
)

// CreateInput is the body of POST /reservations.
type CreateInput struct {
	PharmacyID     uuid.UUID `json:"pharmacyId" validate:"required"`
	MedicineID     uuid.UUID `json:"medicineId" validate:"required"`
	Quantity       int       `json:"quantity" validate:"required,min=1"`
	DeliveryOption string    `json:"deliveryOption" validate:"required,oneof=pickup delivery"`
	Address        string    `json:"address" validate:"omitempty,max=512"`
}

// UpdateStatusInput is the body of PUT /reservations/{id}/status.
type UpdateStatusInput struct {
	Status string `json:"status" validate:"required"`
}

// ReservationDTO is the API shape of a reservation.
type ReservationDTO struct {
	ID             uuid.UUID               `json:"id"`
	CustomerID     uuid.UUID               `json:"customerId"`
	PharmacyID     uuid.UUID               `json:"pharmacyId"`
	MedicineID     uuid.UUID               `json:"medicineId"`
	Quantity       int                     `json:"quantity"`
	UnitPrice      decimal.Decimal         `json:"unitPrice"`
	TotalPrice     decimal.Decimal         `json:"totalPrice"`
	DeliveryCharge decimal.Decimal         `json:"deliveryCharge"`
	PlatformFee    decimal.Decimal         `json:"platformFee"`
	GrandTotal     decimal.Decimal         `json:"grandTotal"`
	DeliveryOption enums.DeliveryType      `json:"deliveryOption"`
	Address        *string                 `json:"address,omitempty"`
	Status         enums.ReservationStatus `json:"status"`
	PaymentStatus  enums.PaymentStatus     `json:"paymentStatus"`
	TransactionID  *string                 `json:"transactionId,omitempty"`
	PaymentMethod  *string                 `json:"paymentMethod,omitempty"`
	PaidAt         *time.Time              `json:"paidAt,omitempty"`
	CreatedAt      time.Time               `json:"createdAt"`
	UpdatedAt      time.Time               `json:"updatedAt"`
}

// FromModel maps a reservation row to its DTO.
func FromModel(r models.Reservation) ReservationDTO {
	return ReservationDTO{
		ID:             r.ID,
		CustomerID:     r.CustomerID,
		PharmacyID:     r.PharmacyID,
		MedicineID:     r.MedicineID,
		Quantity:       r.Quantity,
		UnitPrice:      r.UnitPrice,
		TotalPrice:     r.TotalPrice,
		DeliveryCharge: r.DeliveryCharge,
		PlatformFee:    r.PlatformFee,
		GrandTotal:     r.GrandTotal,
		DeliveryOption: r.DeliveryOption,
		Address:        r.Address,
		Status:         r.Status,
		PaymentStatus:  r.PaymentStatus,
		TransactionID:  r.TransactionID,
		PaymentMethod:  r.PaymentMethod,
		PaidAt:         r.PaidAt,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}
