package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pharmalink/pharmalink-backend/pkg/db/models"
	"github.com/pharmalink/pharmalink-backend/pkg/enums"
)

// OrderDTO is the API shape of an order.
type OrderDTO struct {
	ID              uuid.UUID           `json:"id"`
	SettlementID    uuid.UUID           `json:"settlementId"`
	CustomerID      uuid.UUID           `json:"customerId"`
	PharmacyID      uuid.UUID           `json:"pharmacyId"`
	MedicineID      uuid.UUID           `json:"medicineId"`
	Quantity        int                 `json:"quantity"`
	UnitPrice       decimal.Decimal     `json:"unitPrice"`
	TotalPrice      decimal.Decimal     `json:"totalPrice"`
	DeliveryCharge  decimal.Decimal     `json:"deliveryCharge"`
	PlatformFee     decimal.Decimal     `json:"platformFee"`
	GrandTotal      decimal.Decimal     `json:"grandTotal"`
	DeliveryType    enums.DeliveryType  `json:"deliveryType"`
	DeliveryAddress *string             `json:"deliveryAddress,omitempty"`
	Status          enums.OrderStatus   `json:"status"`
	PaymentMethod   enums.PaymentMethod `json:"paymentMethod"`
	TransactionID   *string             `json:"transactionId,omitempty"`
	DeliveryDate    *time.Time          `json:"deliveryDate,omitempty"`
	CreatedAt       time.Time           `json:"createdAt"`
}

// UpdateStatusInput is the body of PUT /orders/{id}/status.
type UpdateStatusInput struct {
	Status string `json:"status" validate:"required,oneof=pending confirmed delivered completed"`
}

// FromModel maps an order row to its DTO.
func FromModel(o models.Order) OrderDTO {
	return OrderDTO{
		ID:              o.ID,
		SettlementID:    o.SettlementID,
		CustomerID:      o.CustomerID,
		PharmacyID:      o.PharmacyID,
		MedicineID:      o.MedicineID,
		Quantity:        o.Quantity,
		UnitPrice:       o.UnitPrice,
		TotalPrice:      o.TotalPrice,
		DeliveryCharge:  o.DeliveryCharge,
		PlatformFee:     o.PlatformFee,
		GrandTotal:      o.GrandTotal,
		DeliveryType:    o.DeliveryType,
		DeliveryAddress: o.DeliveryAddress,
		Status:          o.Status,
		PaymentMethod:   o.PaymentMethod,
		TransactionID:   o.TransactionID,
		DeliveryDate:    o.DeliveryDate,
		CreatedAt:       o.CreatedAt,
	}
}

// FromModels maps rows preserving order.
func FromModels(rows []models.Order) []OrderDTO {
	out := make([]OrderDTO, len(rows))
	for i, row := range rows {
		out[i] = FromModel(row)
	}
	return out
}
