package types

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SettlementPayload is the opaque reference carried through a gateway
// session. It is stored with the session and echoed back by the gateway so
// a callback can reconstruct intent without any in-memory request state.
type SettlementPayload struct {
	CustomerID         uuid.UUID       `json:"customerId"`
	DeliveryType       string          `json:"deliveryType"`
	DeliveryAddress    string          `json:"deliveryAddress,omitempty"`
	NumberOfPharmacies int             `json:"numberOfPharmacies"`
	DeliveryCharge     decimal.Decimal `json:"deliveryCharge"`
	PlatformFee        decimal.Decimal `json:"platformFee"`
	ReservationID      *uuid.UUID      `json:"reservationId,omitempty"`
}

// Matches reports whether an echoed payload refers to the same settlement.
func (p SettlementPayload) Matches(other SettlementPayload) bool {
	sameReservation := (p.ReservationID == nil && other.ReservationID == nil) ||
		(p.ReservationID != nil && other.ReservationID != nil && *p.ReservationID == *other.ReservationID)
	return p.CustomerID == other.CustomerID &&
		p.DeliveryType == other.DeliveryType &&
		p.DeliveryAddress == other.DeliveryAddress &&
		p.NumberOfPharmacies == other.NumberOfPharmacies &&
		p.DeliveryCharge.Equal(other.DeliveryCharge) &&
		p.PlatformFee.Equal(other.PlatformFee) &&
		sameReservation
}
