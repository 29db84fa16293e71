package outbox

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SettlementCompleted is emitted once per committed settlement.
type SettlementCompleted struct {
	SettlementID       uuid.UUID       `json:"settlementId"`
	CustomerID         uuid.UUID       `json:"customerId"`
	Source             string          `json:"source"`
	TransactionID      string          `json:"transactionId,omitempty"`
	OrderIDs           []uuid.UUID     `json:"orderIds"`
	NumberOfPharmacies int             `json:"numberOfPharmacies"`
	GrandTotal         decimal.Decimal `json:"grandTotal"`
}

// StatusChanged describes a status transition on any aggregate.
type StatusChanged struct {
	ID         uuid.UUID `json:"id"`
	PharmacyID uuid.UUID `json:"pharmacyId"`
	CustomerID uuid.UUID `json:"customerId"`
	From       string    `json:"from"`
	To         string    `json:"to"`
}

// PaymentOutcome describes a gateway session that did not settle.
type PaymentOutcome struct {
	TransactionID string     `json:"transactionId"`
	CustomerID    uuid.UUID  `json:"customerId"`
	ReservationID *uuid.UUID `json:"reservationId,omitempty"`
	Status        string     `json:"status"`
	Reason        string     `json:"reason,omitempty"`
}
