package payments

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pharmalink/pharmalink-backend/internal/checkout"
	"github.com/pharmalink/pharmalink-backend/pkg/enums"
)

// Contact is optional customer detail forwarded to the gateway page.
type Contact struct {
	CustomerName  string `json:"customerName" validate:"omitempty,max=128"`
	CustomerEmail string `json:"customerEmail" validate:"omitempty,email,max=254"`
	CustomerPhone string `json:"customerPhone" validate:"omitempty,max=32"`
}

// CartInitInput is the body of POST /cart/payment-init.
type CartInitInput struct {
	DeliveryType    string `json:"deliveryType" validate:"required,oneof=pickup delivery"`
	DeliveryAddress string `json:"deliveryAddress" validate:"omitempty,max=512"`
	Contact
}

// ReservationInitInput is the body of POST /reservations/{id}/payment-init.
type ReservationInitInput struct {
	Contact
}

// InitResult is what the client needs to redirect to the gateway.
type InitResult struct {
	GatewayURL    string          `json:"gatewayUrl"`
	TransactionID string          `json:"transactionId"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
}

// Callback carries the fields a gateway posts back. Opaque is the
// settlement payload the gateway echoes.
type Callback struct {
	TransactionID string
	ValidationID  string
	Status        string
	Opaque        string
}

// Outcome is how a callback resolved.
type Outcome struct {
	Kind          enums.PaymentSessionKind
	TransactionID string
	Status        enums.PaymentSessionStatus
	Replayed      bool
	ReservationID *uuid.UUID
	Settlement    *checkout.Result
}
