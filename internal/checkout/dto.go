package checkout

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pharmalink/pharmalink-backend/internal/orders"
)

// CheckoutInput is the body of POST /cart/checkout and /cart/payment-init.
type CheckoutInput struct {
	DeliveryType    string `json:"deliveryType" validate:"required,oneof=pickup delivery"`
	DeliveryAddress string `json:"deliveryAddress" validate:"omitempty,max=512"`
}

// Summary aggregates one settlement.
type Summary struct {
	OrderCount          int             `json:"orderCount"`
	NumberOfPharmacies  int             `json:"numberOfPharmacies"`
	Subtotal            decimal.Decimal `json:"subtotal"`
	TotalDeliveryCharge decimal.Decimal `json:"totalDeliveryCharge"`
	TotalPlatformFee    decimal.Decimal `json:"totalPlatformFee"`
	GrandTotal          decimal.Decimal `json:"grandTotal"`
}

// Result is the outcome of a committed settlement.
type Result struct {
	SettlementID uuid.UUID         `json:"settlementId"`
	Orders       []orders.OrderDTO `json:"orders"`
	Summary      Summary           `json:"summary"`
}
