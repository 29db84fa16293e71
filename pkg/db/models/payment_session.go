package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pharmalink/pharmalink-backend/pkg/enums"
	"github.com/pharmalink/pharmalink-backend/pkg/types"
)

// PaymentSession is the durable record of one gateway session. Its
// TransactionID is the idempotency key for callbacks.
type PaymentSession struct {
	ID            uuid.UUID                  `gorm:"column:id;type:uuid;primaryKey"`
	TransactionID string                     `gorm:"column:transaction_id;not null;uniqueIndex:uniq_payment_session_transaction"`
	Kind          enums.PaymentSessionKind   `gorm:"column:kind;type:varchar(16);not null"`
	CustomerID    uuid.UUID                  `gorm:"column:customer_id;type:uuid;not null;index"`
	ReservationID *uuid.UUID                 `gorm:"column:reservation_id;type:uuid"`
	Amount        decimal.Decimal            `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency      string                     `gorm:"column:currency;type:varchar(8);not null"`
	Payload       types.SettlementPayload    `gorm:"column:payload;type:jsonb;serializer:json;not null"`
	Status        enums.PaymentSessionStatus `gorm:"column:status;type:varchar(16);not null"`
	GatewayURL    string                     `gorm:"column:gateway_url"`
	ValidationID  *string                    `gorm:"column:validation_id"`
	PaymentMethod *string                    `gorm:"column:payment_method"`
	FailureReason *string                    `gorm:"column:failure_reason"`
	SettlementID  *uuid.UUID                 `gorm:"column:settlement_id;type:uuid"`
	SettledAt     *time.Time                 `gorm:"column:settled_at"`
	CreatedAt     time.Time                  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time                  `gorm:"column:updated_at;autoUpdateTime"`
}
