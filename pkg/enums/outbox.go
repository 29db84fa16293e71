package enums

import "fmt"

// OutboxAggregateType names the entity an outbox event belongs to.
type OutboxAggregateType string

const (
	AggregateSettlement     OutboxAggregateType = "settlement"
	AggregateOrder          OutboxAggregateType = "order"
	AggregateReservation    OutboxAggregateType = "reservation"
	AggregateDelivery       OutboxAggregateType = "delivery"
	AggregatePaymentSession OutboxAggregateType = "payment_session"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateSettlement,
	AggregateOrder,
	AggregateReservation,
	AggregateDelivery,
	AggregatePaymentSession,
}

// IsValid reports whether the value is a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// OutboxEventType names a domain event relayed through the outbox.
type OutboxEventType string

const (
	EventSettlementCompleted       OutboxEventType = "settlement.completed"
	EventOrderStatusChanged        OutboxEventType = "order.status_changed"
	EventReservationCreated        OutboxEventType = "reservation.created"
	EventReservationStatusChanged  OutboxEventType = "reservation.status_changed"
	EventReservationPaid           OutboxEventType = "reservation.paid"
	EventDeliveryStatusChanged     OutboxEventType = "delivery.status_changed"
	EventPaymentFailed             OutboxEventType = "payment.failed"
	EventPaymentSettlementRejected OutboxEventType = "payment.settlement_rejected"
)

var validOutboxEventTypes = []OutboxEventType{
	EventSettlementCompleted,
	EventOrderStatusChanged,
	EventReservationCreated,
	EventReservationStatusChanged,
	EventReservationPaid,
	EventDeliveryStatusChanged,
	EventPaymentFailed,
	EventPaymentSettlementRejected,
}

// IsValid reports whether the value is a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into an OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid outbox event type %q", value)
}

// OutboxDLQErrorReason explains why an event was parked.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)
