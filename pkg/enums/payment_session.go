package enums

import "fmt"

// PaymentSessionKind names what a gateway session settles.
type PaymentSessionKind string

const (
	PaymentSessionKindCart        PaymentSessionKind = "cart"
	PaymentSessionKindReservation PaymentSessionKind = "reservation"
)

// IsValid reports whether the value is a known PaymentSessionKind.
func (k PaymentSessionKind) IsValid() bool {
	return k == PaymentSessionKindCart || k == PaymentSessionKindReservation
}

// PaymentSessionStatus tracks a gateway session from init to resolution.
type PaymentSessionStatus string

const (
	PaymentSessionInitiated PaymentSessionStatus = "initiated"
	PaymentSessionSettled   PaymentSessionStatus = "settled"
	PaymentSessionFailed    PaymentSessionStatus = "failed"
	PaymentSessionCancelled PaymentSessionStatus = "cancelled"
	PaymentSessionExpired   PaymentSessionStatus = "expired"
	// PaymentSessionRejected is a validated payment that could not settle and
	// was handed to operations for refund.
	PaymentSessionRejected PaymentSessionStatus = "rejected"
)

var validPaymentSessionStatuses = []PaymentSessionStatus{
	PaymentSessionInitiated,
	PaymentSessionSettled,
	PaymentSessionFailed,
	PaymentSessionCancelled,
	PaymentSessionExpired,
	PaymentSessionRejected,
}

// IsValid reports whether the value is a known PaymentSessionStatus.
func (s PaymentSessionStatus) IsValid() bool {
	for _, candidate := range validPaymentSessionStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether fail and cancel callbacks must leave the session
// as it is.
func (s PaymentSessionStatus) IsTerminal() bool {
	switch s {
	case PaymentSessionSettled, PaymentSessionFailed, PaymentSessionCancelled, PaymentSessionExpired, PaymentSessionRejected:
		return true
	}
	return false
}

// IsSettleable reports whether a gateway-validated success callback may still
// settle the session. Expired and gateway-failed sessions stay settleable
// because the funds were captured; rejected ones were already written off.
func (s PaymentSessionStatus) IsSettleable() bool {
	return s != PaymentSessionSettled && s != PaymentSessionRejected
}

// ParsePaymentSessionStatus converts raw input into a PaymentSessionStatus.
func ParsePaymentSessionStatus(value string) (PaymentSessionStatus, error) {
	for _, candidate := range validPaymentSessionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment session status %q", value)
}
