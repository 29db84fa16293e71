package enums

import "fmt"

// ReservationStatus is the pharmacy-driven axis of a reservation.
type ReservationStatus string

const (
	ReservationStatusPending   ReservationStatus = "pending"
	ReservationStatusConfirmed ReservationStatus = "confirmed"
	ReservationStatusAccepted  ReservationStatus = "accepted"
	ReservationStatusRejected  ReservationStatus = "rejected"
	ReservationStatusDelivered ReservationStatus = "delivered"
)

var validReservationStatuses = []ReservationStatus{
	ReservationStatusPending,
	ReservationStatusConfirmed,
	ReservationStatusAccepted,
	ReservationStatusRejected,
	ReservationStatusDelivered,
}

// Transitions a pharmacy may request. confirmed is only reached through a
// successful payment and is never requested directly.
var reservationTransitions = map[ReservationStatus][]ReservationStatus{
	ReservationStatusPending:   {ReservationStatusAccepted, ReservationStatusRejected},
	ReservationStatusConfirmed: {ReservationStatusAccepted, ReservationStatusRejected},
	ReservationStatusAccepted:  {ReservationStatusDelivered},
}

func (s ReservationStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known ReservationStatus.
func (s ReservationStatus) IsValid() bool {
	for _, candidate := range validReservationStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// CanTransitionTo reports whether next is a legal pharmacy transition from s.
func (s ReservationStatus) CanTransitionTo(next ReservationStatus) bool {
	for _, candidate := range reservationTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// ParseReservationStatus converts raw input into a ReservationStatus.
func ParseReservationStatus(value string) (ReservationStatus, error) {
	for _, candidate := range validReservationStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid reservation status %q", value)
}
