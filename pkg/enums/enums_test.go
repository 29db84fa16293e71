package enums

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReservationTransitions(t *testing.T) {
	allowed := map[ReservationStatus][]ReservationStatus{
		ReservationStatusPending:   {ReservationStatusAccepted, ReservationStatusRejected},
		ReservationStatusConfirmed: {ReservationStatusAccepted, ReservationStatusRejected},
		ReservationStatusAccepted:  {ReservationStatusDelivered},
	}
	for _, from := range validReservationStatuses {
		for _, to := range validReservationStatuses {
			want := false
			for _, candidate := range allowed[from] {
				if candidate == to {
					want = true
				}
			}
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
	assert.False(t, ReservationStatusRejected.CanTransitionTo(ReservationStatusAccepted))
}

func TestOrderTransitions(t *testing.T) {
	assert.True(t, OrderStatusPending.CanTransitionTo(OrderStatusConfirmed))
	assert.True(t, OrderStatusConfirmed.CanTransitionTo(OrderStatusDelivered))
	assert.True(t, OrderStatusConfirmed.CanTransitionTo(OrderStatusCompleted))
	assert.True(t, OrderStatusDelivered.CanTransitionTo(OrderStatusCompleted))
	assert.False(t, OrderStatusPending.CanTransitionTo(OrderStatusDelivered))
	assert.False(t, OrderStatusCompleted.CanTransitionTo(OrderStatusPending))
}

func TestParseHelpers(t *testing.T) {
	dt, err := ParseDeliveryType("delivery")
	require.NoError(t, err)
	assert.Equal(t, DeliveryTypeDelivery, dt)
	_, err = ParseDeliveryType("drone")
	assert.Error(t, err)

	ds, err := ParseDeliveryStatus("out_for_delivery")
	require.NoError(t, err)
	assert.Equal(t, DeliveryStatusOutForDelivery, ds)
	_, err = ParseDeliveryStatus("lost")
	assert.Error(t, err)

	_, err = ParseReservationStatus("ACCEPTED")
	assert.Error(t, err, "parsing is case sensitive")

	role, err := ParseRole("pharmacy")
	require.NoError(t, err)
	assert.Equal(t, RolePharmacy, role)
}

func TestPaymentSessionTerminal(t *testing.T) {
	assert.False(t, PaymentSessionInitiated.IsTerminal())
	assert.True(t, PaymentSessionExpired.IsTerminal())
	assert.True(t, PaymentSessionSettled.IsTerminal())
	assert.True(t, PaymentSessionFailed.IsTerminal())
	assert.True(t, PaymentSessionCancelled.IsTerminal())
	assert.True(t, PaymentSessionRejected.IsTerminal())
}

func TestPaymentSessionSettleable(t *testing.T) {
	for _, status := range []PaymentSessionStatus{PaymentSessionInitiated, PaymentSessionExpired, PaymentSessionFailed, PaymentSessionCancelled} {
		assert.True(t, status.IsSettleable(), string(status))
	}
	assert.False(t, PaymentSessionSettled.IsSettleable())
	assert.False(t, PaymentSessionRejected.IsSettleable())

	parsed, err := ParsePaymentSessionStatus("rejected")
	require.NoError(t, err)
	assert.Equal(t, PaymentSessionRejected, parsed)
}
