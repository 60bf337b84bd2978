package shipper_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tournevent/shipsync/pkg/shipper"
)

func TestTranslate_Known(t *testing.T) {
	tests := []struct {
		in   string
		want shipper.ShipmentStatus
	}{
		{"new", shipper.StatusLabelCreated},
		{"created", shipper.StatusLabelCreated},
		{"pickedUp", shipper.StatusPickedUp},
		{"inTransit", shipper.StatusInTransit},
		{"in_transit", shipper.StatusInTransit},
		{"arrivedDestinationTerminal", shipper.StatusInTransit},
		{"inTerminal", shipper.StatusInTransit},
		{"Out For Delivery", shipper.StatusOutForDelivery},
		{"outForDelivery", shipper.StatusOutForDelivery},
		{"DELIVERED", shipper.StatusDelivered},
		{"undelivered", shipper.StatusFailedDelivery},
		{"cancelled", shipper.StatusFailedDelivery},
		{"returnedToSender", shipper.StatusReturned},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, shipper.Translate(tt.in))
			assert.True(t, shipper.IsKnownStatus(tt.in))
		})
	}
}

func TestTranslate_UnknownDefaultsToPending(t *testing.T) {
	for _, in := range []string{"", "   ", "teleported", "in-orbit", "??", "deliveredish"} {
		assert.Equal(t, shipper.StatusPending, shipper.Translate(in), "input %q", in)
		assert.False(t, shipper.IsKnownStatus(in))
	}
}

func TestTranslate_Deterministic(t *testing.T) {
	for _, in := range []string{"inTransit", "delivered", "unknown-x"} {
		first := shipper.Translate(in)
		for i := 0; i < 50; i++ {
			assert.Equal(t, first, shipper.Translate(in))
		}
	}
}

func TestShipmentStatus_IsTerminal(t *testing.T) {
	assert.True(t, shipper.StatusDelivered.IsTerminal())
	assert.True(t, shipper.StatusFailedDelivery.IsTerminal())
	assert.True(t, shipper.StatusReturned.IsTerminal())
	assert.False(t, shipper.StatusInTransit.IsTerminal())
	assert.False(t, shipper.StatusPending.IsTerminal())
}
