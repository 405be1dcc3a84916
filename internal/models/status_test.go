package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to OrderStatus
		want     bool
	}{
		{OrderPending, OrderPaid, true},
		{OrderPending, OrderFailed, true},
		{OrderPending, OrderCanceled, true},
		{OrderPending, OrderExpired, true},
		{OrderPending, OrderPending, false},
		{OrderPaid, OrderFailed, false},
		{OrderCanceled, OrderPaid, false},
		{OrderFailed, OrderPaid, false},
		{OrderExpired, OrderPending, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestCheckTransition_RepeatedTerminalIsNoop(t *testing.T) {
	apply, err := CheckTransition(OrderPaid, OrderPaid)
	require.NoError(t, err)
	assert.False(t, apply)
}

func TestCheckTransition_CanceledToPaidRejected(t *testing.T) {
	apply, err := CheckTransition(OrderCanceled, OrderPaid)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIllegalTransition))
	assert.False(t, apply)
	assert.Contains(t, err.Error(), "canceled -> paid")
}

func TestCheckTransition_PendingToPaidApplies(t *testing.T) {
	apply, err := CheckTransition(OrderPending, OrderPaid)
	require.NoError(t, err)
	assert.True(t, apply)
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, OrderPending.IsTerminal())
	assert.True(t, OrderExpired.IsTerminal())
	assert.True(t, OrderPending.Valid())
	assert.False(t, OrderStatus("settled").Valid())
}
