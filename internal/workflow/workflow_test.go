package workflow

import (
	"errors"
	"testing"

	"printshop/internal/apperr"
	"printshop/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransition(t *testing.T) {
	tests := []struct {
		from, to string
		ok       bool
	}{
		{models.OrderStatusPending, models.OrderStatusInProgress, true},
		{models.OrderStatusInProgress, models.OrderStatusReady, true},
		{models.OrderStatusReady, models.OrderStatusCompleted, true},
		{models.OrderStatusPending, models.OrderStatusCancelled, true},
		{models.OrderStatusInProgress, models.OrderStatusCancelled, true},
		{models.OrderStatusReady, models.OrderStatusCancelled, true},

		{models.OrderStatusPending, models.OrderStatusReady, false},
		{models.OrderStatusPending, models.OrderStatusCompleted, false},
		{models.OrderStatusReady, models.OrderStatusInProgress, false},
		{models.OrderStatusCompleted, models.OrderStatusCancelled, false},
		{models.OrderStatusCancelled, models.OrderStatusPending, false},
		{models.OrderStatusPending, models.OrderStatusPending, false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			err := Transition(tt.from, tt.to)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, apperr.ErrInvalidInput)
		})
	}
}

func TestTransitionUnknownStatus(t *testing.T) {
	err := Transition(models.OrderStatusPending, "shipped")

	var verr *apperr.ValidationError
	require.True(t, errors.As(err, &verr))
	require.Len(t, verr.Fields, 1)
	assert.Equal(t, "status", verr.Fields[0].Field)
}

func TestTerminalStates(t *testing.T) {
	assert.True(t, IsTerminal(models.OrderStatusCompleted))
	assert.True(t, IsTerminal(models.OrderStatusCancelled))
	assert.False(t, IsTerminal(models.OrderStatusReady))
	assert.False(t, IsTerminal("bogus"))
	assert.Empty(t, Next(models.OrderStatusCompleted))
	assert.ElementsMatch(t, []string{models.OrderStatusReady, models.OrderStatusCancelled}, Next(models.OrderStatusInProgress))
}

func TestTransitionMessages(t *testing.T) {
	var verr *apperr.ValidationError

	require.True(t, errors.As(Transition(models.OrderStatusCompleted, models.OrderStatusReady), &verr))
	assert.Equal(t, "order is already completed", verr.Fields[0].Message)

	require.True(t, errors.As(Transition(models.OrderStatusPending, models.OrderStatusReady), &verr))
	assert.Contains(t, verr.Fields[0].Message, "allowed: in_progress, cancelled")
}
