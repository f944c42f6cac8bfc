// Package workflow holds the order fulfilment state machine.
package workflow

import (
	"fmt"
	"strings"

	"printshop/internal/apperr"
	"printshop/internal/models"
)

var transitions = map[string][]string{
	models.OrderStatusPending:    {models.OrderStatusInProgress, models.OrderStatusCancelled},
	models.OrderStatusInProgress: {models.OrderStatusReady, models.OrderStatusCancelled},
	models.OrderStatusReady:      {models.OrderStatusCompleted, models.OrderStatusCancelled},
	models.OrderStatusCompleted:  nil,
	models.OrderStatusCancelled:  nil,
}

// ValidStatus reports whether s is a known order status.
func ValidStatus(s string) bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports whether no transition leaves s.
func IsTerminal(s string) bool {
	return ValidStatus(s) && len(transitions[s]) == 0
}

// Next lists the statuses reachable from s.
func Next(s string) []string {
	return append([]string(nil), transitions[s]...)
}

// Transition validates moving an order from one status to another.
func Transition(from, to string) error {
	if !ValidStatus(to) {
		return apperr.Invalid("status", fmt.Sprintf("unknown status %q", to))
	}
	for _, next := range transitions[from] {
		if next == to {
			return nil
		}
	}
	if IsTerminal(from) {
		return apperr.Invalid("status", fmt.Sprintf("order is already %s", from))
	}
	return apperr.Invalid("status", fmt.Sprintf("cannot move order from %s to %s (allowed: %s)",
		from, to, strings.Join(Next(from), ", ")))
}
