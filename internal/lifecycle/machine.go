// Package lifecycle tracks order status transitions as an append-only
// audit trail.
//
// The state machine validates transitions but never blocks them: when a
// live venue reports a transition this model considers invalid, the
// venue is the system of record and the transition is applied anyway,
// recorded with Valid=false and surfaced in the logs. A permissive
// tracker that flags anomalies is worth more than a strict one that
// diverges from upstream reality.
package lifecycle

import "market-sim-lab/internal/domain"

// validNext maps each status to the set of statuses it may legally move
// to. Absent keys (terminal statuses) admit no directed edges;
// self-transitions are handled separately.
var validNext = map[domain.OrderStatus]map[domain.OrderStatus]bool{
	domain.OrderStatusNone: {
		domain.OrderStatusNew: true,
	},
	domain.OrderStatusNew: {
		domain.OrderStatusPartiallyFilled: true,
		domain.OrderStatusFilled:          true,
		domain.OrderStatusCanceled:        true,
		domain.OrderStatusRejected:        true,
		domain.OrderStatusExpired:         true,
		domain.OrderStatusPendingCancel:   true,
	},
	domain.OrderStatusPartiallyFilled: {
		domain.OrderStatusFilled:        true,
		domain.OrderStatusCanceled:      true,
		domain.OrderStatusPendingCancel: true,
	},
	domain.OrderStatusPendingCancel: {
		domain.OrderStatusCanceled: true,
		domain.OrderStatusFilled:   true,
	},
}

// IsValidTransition reports whether from -> to is a legal move of the
// order state machine. A self-transition is always a valid no-op, even
// from a terminal status: venues resend terminal updates and a repeat
// carries no new state. Genesis is the null status, which only moves to
// NEW.
func IsValidTransition(from, to domain.OrderStatus) bool {
	if from == to {
		return from != domain.OrderStatusNone
	}
	next, ok := validNext[from]
	if !ok {
		return false
	}
	return next[to]
}

// IsTerminal reports whether a status admits no further transitions.
func IsTerminal(s domain.OrderStatus) bool {
	switch s {
	case domain.OrderStatusFilled,
		domain.OrderStatusCanceled,
		domain.OrderStatusRejected,
		domain.OrderStatusExpired:
		return true
	default:
		return false
	}
}
