package domain

// OrderStatus is the lifecycle status of a tracked order, simulated or live.
type OrderStatus string

// Order status constants. OrderStatusNone stands in for the null
// from-status of a genesis transition.
const (
	OrderStatusNone            OrderStatus = ""
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
	OrderStatusPendingCancel   OrderStatus = "PENDING_CANCEL"
)

// Transition reason codes recorded in OrderStatusHistory.
const (
	TransitionReasonCreated        = "CREATED"
	TransitionReasonSimulatedFill  = "SIMULATED_FILL"
	TransitionReasonPartialFill    = "PARTIAL_FILL"
	TransitionReasonSlippageLimit  = "SLIPPAGE_LIMIT"
	TransitionReasonInsufficient   = "INSUFFICIENT_BALANCE"
	TransitionReasonCancelRequest  = "CANCEL_REQUEST"
	TransitionReasonCancelConfirm  = "CANCEL_CONFIRMED"
	TransitionReasonExpiry         = "EXPIRY"
	TransitionReasonExchangeUpdate = "EXCHANGE_UPDATE"
)

// StatusTransition is one row of OrderStatusHistory: append-only, never
// mutated or deleted. The full history for an order is the audit trail
// of its lifecycle. Invalid transitions are recorded too, flagged via
// Valid, because the upstream system of record is authoritative.
type StatusTransition struct {
	OrderID    string
	RunID      string
	FromStatus OrderStatus // OrderStatusNone for genesis
	ToStatus   OrderStatus
	Reason     string
	Valid      bool
	Metadata   map[string]string // optional
	TSMs       int64
}

// ReasonCount is an analytical aggregate of transitions grouped by reason.
type ReasonCount struct {
	Reason string
	Count  int64
}
