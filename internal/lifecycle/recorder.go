package lifecycle

import (
	"context"
	"log"
	"sync"
	"time"

	"market-sim-lab/internal/domain"
)

// Sink receives transition rows. Implemented by the order history
// stores.
type Sink interface {
	AppendTransition(ctx context.Context, tr domain.StatusTransition) error
}

// Recorder tracks the current status of each order it has seen and
// appends every reported transition to the sink, valid or not.
type Recorder struct {
	sink   Sink
	logger *log.Logger
	nowMs  func() int64

	mu      sync.Mutex
	current map[string]domain.OrderStatus
}

// NewRecorder creates a recorder writing to the given sink. logger may
// be nil to suppress invalid-transition warnings.
func NewRecorder(sink Sink, logger *log.Logger) *Recorder {
	return &Recorder{
		sink:    sink,
		logger:  logger,
		nowMs:   func() int64 { return time.Now().UnixMilli() },
		current: make(map[string]domain.OrderStatus),
	}
}

// Transition records an order moving to a new status. The from-status
// is whatever the recorder last saw for this order (OrderStatusNone for
// a first sighting). Invalid transitions are applied and recorded with
// Valid=false; the returned row reflects what was written.
//
// tsMs stamps the row; simulation callers pass the tick timestamp so
// the audit trail replays deterministically. Zero falls back to the
// wall clock.
func (r *Recorder) Transition(ctx context.Context, runID, orderID string, to domain.OrderStatus, reason string, metadata map[string]string, tsMs int64) (domain.StatusTransition, error) {
	r.mu.Lock()
	from := r.current[orderID]
	valid := IsValidTransition(from, to)
	r.current[orderID] = to
	r.mu.Unlock()

	if tsMs == 0 {
		tsMs = r.nowMs()
	}
	tr := domain.StatusTransition{
		OrderID:    orderID,
		RunID:      runID,
		FromStatus: from,
		ToStatus:   to,
		Reason:     reason,
		Valid:      valid,
		Metadata:   metadata,
		TSMs:       tsMs,
	}

	if !valid && r.logger != nil {
		r.logger.Printf("WARN: invalid order transition applied: order=%s %s -> %s reason=%s", orderID, from, to, reason)
	}

	if err := r.sink.AppendTransition(ctx, tr); err != nil {
		return tr, err
	}
	return tr, nil
}

// Current returns the last status the recorder saw for an order.
func (r *Recorder) Current(orderID string) (domain.OrderStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.current[orderID]
	return s, ok
}
