package resilience

import (
	"log"
	"time"

	"github.com/sony/gobreaker/v2"
)

// NewBreaker creates a circuit breaker for calls returning T. The
// breaker opens after five consecutive failures and probes again after
// the open interval. logger may be nil.
func NewBreaker[T any](name string, logger *log.Logger) *gobreaker.CircuitBreaker[T] {
	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logger != nil {
				logger.Printf("breaker %s: %s -> %s", name, from, to)
			}
		},
	})
}
