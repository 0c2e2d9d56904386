// Package telemetry publishes run progress events to external
// consumers. Publishing is strictly fire-and-forget: a telemetry
// failure is logged and counted, never propagated to the run.
package telemetry

import (
	"context"
	"encoding/json"
	"log"

	"github.com/redis/go-redis/v9"
)

// Event is one progress notification.
type Event struct {
	RunID     string  `json:"run_id"`
	Type      string  `json:"type"` // e.g. RUN_STARTED, STEP, CHECKPOINT, RUN_COMPLETED
	StepIndex int64   `json:"step_index"`
	Equity    float64 `json:"equity,omitempty"`
	Note      string  `json:"note,omitempty"`
	TSMs      int64   `json:"ts_ms"`
}

// Event type constants.
const (
	EventRunStarted   = "RUN_STARTED"
	EventRunResumed   = "RUN_RESUMED"
	EventRunPaused    = "RUN_PAUSED"
	EventRunCompleted = "RUN_COMPLETED"
	EventRunFailed    = "RUN_FAILED"
	EventRunCancelled = "RUN_CANCELLED"
	EventCheckpoint   = "CHECKPOINT"
)

// Publisher delivers events best-effort.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// LogPublisher writes events to a logger. The default sink when no
// broker is configured.
type LogPublisher struct {
	logger *log.Logger
}

// NewLogPublisher creates a log-backed publisher.
func NewLogPublisher(logger *log.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Publish logs the event.
func (p *LogPublisher) Publish(_ context.Context, ev Event) {
	if p.logger == nil {
		return
	}
	p.logger.Printf("telemetry: run=%s type=%s step=%d equity=%.2f %s",
		ev.RunID, ev.Type, ev.StepIndex, ev.Equity, ev.Note)
}

// RedisPublisher publishes events to a Redis channel as JSON.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	logger  *log.Logger
	dropped func()
}

// NewRedisPublisher creates a Redis-backed publisher. dropped is
// invoked for every event that could not be delivered; nil disables
// the callback.
func NewRedisPublisher(client *redis.Client, channel string, logger *log.Logger, dropped func()) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel, logger: logger, dropped: dropped}
}

// Publish sends the event, swallowing any delivery failure.
func (p *RedisPublisher) Publish(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev)
	if err == nil {
		err = p.client.Publish(ctx, p.channel, payload).Err()
	}
	if err != nil {
		if p.dropped != nil {
			p.dropped()
		}
		if p.logger != nil {
			p.logger.Printf("telemetry: dropped event type=%s run=%s: %v", ev.Type, ev.RunID, err)
		}
	}
}

// NopPublisher discards all events.
type NopPublisher struct{}

// Publish does nothing.
func (NopPublisher) Publish(context.Context, Event) {}

var (
	_ Publisher = (*LogPublisher)(nil)
	_ Publisher = (*RedisPublisher)(nil)
	_ Publisher = NopPublisher{}
)
