package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"market-sim-lab/internal/domain"
)

// FeedConfig configures WebSocket feed behavior.
type FeedConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
}

// DefaultFeedConfig returns default feed configuration.
func DefaultFeedConfig() FeedConfig {
	return FeedConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// Feed streams live price ticks over a WebSocket connection. It
// reconnects with exponential backoff and resubscribes all active
// instruments after a reconnect. Paced sessions consume it as their
// tick source.
type Feed struct {
	endpoint string
	config   FeedConfig
	logger   *log.Logger

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	subs   map[string]chan domain.PriceTick // keyed by instrument
	subsMu sync.RWMutex

	// onReconnect is invoked after every successful reconnect.
	onReconnect func()

	done chan struct{}
	wg   sync.WaitGroup

	reconnecting atomic.Bool
}

// NewFeed creates a feed and connects to the endpoint. onReconnect may
// be nil.
func NewFeed(ctx context.Context, endpoint string, config *FeedConfig, logger *log.Logger, onReconnect func()) (*Feed, error) {
	cfg := DefaultFeedConfig()
	if config != nil {
		cfg = *config
	}

	f := &Feed{
		endpoint:    endpoint,
		config:      cfg,
		logger:      logger,
		subs:        make(map[string]chan domain.PriceTick),
		onReconnect: onReconnect,
		done:        make(chan struct{}),
	}

	if err := f.connect(ctx); err != nil {
		return nil, err
	}

	f.wg.Add(1)
	go f.readLoop()

	f.wg.Add(1)
	go f.pingLoop()

	return f, nil
}

// connect establishes the WebSocket connection.
func (f *Feed) connect(ctx context.Context) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, f.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	f.conn = conn
	return nil
}

// Subscribe starts streaming ticks for an instrument. The channel is
// buffered; ticks beyond the buffer block the reader rather than being
// dropped.
func (f *Feed) Subscribe(ctx context.Context, instrument string) (<-chan domain.PriceTick, error) {
	if f.closed.Load() {
		return nil, fmt.Errorf("feed closed")
	}

	if err := f.writeSubscribe(instrument); err != nil {
		return nil, err
	}

	ch := make(chan domain.PriceTick, 10000)
	f.subsMu.Lock()
	f.subs[instrument] = ch
	f.subsMu.Unlock()

	return ch, nil
}

// writeSubscribe sends the subscribe frame for an instrument.
func (f *Feed) writeSubscribe(instrument string) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()

	if f.conn == nil {
		return fmt.Errorf("not connected")
	}

	f.conn.SetWriteDeadline(time.Now().Add(f.config.WriteTimeout))
	err := f.conn.WriteJSON(feedRequest{Op: "subscribe", Instrument: instrument})
	if err != nil {
		return fmt.Errorf("write subscribe: %w", err)
	}
	return nil
}

// Close closes the connection and all subscription channels.
func (f *Feed) Close() error {
	if f.closed.Swap(true) {
		return nil
	}

	close(f.done)

	f.connMu.Lock()
	if f.conn != nil {
		f.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		f.conn.Close()
	}
	f.connMu.Unlock()

	f.subsMu.Lock()
	for inst, ch := range f.subs {
		close(ch)
		delete(f.subs, inst)
	}
	f.subsMu.Unlock()

	f.wg.Wait()
	return nil
}

// readLoop reads messages and dispatches ticks to subscribers.
func (f *Feed) readLoop() {
	defer f.wg.Done()

	reconnectDelay := f.config.ReconnectDelay

	for !f.closed.Load() {
		f.connMu.Lock()
		conn := f.conn
		f.connMu.Unlock()

		if conn == nil {
			select {
			case <-f.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(f.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if f.closed.Load() {
				return
			}

			if !f.reconnecting.Swap(true) {
				go f.reconnect(reconnectDelay)
			}

			reconnectDelay = reconnectDelay * 2
			if reconnectDelay > f.config.MaxReconnectDelay {
				reconnectDelay = f.config.MaxReconnectDelay
			}

			select {
			case <-f.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		reconnectDelay = f.config.ReconnectDelay

		f.handleMessage(message)
	}
}

// reconnect re-establishes the connection and resubscribes.
func (f *Feed) reconnect(delay time.Duration) {
	defer f.reconnecting.Store(false)

	if f.closed.Load() {
		return
	}

	select {
	case <-f.done:
		return
	case <-time.After(delay):
	}

	f.connMu.Lock()
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
	f.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := f.connect(ctx); err != nil {
		// Reconnect failed, will retry on next read error
		return
	}

	f.resubscribeAll()

	if f.onReconnect != nil {
		f.onReconnect()
	}
}

// resubscribeAll replays subscribe frames for every active instrument.
func (f *Feed) resubscribeAll() {
	f.subsMu.RLock()
	instruments := make([]string, 0, len(f.subs))
	for inst := range f.subs {
		instruments = append(instruments, inst)
	}
	f.subsMu.RUnlock()

	for _, inst := range instruments {
		if err := f.writeSubscribe(inst); err != nil && f.logger != nil {
			f.logger.Printf("resubscribe %s failed: %v", inst, err)
		}
	}
}

// handleMessage parses one frame and dispatches the tick.
func (f *Feed) handleMessage(message []byte) {
	var tick feedTick
	if err := json.Unmarshal(message, &tick); err != nil || tick.Instrument == "" {
		return
	}

	f.subsMu.RLock()
	ch, ok := f.subs[tick.Instrument]
	f.subsMu.RUnlock()

	if ok {
		// Block until we can send, never drop ticks.
		select {
		case ch <- domain.PriceTick{Instrument: tick.Instrument, TSMs: tick.TSMs, Price: tick.Price}:
		case <-f.done:
			return
		}
	}
}

// pingLoop sends periodic ping frames to keep the connection alive.
func (f *Feed) pingLoop() {
	defer f.wg.Done()

	ticker := time.NewTicker(f.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.done:
			return
		case <-ticker.C:
			f.connMu.Lock()
			if f.conn != nil {
				f.conn.SetWriteDeadline(time.Now().Add(f.config.WriteTimeout))
				if err := f.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					// Connection might be dead, reader will handle reconnect
				}
			}
			f.connMu.Unlock()
		}
	}
}

type feedRequest struct {
	Op         string `json:"op"`
	Instrument string `json:"instrument"`
}

type feedTick struct {
	Instrument string  `json:"instrument"`
	Price      float64 `json:"price"`
	TSMs       int64   `json:"ts_ms"`
}
