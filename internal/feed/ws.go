// Package feed brings market ticks into the pipeline: a WebSocket client
// for the tick stream, a random-walk mock for offline runs, and the pump
// that drains the ingest ring into the processing channel.
//
// The wire format is plain JSON, identical to model.Tick:
//
//	{"token":"26009","exchange":"NSE","price":4500000,"qty":15,"tick_ts":"..."}
package feed

import (
	"context"
	"encoding/json"
	"log"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"scalpbotv1/internal/model"
	"scalpbotv1/internal/ringbuf"
)

// WSConfig holds configuration for the WebSocket tick client.
type WSConfig struct {
	// URL of the tick WebSocket server, e.g. "ws://localhost:9001/ws"
	URL string

	// ReconnectDelay is the initial delay before reconnection attempts.
	// Defaults to 2 seconds if zero.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration
}

func (c *WSConfig) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
}

// WS connects to a JSON WebSocket tick server and pushes ticks into the
// ingest ring. The writer side of the ring belongs to this client alone.
type WS struct {
	cfg WSConfig

	// OnReconnect is called each time a reconnection happens (optional).
	OnReconnect func()
}

// NewWS creates a WebSocket feed. Returns an error if the URL is unparseable.
func NewWS(cfg WSConfig) (*WS, error) {
	cfg.defaults()
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, err
	}
	return &WS{cfg: cfg}, nil
}

// Start streams ticks into the ring until ctx is cancelled.
// Reconnects automatically with exponential backoff on disconnect.
func (w *WS) Start(ctx context.Context, ring *ringbuf.Ring) error {
	delay := w.cfg.ReconnectDelay

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		err := w.runOnce(ctx, ring)
		if err == nil {
			return nil
		}

		log.Printf("[feed] disconnected (%v), reconnecting in %s", err, delay)
		if w.OnReconnect != nil {
			w.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > w.cfg.MaxReconnectDelay {
			delay = w.cfg.MaxReconnectDelay
		}
	}
}

// runOnce makes a single connection attempt and reads until disconnect
// or ctx cancel.
func (w *WS) runOnce(ctx context.Context, ring *ringbuf.Ring) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.cfg.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	log.Printf("[feed] connected to %s", w.cfg.URL)

	// Context watcher closes the connection so ReadMessage unblocks.
	go func() {
		<-ctx.Done()
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return err
		}

		var tick model.Tick
		if err := json.Unmarshal(raw, &tick); err != nil {
			log.Printf("[feed] parse error: %v (raw: %s)", err, raw)
			continue
		}
		if tick.Token == "" {
			continue
		}

		if !ring.Push(tick) {
			log.Println("[feed] ingest ring full, dropping tick")
		}
	}
}

// Pump drains the ingest ring into out, blocking on the ring's wake
// signal when the ring runs empty. The reader side of the ring belongs
// to the pump alone. Blocks until ctx is cancelled.
func Pump(ctx context.Context, ring *ringbuf.Ring, out chan<- model.Tick) {
	for {
		tick, ok := ring.Pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-ring.Wake():
			}
			continue
		}
		select {
		case out <- tick:
		case <-ctx.Done():
			return
		}
	}
}
