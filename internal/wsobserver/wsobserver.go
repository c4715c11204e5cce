// Package wsobserver is the WS observer bridge: an http.Handler that
// upgrades a connection to a websocket and fans out every event on a
// bus.Bus to it as a JSON frame. One-way broadcast only; this bridge
// has no request/response RPC surface.
package wsobserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/nexus/internal/bus"
	"github.com/haasonsaas/nexus/pkg/events"
)

const (
	sendBuffer  = 64
	pongWait    = 45 * time.Second
	pingPeriod  = 15 * time.Second
	writeWait   = 10 * time.Second
	maxReadSize = 1 << 16
)

// Frame is the wire shape of one event pushed to an observer connection.
type Frame struct {
	Type  string       `json:"type"` // always "event"
	Event events.Event `json:"event"`
}

// Bridge upgrades incoming connections and subscribes each one to the
// bus. One upgrader shared across connections, one goroutine pair
// (read/write loop) per connection.
type Bridge struct {
	bus      *bus.Bus
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// New returns a Bridge that will subscribe every upgraded connection to
// b. A nil logger falls back to slog.Default().
func New(b *bus.Bus, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		bus:    b,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP implements http.Handler: each request upgrades to one
// observer connection that lives until the client disconnects or ctx
// is cancelled.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	obs := &observer{
		bridge: b,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		ctx:    ctx,
		cancel: cancel,
	}
	b.bus.Subscribe(obs)

	go obs.writeLoop()
	obs.readLoop()
}

// observer is one connection's bus.Subscriber: it forwards every Emit
// call onto its buffered send channel, dropping the frame (rather than
// blocking the step engine's publish) when the channel is full.
type observer struct {
	bridge *Bridge
	conn   *websocket.Conn
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc
}

// Emit implements bus.Subscriber. Never blocks: a slow or disconnected
// observer only loses frames, it never stalls Publish for every other
// subscriber.
func (o *observer) Emit(_ context.Context, ev events.Event) {
	data, err := json.Marshal(Frame{Type: "event", Event: ev})
	if err != nil {
		o.bridge.logger.Error("wsobserver: marshal event failed", "err", err, "event_id", ev.ID)
		return
	}
	select {
	case o.send <- data:
	default:
		o.bridge.logger.Warn("wsobserver: dropping event, send buffer full", "event_id", ev.ID)
	}
}

func (o *observer) readLoop() {
	defer o.close()
	o.conn.SetReadLimit(maxReadSize)
	_ = o.conn.SetReadDeadline(time.Now().Add(pongWait))
	o.conn.SetPongHandler(func(string) error {
		return o.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		// This bridge is observe-only; any client message is drained
		// and discarded so pong frames (handled above) keep flowing.
		if _, _, err := o.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (o *observer) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer o.close()

	for {
		select {
		case <-o.ctx.Done():
			return
		case data, ok := <-o.send:
			if !ok {
				return
			}
			_ = o.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := o.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = o.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := o.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (o *observer) close() {
	o.bridge.bus.Unsubscribe(o)
	o.cancel()
	_ = o.conn.Close()
}
