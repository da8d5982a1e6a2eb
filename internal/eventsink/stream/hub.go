// Package stream broadcasts emitted manager events to WebSocket subscribers.
//
// Clients connect to the hub's HTTP handler and may narrow what they receive
// with the "events" and "types" query parameters, both comma separated:
//
//	ws://localhost:8080/events?events=change,remove&types=notes
package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/conduit-lang/resourcekit/internal/eventsink"
	"github.com/conduit-lang/resourcekit/pkg/events"
)

// Options configures a hub
type Options struct {
	// SendBuffer is the number of messages queued per client before the
	// client is dropped as too slow. Defaults to 256.
	SendBuffer int
	// CheckOrigin validates the Origin header of upgrade requests; nil allows all origins
	CheckOrigin func(r *http.Request) bool
	Logger      *zap.Logger
}

// Hub maintains the set of connected clients and fans messages out to them
type Hub struct {
	encoder  *eventsink.Encoder
	logger   *zap.Logger
	upgrader websocket.Upgrader
	buffer   int

	// Registered clients, owned by Run
	clients map[*client]bool
	mu      sync.RWMutex

	register   chan *client
	unregister chan *client
	broadcast  chan eventsink.Message

	ctx    context.Context
	cancel context.CancelFunc

	subMu sync.Mutex
	bus   *events.Bus
	sub   events.Subscription
}

// NewHub creates a hub. Run must be started before clients connect.
func NewHub(encoder *eventsink.Encoder, opts Options) *Hub {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		encoder: encoder,
		logger:  opts.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		buffer:     opts.SendBuffer,
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan eventsink.Message, 256),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Run processes registrations and broadcasts until Shutdown is called
func (h *Hub) Run() {
	for {
		select {
		case <-h.ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Debug("stream client connected", zap.String("client_id", c.id))

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Debug("stream client disconnected", zap.String("client_id", c.id))

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

// deliver sends msg to every matching client. Clients whose queue is full are dropped.
func (h *Hub) deliver(msg eventsink.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to encode stream message", zap.String("event", string(msg.Event)), zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		if !c.filter.Match(msg) {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.logger.Warn("dropping slow stream client", zap.String("client_id", c.id))
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// Broadcast queues e for delivery to the connected clients
func (h *Hub) Broadcast(e events.Event) {
	select {
	case h.broadcast <- h.encoder.Encode(e):
	case <-h.ctx.Done():
	}
}

// Attach subscribes the hub to every event of bus
func (h *Hub) Attach(bus *events.Bus) {
	h.subMu.Lock()
	defer h.subMu.Unlock()

	if h.bus != nil {
		h.bus.Off(h.sub)
	}
	h.bus = bus
	h.sub = bus.OnAny(func(_ context.Context, e events.Event) {
		h.Broadcast(e)
	})
}

// Detach removes the bus subscription
func (h *Hub) Detach() {
	h.subMu.Lock()
	defer h.subMu.Unlock()

	if h.bus != nil {
		h.bus.Off(h.sub)
		h.bus = nil
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown detaches the hub and disconnects every client
func (h *Hub) Shutdown() {
	h.Detach()
	h.cancel()
}

// ServeHTTP upgrades the request and registers the connection as a client
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	filter, err := eventsink.ParseFilter(r.URL.Query().Get("events"), r.URL.Query().Get("types"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response
		h.logger.Warn("stream upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		id:     uuid.NewString(),
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, h.buffer),
		filter: filter,
	}

	select {
	case h.register <- c:
	case <-h.ctx.Done():
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}
