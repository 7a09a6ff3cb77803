package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voltgrid/voltgrid-core/internal/infrastructure/config"
)

// Logger is the logging surface the hub requires. *logging.Logger
// satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Reserved envelope types handled by the hub itself.
const (
	TypeSubscribe    = "subscribe"
	TypeUnsubscribe  = "unsubscribe"
	TypePing         = "ping"
	TypePong         = "pong"
	TypeConnected    = "connected"
	TypeSubscribed   = "subscribed"
	TypeUnsubscribed = "unsubscribed"
	TypeEvent        = "event"
	TypeError        = "error"

	// TypeGeneric is the fallback handler key: a registered handler for
	// this type receives every inbound envelope whose type has no
	// dedicated handler.
	TypeGeneric = "message"

	// sendBufferSize is the per-connection outbound message buffer size.
	sendBufferSize = 256
)

// Envelope is the wire format for every hub message, inbound and outbound.
type Envelope struct {
	Type      string          `json:"type"`
	Channel   string          `json:"channel,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// MessageHandler processes an inbound envelope from a connected client.
type MessageHandler func(c *Conn, msg Envelope)

// Mux is the router surface the hub mounts its endpoint on. Both
// chi.Router and http.ServeMux satisfy it.
type Mux interface {
	Handle(pattern string, handler http.Handler)
}

// Hub manages WebSocket connections and fans messages out to channel
// subscribers.
type Hub struct {
	cfg    config.WebSocketConfig
	logger Logger

	conns map[string]*Conn
	mu    sync.RWMutex

	handlers  map[string]MessageHandler
	handlerMu sync.RWMutex
}

// upgrader configures the WebSocket upgrader. Origin checking is handled
// by CORS middleware upstream.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// New creates a hub. Run must be called for liveness sweeping to occur.
func New(cfg config.WebSocketConfig, logger Logger) *Hub {
	return &Hub{
		cfg:      cfg,
		logger:   logger,
		conns:    make(map[string]*Conn),
		handlers: make(map[string]MessageHandler),
	}
}

// AttachTransport mounts the hub's WebSocket endpoint at path on the
// given router.
func (h *Hub) AttachTransport(mux Mux, path string) {
	mux.Handle(path, http.HandlerFunc(h.serveWS))
	h.logger.Info("websocket endpoint mounted", "path", path)
}

// AddMessageHandler registers a handler for inbound envelopes of the given
// type. Registering TypeGeneric installs the fallback handler for types
// with no dedicated handler. Later registrations replace earlier ones.
func (h *Hub) AddMessageHandler(msgType string, handler MessageHandler) {
	h.handlerMu.Lock()
	h.handlers[msgType] = handler
	h.handlerMu.Unlock()
}

// Run starts the liveness sweep loop. It blocks until the context is
// cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	interval := time.Duration(h.cfg.SweepInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.Shutdown()
			return
		case <-ticker.C:
			h.sweep()
		}
	}
}

// sweep implements two-strike liveness: connections that failed to answer
// the previous tick's ping are terminated; survivors are marked suspect
// and pinged again. A protocol pong clears the mark.
func (h *Hub) sweep() {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if !c.sweepMark() {
			h.logger.Warn("terminating unresponsive websocket client",
				"conn_id", c.ID, "last_activity", c.LastActivity())
			c.terminate()
			continue
		}
		c.requestPing()
	}
}

// register adds a connection to the hub.
func (h *Hub) register(c *Conn) {
	h.mu.Lock()
	h.conns[c.ID] = c
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "conn_id", c.ID, "clients", h.ClientCount())
}

// unregister removes a connection from the hub.
// Only the goroutine that successfully removes the connection from the map
// closes the send channel, preventing double-close panics during shutdown.
func (h *Hub) unregister(c *Conn) {
	h.mu.Lock()
	_, existed := h.conns[c.ID]
	delete(h.conns, c.ID)
	h.mu.Unlock()

	if existed {
		close(c.send)
	}
	h.logger.Debug("websocket client disconnected", "conn_id", c.ID, "clients", h.ClientCount())
}

// Broadcast sends an envelope to every connection the filter accepts.
// A nil filter accepts all connections.
// Lock ordering: hub lock is released before per-connection subscription
// checks so hub and connection locks are never held together.
func (h *Hub) Broadcast(msg Envelope, filter func(*Conn) bool) {
	if msg.Timestamp == "" {
		msg.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "error", err)
		return
	}

	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	sent := 0
	for _, c := range conns {
		if filter == nil || filter(c) {
			c.trySend(data)
			sent++
		}
	}
	if sent > 0 {
		h.logger.Debug("broadcast sent", "type", msg.Type, "channel", msg.Channel, "recipients", sent)
	}
}

// PublishToChannel delivers a payload to every connection subscribed to
// the named channel.
func (h *Hub) PublishToChannel(channel string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("failed to marshal channel payload", "channel", channel, "error", err)
		return
	}
	msg := Envelope{
		Type:    TypeEvent,
		Channel: channel,
		Payload: raw,
	}
	h.Broadcast(msg, func(c *Conn) bool {
		return c.IsSubscribed(channel)
	})
}

// SendToClient sends an envelope to a single connection by id. It reports
// whether the connection was found.
func (h *Hub) SendToClient(connID string, msg Envelope) bool {
	c, ok := h.ConnectionByID(connID)
	if !ok {
		return false
	}
	c.Send(msg)
	return true
}

// ConnectionByID returns the connection with the given id.
func (h *Hub) ConnectionByID(id string) (*Conn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[id]
	return c, ok
}

// ConnectionsByUser returns every connection associated with a user id.
func (h *Hub) ConnectionsByUser(userID string) []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []*Conn
	for _, c := range h.conns {
		if c.UserID() == userID {
			out = append(out, c)
		}
	}
	return out
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Shutdown disconnects all clients and closes their send channels so
// writePump goroutines can exit cleanly.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, c := range h.conns {
		close(c.send)
		if c.ws != nil {
			c.ws.Close()
		}
		delete(h.conns, id)
	}
}

// serveWS upgrades the HTTP connection and registers the client.
func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := h.newConn(ws)
	h.register(c)

	c.sendEnvelope(Envelope{
		Type:    TypeConnected,
		Payload: mustRaw(map[string]string{"conn_id": c.ID}),
	})

	go c.writePump()
	go c.readPump()
}

// dispatch routes a non-reserved inbound envelope through the handler map,
// falling back to the TypeGeneric handler when no dedicated one exists.
func (h *Hub) dispatch(c *Conn, msg Envelope) {
	h.handlerMu.RLock()
	handler, ok := h.handlers[msg.Type]
	if !ok {
		handler, ok = h.handlers[TypeGeneric]
	}
	h.handlerMu.RUnlock()

	if !ok {
		c.sendError("unknown message type: " + msg.Type)
		return
	}
	handler(c, msg)
}

// dispatchRaw routes a payload that failed envelope parsing to the
// TypeGeneric handler, carrying the raw bytes as the payload. It reports
// whether a handler was registered.
func (h *Hub) dispatchRaw(c *Conn, data []byte) bool {
	h.handlerMu.RLock()
	handler, ok := h.handlers[TypeGeneric]
	h.handlerMu.RUnlock()

	if !ok {
		return false
	}
	handler(c, Envelope{Type: TypeGeneric, Payload: json.RawMessage(data)})
	return true
}

// mustRaw marshals a value that cannot fail (maps of strings, small
// structs). Used for hub-built payloads only.
func mustRaw(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}
