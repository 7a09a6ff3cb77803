package hub

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// transport is the subset of *websocket.Conn the hub uses. Narrowing it
// to an interface lets tests exercise pumps without network sockets.
type transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// subscribePayload is the payload for subscribe/unsubscribe envelopes.
type subscribePayload struct {
	Channel string `json:"channel"`
}

// Conn represents a single connected WebSocket client.
type Conn struct {
	// ID is the server-assigned connection id, unique per connection.
	ID string

	hub  *Hub
	ws   transport
	send chan []byte
	ping chan struct{}

	subscriptions map[string]struct{}
	alive         bool
	lastActivity  time.Time

	// Identity fields set after the client authenticates. Empty until then.
	userID    string
	siteID    string
	deviceUID string

	mu sync.RWMutex
}

// newConn builds a connection record around an accepted transport.
func (h *Hub) newConn(ws transport) *Conn {
	return &Conn{
		ID:            uuid.NewString(),
		hub:           h,
		ws:            ws,
		send:          make(chan []byte, sendBufferSize),
		ping:          make(chan struct{}, 1),
		subscriptions: make(map[string]struct{}),
		alive:         true,
		lastActivity:  time.Now(),
	}
}

// Identify associates the connection with an authenticated principal.
// Any field may be empty; device connections set deviceUID, dashboard
// connections set userID and siteID.
func (c *Conn) Identify(userID, siteID, deviceUID string) {
	c.mu.Lock()
	c.userID = userID
	c.siteID = siteID
	c.deviceUID = deviceUID
	c.mu.Unlock()
}

// UserID returns the associated user id, or empty if unauthenticated.
func (c *Conn) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// SiteID returns the associated site id.
func (c *Conn) SiteID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.siteID
}

// DeviceUID returns the associated device uid for device connections.
func (c *Conn) DeviceUID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.deviceUID
}

// IsSubscribed checks if the connection is subscribed to a channel.
func (c *Conn) IsSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscriptions[channel]
	return ok
}

// Subscriptions returns a snapshot of the connection's channel set.
func (c *Conn) Subscriptions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.subscriptions))
	for ch := range c.subscriptions {
		out = append(out, ch)
	}
	return out
}

// LastActivity returns the time of the last inbound message or pong.
func (c *Conn) LastActivity() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActivity
}

// Send marshals and queues an envelope for delivery, stamping the
// timestamp if unset. Slow clients are skipped rather than blocked on.
func (c *Conn) Send(msg Envelope) {
	c.sendEnvelope(msg)
}

// markActive records inbound traffic and clears the liveness strike.
func (c *Conn) markActive() {
	c.mu.Lock()
	c.alive = true
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// sweepMark reads and clears the alive flag. It returns false when the
// connection failed to produce any traffic since the previous sweep.
func (c *Conn) sweepMark() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	was := c.alive
	c.alive = false
	return was
}

// requestPing asks the write pump to emit a protocol-level ping. The
// request is dropped if one is already pending.
func (c *Conn) requestPing() {
	select {
	case c.ping <- struct{}{}:
	default:
	}
}

// terminate force-closes the underlying transport. The read pump unwinds
// and unregisters the connection.
func (c *Conn) terminate() {
	if c.ws != nil {
		c.ws.Close()
	}
}

// readPump reads messages from the WebSocket connection.
func (c *Conn) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(int64(c.hub.cfg.MaxMessageSize))
	c.ws.SetPongHandler(func(string) error {
		c.markActive()
		return nil
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "conn_id", c.ID, "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "conn_id", c.ID, "error", err)
			}
			return
		}
		c.markActive()
		c.handleMessage(message)
	}
}

// writePump writes queued messages and sweep-requested pings to the
// WebSocket connection.
func (c *Conn) writePump() {
	defer c.ws.Close()

	writeTimeout := time.Duration(c.hub.cfg.WriteTimeout) * time.Second

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				// Hub closed the channel
				//nolint:errcheck // Best-effort close message
				c.ws.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-c.ping:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes an inbound envelope: reserved types inline,
// everything else through the hub's handler map.
func (c *Conn) handleMessage(data []byte) {
	var msg Envelope
	if err := json.Unmarshal(data, &msg); err != nil {
		if !c.hub.dispatchRaw(c, data) {
			c.sendError("invalid JSON message")
		}
		return
	}

	switch msg.Type {
	case TypeSubscribe:
		c.handleSubscribe(msg)
	case TypeUnsubscribe:
		c.handleUnsubscribe(msg)
	case TypePing:
		c.sendEnvelope(Envelope{Type: TypePong})
	default:
		c.hub.dispatch(c, msg)
	}
}

// handleSubscribe adds a channel to the connection's subscription set and
// acknowledges it.
func (c *Conn) handleSubscribe(msg Envelope) {
	channel, ok := c.parseChannel(msg)
	if !ok {
		return
	}

	c.mu.Lock()
	c.subscriptions[channel] = struct{}{}
	c.mu.Unlock()

	c.hub.logger.Info("websocket client subscribed", "conn_id", c.ID, "channel", channel)
	c.sendEnvelope(Envelope{Type: TypeSubscribed, Channel: channel})
}

// handleUnsubscribe removes a channel from the subscription set.
// Unsubscribing from a channel never subscribed to is acknowledged the
// same way.
func (c *Conn) handleUnsubscribe(msg Envelope) {
	channel, ok := c.parseChannel(msg)
	if !ok {
		return
	}

	c.mu.Lock()
	delete(c.subscriptions, channel)
	c.mu.Unlock()

	c.sendEnvelope(Envelope{Type: TypeUnsubscribed, Channel: channel})
}

// parseChannel extracts the channel from an envelope: the Channel field
// directly, or a {"channel": ...} payload for older clients.
func (c *Conn) parseChannel(msg Envelope) (string, bool) {
	if msg.Channel != "" {
		return msg.Channel, true
	}
	var sub subscribePayload
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &sub); err != nil {
			c.sendError(fmt.Sprintf("invalid %s payload", msg.Type))
			return "", false
		}
	}
	if sub.Channel == "" {
		c.sendError(fmt.Sprintf("%s requires a channel", msg.Type))
		return "", false
	}
	return sub.Channel, true
}

// trySend attempts to queue raw data on the send channel.
// It silently handles closed channels (client disconnected during
// broadcast) and full buffers (slow client).
func (c *Conn) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
		// Client buffer full, skip
	}
}

// sendEnvelope marshals and queues an envelope.
// Routes through trySend to safely handle closed channels during shutdown.
func (c *Conn) sendEnvelope(msg Envelope) {
	if msg.Timestamp == "" {
		msg.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.trySend(data)
}

// sendError sends an error envelope to the client.
func (c *Conn) sendError(message string) {
	c.sendEnvelope(Envelope{
		Type:    TypeError,
		Payload: mustRaw(map[string]string{"message": message}),
	})
}
