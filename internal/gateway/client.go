package gateway

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/voltgrid/voltgrid-core/internal/infrastructure/config"
)

// Logger interface for gateway logging.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Handler is the callback signature for received messages.
//
// Handlers run on the gateway's dispatch goroutine in registration order;
// they should not block for extended periods. A returned error is logged
// and does not affect delivery to other handlers.
type Handler func(topic string, payload []byte) error

// HandlerID identifies one registered handler within a topic pattern,
// allowing a single handler to be removed while others stay subscribed.
type HandlerID uint64

// PublishOptions controls delivery of an outbound message.
type PublishOptions struct {
	// Retain asks the broker to keep the message for future subscribers.
	Retain bool

	// QoS overrides the configured default QoS when non-nil.
	QoS *byte
}

// handlerEntry pairs a handler with its removal id.
type handlerEntry struct {
	id      HandlerID
	handler Handler
}

// subscription holds the local handler set for one broker-level pattern.
type subscription struct {
	pattern  string
	handlers []handlerEntry
}

// Gateway is the topic-based publish/subscribe client between VoltGrid Core
// and the message broker.
//
// It manages the broker session, reference-counted topic subscriptions,
// wildcard-aware inbound dispatch, and bounded reconnection.
//
// Thread Safety: all methods are safe for concurrent use.
type Gateway struct {
	broker Broker
	cfg    config.MQTTConfig
	logger Logger

	// subscriptions maps topic pattern to its local handler set. The broker
	// holds exactly one subscription per key in this map.
	subscriptions map[string]*subscription
	nextID        HandlerID
	subMu         sync.RWMutex

	connected bool
	stopping  bool
	connMu    sync.RWMutex

	// onFatal is invoked when the reconnect budget is exhausted.
	onFatal    func(err error)
	callbackMu sync.RWMutex
}

// New creates a gateway over the given broker adapter.
// Use NewBroker to build the adapter selected by configuration.
func New(broker Broker, cfg config.MQTTConfig, logger Logger) *Gateway {
	g := &Gateway{
		broker:        broker,
		cfg:           cfg,
		logger:        logger,
		subscriptions: make(map[string]*subscription),
	}
	broker.SetMessageHandler(g.dispatch)
	broker.SetConnectionLostHandler(g.handleConnectionLost)
	return g
}

// Connect establishes the broker session and flips the connected flag.
func (g *Gateway) Connect() error {
	if err := g.broker.Connect(); err != nil {
		return err
	}

	g.connMu.Lock()
	g.connected = true
	g.stopping = false
	g.connMu.Unlock()

	// Announce Core online on the retained status topic.
	payload := buildOnlinePayload(g.cfg.Broker.ClientID)
	if err := g.broker.Publish(Topics{}.SystemStatus(), g.qos(), true, []byte(payload)); err != nil {
		g.logger.Warn("failed to publish online status", "error", err)
	}

	return nil
}

// Close gracefully terminates the broker session.
func (g *Gateway) Close() error {
	g.connMu.Lock()
	g.stopping = true
	wasConnected := g.connected
	g.connected = false
	g.connMu.Unlock()

	if wasConnected {
		payload := buildOfflinePayload(g.cfg.Broker.ClientID)
		if err := g.broker.Publish(Topics{}.SystemStatus(), g.qos(), true, []byte(payload)); err != nil {
			g.logger.Debug("offline status publish failed during shutdown", "error", err)
		}
	}

	g.broker.Disconnect(defaultDisconnectQuiesce)
	return nil
}

// IsConnected returns the current connection state.
func (g *Gateway) IsConnected() bool {
	g.connMu.RLock()
	defer g.connMu.RUnlock()
	return g.connected && g.broker.IsConnected()
}

// SetOnFatal sets a callback invoked when the reconnect budget is exhausted
// and the session has been terminated.
func (g *Gateway) SetOnFatal(fn func(err error)) {
	g.callbackMu.Lock()
	g.onFatal = fn
	g.callbackMu.Unlock()
}

// Subscribe registers a handler for messages matching the topic pattern.
//
// The first handler for a previously-unseen pattern triggers a broker-level
// subscribe; subsequent handlers for the same pattern are added locally only.
// The returned HandlerID removes exactly this handler via Unsubscribe.
func (g *Gateway) Subscribe(topic string, handler Handler) (HandlerID, error) {
	if topic == "" {
		return 0, ErrInvalidTopic
	}
	if handler == nil {
		return 0, fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}

	g.subMu.Lock()
	sub, exists := g.subscriptions[topic]
	if !exists {
		sub = &subscription{pattern: topic}
		g.subscriptions[topic] = sub
	}
	g.nextID++
	id := g.nextID
	sub.handlers = append(sub.handlers, handlerEntry{id: id, handler: handler})
	g.subMu.Unlock()

	if !exists {
		if err := g.broker.Subscribe(topic, g.qos()); err != nil {
			// Roll back the local registration so a retry re-subscribes.
			g.subMu.Lock()
			delete(g.subscriptions, topic)
			g.subMu.Unlock()
			return 0, err
		}
	}

	return id, nil
}

// Unsubscribe removes handlers for a topic pattern.
//
// With ids, only those handlers are removed; without ids, all handlers for
// the pattern are removed. The broker-level unsubscribe fires only once the
// local handler set for the pattern becomes empty.
func (g *Gateway) Unsubscribe(topic string, ids ...HandlerID) error {
	if topic == "" {
		return ErrInvalidTopic
	}

	g.subMu.Lock()
	sub, exists := g.subscriptions[topic]
	if !exists {
		g.subMu.Unlock()
		return nil
	}

	if len(ids) == 0 {
		sub.handlers = nil
	} else {
		remaining := sub.handlers[:0]
		for _, e := range sub.handlers {
			if !containsID(ids, e.id) {
				remaining = append(remaining, e)
			}
		}
		sub.handlers = remaining
	}

	empty := len(sub.handlers) == 0
	if empty {
		delete(g.subscriptions, topic)
	}
	g.subMu.Unlock()

	if empty {
		return g.broker.Unsubscribe(topic)
	}
	return nil
}

// HandlerCount returns the number of handlers registered for a pattern.
func (g *Gateway) HandlerCount(topic string) int {
	g.subMu.RLock()
	defer g.subMu.RUnlock()
	if sub, ok := g.subscriptions[topic]; ok {
		return len(sub.handlers)
	}
	return 0
}

// HasSubscription reports whether a broker-level subscription exists for the
// exact pattern string.
func (g *Gateway) HasSubscription(topic string) bool {
	g.subMu.RLock()
	defer g.subMu.RUnlock()
	_, ok := g.subscriptions[topic]
	return ok
}

// Publish sends a payload to a topic.
//
// []byte and string payloads are sent as-is; anything else is serialized to
// JSON. In offline mode the publish succeeds locally without broker contact.
func (g *Gateway) Publish(topic string, payload any, opts PublishOptions) error {
	if topic == "" {
		return ErrInvalidTopic
	}

	qos := g.qos()
	if opts.QoS != nil {
		if *opts.QoS > maxQoS {
			return ErrInvalidQoS
		}
		qos = *opts.QoS
	}

	data, err := encodePayload(payload)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return g.broker.Publish(topic, qos, opts.Retain, data)
}

// encodePayload converts a payload to wire bytes.
func encodePayload(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case []byte:
		return p, nil
	case string:
		return []byte(p), nil
	default:
		data, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("serializing payload: %w", err)
		}
		return data, nil
	}
}

// dispatch routes one inbound message to every matching handler set.
//
// The exact-topic handler set is invoked first, then every other registered
// pattern is tested for a wildcard match. Within a set, handlers run in
// registration order. A handler error or panic is logged and never
// interrupts delivery to the remaining handlers.
func (g *Gateway) dispatch(topic string, payload []byte) {
	g.subMu.RLock()
	var sets [][]handlerEntry
	if sub, ok := g.subscriptions[topic]; ok {
		sets = append(sets, append([]handlerEntry(nil), sub.handlers...))
	}
	for pattern, sub := range g.subscriptions {
		if pattern == topic {
			continue
		}
		if MatchTopic(pattern, topic) {
			sets = append(sets, append([]handlerEntry(nil), sub.handlers...))
		}
	}
	g.subMu.RUnlock()

	for _, set := range sets {
		for _, e := range set {
			g.invoke(e.handler, topic, payload)
		}
	}
}

// invoke runs one handler with panic recovery.
func (g *Gateway) invoke(handler Handler, topic string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("gateway handler panic recovered", "topic", topic, "panic", r)
		}
	}()

	if err := handler(topic, payload); err != nil {
		g.logger.Warn("gateway handler returned error", "topic", topic, "error", err)
	}
}

// handleConnectionLost runs the bounded reconnect loop after an unexpected
// disconnect. After the attempt budget is exhausted the session is
// terminated and the fatal callback fires with ErrReconnectExhausted.
func (g *Gateway) handleConnectionLost(cause error) {
	g.connMu.Lock()
	if g.stopping {
		g.connMu.Unlock()
		return
	}
	g.connected = false
	g.connMu.Unlock()

	g.logger.Warn("gateway connection lost, reconnecting", "error", cause)
	go g.reconnectLoop()
}

func (g *Gateway) reconnectLoop() {
	delay := time.Duration(g.cfg.Reconnect.InitialDelay) * time.Second
	if delay <= 0 {
		delay = time.Second
	}
	maxDelay := time.Duration(g.cfg.Reconnect.MaxDelay) * time.Second
	if maxDelay < delay {
		maxDelay = delay
	}
	maxAttempts := g.cfg.Reconnect.MaxAttempts

	for attempt := 1; maxAttempts == 0 || attempt <= maxAttempts; attempt++ {
		time.Sleep(delay)

		g.connMu.RLock()
		stopping := g.stopping
		g.connMu.RUnlock()
		if stopping {
			return
		}

		if err := g.broker.Connect(); err != nil {
			g.logger.Warn("gateway reconnect attempt failed",
				"attempt", attempt,
				"max_attempts", maxAttempts,
				"error", err,
			)
			// Exponential backoff capped at maxDelay.
			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
			}
			continue
		}

		g.connMu.Lock()
		g.connected = true
		g.connMu.Unlock()

		g.restoreSubscriptions()
		g.logger.Info("gateway reconnected", "attempts", attempt)
		return
	}

	g.logger.Error("gateway reconnect budget exhausted, terminating session",
		"attempts", maxAttempts,
	)
	g.broker.Disconnect(defaultDisconnectQuiesce)

	g.callbackMu.RLock()
	fatal := g.onFatal
	g.callbackMu.RUnlock()
	if fatal != nil {
		fatal(ErrReconnectExhausted)
	}
}

// restoreSubscriptions re-subscribes every tracked pattern after reconnect.
func (g *Gateway) restoreSubscriptions() {
	g.subMu.RLock()
	patterns := make([]string, 0, len(g.subscriptions))
	for pattern := range g.subscriptions {
		patterns = append(patterns, pattern)
	}
	g.subMu.RUnlock()

	for _, pattern := range patterns {
		if err := g.broker.Subscribe(pattern, g.qos()); err != nil {
			g.logger.Warn("failed to restore subscription", "pattern", pattern, "error", err)
		}
	}
}

func (g *Gateway) qos() byte {
	return byte(g.cfg.QoS)
}

func containsID(ids []HandlerID, id HandlerID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
