package gateway

import (
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/voltgrid/voltgrid-core/internal/infrastructure/config"
)

// Broker is the transport behind the gateway. The real implementation wraps
// an MQTT session; the offline implementation is a no-op for development
// without a reachable broker.
type Broker interface {
	// Connect establishes the session. The message and connection-lost
	// callbacks must be set before Connect is called.
	Connect() error

	// Disconnect terminates the session, waiting up to quiesce for
	// pending operations.
	Disconnect(quiesce time.Duration)

	// Subscribe registers interest in a topic pattern. Inbound messages
	// for any subscribed pattern arrive on the message callback.
	Subscribe(topic string, qos byte) error

	// Unsubscribe removes interest in a topic pattern.
	Unsubscribe(topic string) error

	// Publish sends a payload to a topic.
	Publish(topic string, qos byte, retain bool, payload []byte) error

	// IsConnected reports the current session state.
	IsConnected() bool

	// SetMessageHandler sets the callback for all inbound messages.
	SetMessageHandler(fn func(topic string, payload []byte))

	// SetConnectionLostHandler sets the callback for unexpected disconnects.
	SetConnectionLostHandler(fn func(err error))
}

// NewBroker returns the broker adapter selected by cfg.Mode.
func NewBroker(cfg config.MQTTConfig, logger Logger) Broker {
	if cfg.Mode == config.GatewayModeOffline {
		return newOfflineBroker(logger)
	}
	return newPahoBroker(cfg)
}

// pahoBroker adapts eclipse/paho to the Broker interface.
//
// Reconnection is owned by the gateway, not paho: auto-reconnect is disabled
// so the gateway's bounded retry policy is the only reconnect path.
type pahoBroker struct {
	client    pahomqtt.Client
	opts      *pahomqtt.ClientOptions
	onMessage func(topic string, payload []byte)
	onLost    func(err error)
	mu        sync.RWMutex
}

func newPahoBroker(cfg config.MQTTConfig) *pahoBroker {
	b := &pahoBroker{}

	opts := buildClientOptions(cfg)
	opts.SetDefaultPublishHandler(func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.mu.RLock()
		fn := b.onMessage
		b.mu.RUnlock()
		if fn != nil {
			fn(msg.Topic(), msg.Payload())
		}
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		b.mu.RLock()
		fn := b.onLost
		b.mu.RUnlock()
		if fn != nil {
			fn(err)
		}
	})

	b.opts = opts
	return b
}

func (b *pahoBroker) SetMessageHandler(fn func(topic string, payload []byte)) {
	b.mu.Lock()
	b.onMessage = fn
	b.mu.Unlock()
}

func (b *pahoBroker) SetConnectionLostHandler(fn func(err error)) {
	b.mu.Lock()
	b.onLost = fn
	b.mu.Unlock()
}

func (b *pahoBroker) Connect() error {
	b.mu.Lock()
	if b.client == nil {
		b.client = pahomqtt.NewClient(b.opts)
	}
	client := b.client
	b.mu.Unlock()

	token := client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return nil
}

func (b *pahoBroker) Disconnect(quiesce time.Duration) {
	b.mu.RLock()
	client := b.client
	b.mu.RUnlock()
	if client != nil {
		client.Disconnect(uint(quiesce.Milliseconds())) //nolint:gosec // quiesce is a small constant
	}
}

// session returns the live client, or ErrNotConnected before the first
// Connect call creates one.
func (b *pahoBroker) session() (pahomqtt.Client, error) {
	b.mu.RLock()
	client := b.client
	b.mu.RUnlock()
	if client == nil {
		return nil, ErrNotConnected
	}
	return client, nil
}

func (b *pahoBroker) Subscribe(topic string, qos byte) error {
	client, err := b.session()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	// nil callback routes through the default publish handler, keeping all
	// inbound dispatch in one place.
	token := client.Subscribe(topic, qos, nil)
	if !token.WaitTimeout(defaultOpTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, defaultOpTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	return nil
}

func (b *pahoBroker) Unsubscribe(topic string) error {
	client, err := b.session()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}
	token := client.Unsubscribe(topic)
	if !token.WaitTimeout(defaultOpTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrUnsubscribeFailed, defaultOpTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}
	return nil
}

func (b *pahoBroker) Publish(topic string, qos byte, retain bool, payload []byte) error {
	client, err := b.session()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	token := client.Publish(topic, qos, retain, payload)
	if !token.WaitTimeout(defaultOpTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultOpTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

func (b *pahoBroker) IsConnected() bool {
	b.mu.RLock()
	client := b.client
	b.mu.RUnlock()
	return client != nil && client.IsConnected()
}

// offlineBroker satisfies Broker without contacting any broker. Operations
// succeed immediately and are log-only, keeping local development working
// when no MQTT broker is reachable.
type offlineBroker struct {
	logger    Logger
	connected bool
	mu        sync.RWMutex
}

func newOfflineBroker(logger Logger) *offlineBroker {
	return &offlineBroker{logger: logger}
}

func (b *offlineBroker) Connect() error {
	b.mu.Lock()
	b.connected = true
	b.mu.Unlock()
	b.logger.Info("gateway running in offline mode, broker operations are log-only")
	return nil
}

func (b *offlineBroker) Disconnect(_ time.Duration) {
	b.mu.Lock()
	b.connected = false
	b.mu.Unlock()
}

func (b *offlineBroker) Subscribe(topic string, _ byte) error {
	b.logger.Debug("offline subscribe", "topic", topic)
	return nil
}

func (b *offlineBroker) Unsubscribe(topic string) error {
	b.logger.Debug("offline unsubscribe", "topic", topic)
	return nil
}

func (b *offlineBroker) Publish(topic string, _ byte, _ bool, payload []byte) error {
	b.logger.Debug("offline publish", "topic", topic, "bytes", len(payload))
	return nil
}

func (b *offlineBroker) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connected
}

func (b *offlineBroker) SetMessageHandler(func(topic string, payload []byte)) {}

func (b *offlineBroker) SetConnectionLostHandler(func(err error)) {}
