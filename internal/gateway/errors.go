package gateway

import "errors"

// Domain-specific errors for gateway operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when attempting operations on a disconnected gateway.
	ErrNotConnected = errors.New("gateway: not connected")

	// ErrConnectionFailed is returned when the initial connection attempt fails.
	ErrConnectionFailed = errors.New("gateway: connection failed")

	// ErrReconnectExhausted is reported when the bounded reconnect budget
	// is used up and the session has been terminated.
	ErrReconnectExhausted = errors.New("gateway: reconnect attempts exhausted")

	// ErrPublishFailed is returned when a publish operation fails.
	ErrPublishFailed = errors.New("gateway: publish failed")

	// ErrSubscribeFailed is returned when a broker-level subscribe fails.
	ErrSubscribeFailed = errors.New("gateway: subscribe failed")

	// ErrUnsubscribeFailed is returned when a broker-level unsubscribe fails.
	ErrUnsubscribeFailed = errors.New("gateway: unsubscribe failed")

	// ErrInvalidQoS is returned when an invalid QoS level is specified.
	// Valid QoS levels are 0, 1, or 2.
	ErrInvalidQoS = errors.New("gateway: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned when an empty topic or pattern is provided.
	ErrInvalidTopic = errors.New("gateway: topic cannot be empty")
)
