// Package gateway is the messaging gateway between VoltGrid Core and the
// MQTT broker that carries field-device traffic.
//
// The gateway multiplexes many logical subscribers over one broker session:
// the broker is told to subscribe once per distinct topic pattern, and told
// to unsubscribe only when the last local handler for that pattern is
// removed. Inbound messages are dispatched locally, first to the exact-topic
// handler set and then to every other registered pattern that matches via
// MQTT wildcards (+ for one segment, trailing # for zero or more).
//
// Two broker adapters exist, selected by config:
//
//   - "broker": a real MQTT session via eclipse/paho, with bounded
//     reconnection. After the reconnect budget is exhausted the session is
//     terminated and the fatal-error callback fires.
//   - "offline": a no-op adapter for environments without a reachable
//     broker. Publish and subscribe succeed locally and are log-only.
//
// Handler errors and panics are caught and logged; one bad handler never
// interrupts delivery to the others.
//
// Thread Safety: all methods are safe for concurrent use.
package gateway
