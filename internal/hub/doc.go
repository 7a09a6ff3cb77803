// Package hub is the real-time broadcast hub for VoltGrid Core.
//
// The hub accepts duplex WebSocket connections from dashboards and mobile
// clients, tracks per-connection channel subscriptions, and fans out
// messages to subscribers. Channels are named broadcast groups orthogonal
// to MQTT topics: a client subscribes to "device.telemetry" and receives
// every message published to that channel, regardless of transport origin.
//
// The wire protocol is JSON envelopes with a "type" field. Reserved types
// (subscribe, unsubscribe, ping/pong, connected, subscribed, unsubscribed)
// are handled inline; every other type is routed through the handler map
// registered with AddMessageHandler. Payloads that fail to parse fall back
// to the generic "message" handler when one is registered.
//
// Dead connections are detected with a two-strike liveness sweep: each tick
// marks every connection not-alive and sends a protocol-level ping; a pong
// flips the mark back. A connection still unmarked at the next tick is
// terminated.
//
// Thread Safety: all methods are safe for concurrent use.
package hub
