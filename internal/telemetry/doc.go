// Package telemetry relays device measurements from the MQTT gateway to
// their consumers: the time-series store and the WebSocket hub.
//
// # Data Flow
//
// Field devices publish readings on voltgrid/telemetry/{site}/{device_uid}
// and availability on voltgrid/status/{device_uid}. The relay subscribes
// to both wildcard patterns and fans each message out:
//
//	telemetry -> InfluxDB (batched write) + hub channel "device.telemetry"
//	status    -> device registry (is_online) + InfluxDB + hub channel "device.status"
//
// # Message Formats
//
// Telemetry payloads are flat JSON objects. Numeric values become
// time-series fields; the optional "type" string becomes the device_type
// tag. Status payloads follow the gateway's retained-status convention:
//
//	{"status":"online","timestamp":"..."}
//
// # Failure Isolation
//
// The relay never fails a gateway dispatch because one consumer is down.
// A missing time-series store or hub is skipped; registry update errors
// are logged and the message is still broadcast.
package telemetry
