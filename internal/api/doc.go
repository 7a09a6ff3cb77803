// Package api implements the HTTP REST API and WebSocket server for VoltGrid Core.
//
// This package provides:
//   - REST endpoints for the provisioning surface: devices, templates,
//     registration codes (including QR rendering and validation)
//   - The broadcast hub's WebSocket mount point for real-time updates
//   - Middleware stack (request ID, logging, recovery, CORS)
//   - TLS support for production deployments
//
// # Architecture
//
// The API server sits between installer tooling / dashboards and the
// provisioning subsystem. Onboarding calls flow through the provisioning
// service into SQLite; real-time fan-out (telemetry, registration events)
// reaches clients over the hub's WebSocket endpoint mounted on this
// server's router.
//
// # Graceful Degradation
//
// The server operates without the messaging gateway — provisioning CRUD
// and WebSocket connections work, only broker-side effects are absent.
// This enables testing and partial operation.
package api
