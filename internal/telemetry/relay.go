package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/voltgrid/voltgrid-core/internal/gateway"
)

// Hub channels the relay publishes on.
const (
	// ChannelTelemetry carries live device readings.
	ChannelTelemetry = "device.telemetry"

	// ChannelStatus carries device online/offline transitions.
	ChannelStatus = "device.status"
)

// Logger is the minimal logging interface the relay needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Subscriber is the gateway surface the relay consumes.
type Subscriber interface {
	Subscribe(topic string, handler gateway.Handler) (gateway.HandlerID, error)
	Unsubscribe(topic string, ids ...gateway.HandlerID) error
}

// Recorder persists samples to the time-series store.
// *influxdb.Client satisfies this.
type Recorder interface {
	WriteTelemetry(deviceUID string, deviceType string, fields map[string]interface{})
	WriteConnectivityEvent(deviceUID string, online bool)
}

// Broadcaster pushes events to WebSocket subscribers.
// *hub.Hub satisfies this.
type Broadcaster interface {
	PublishToChannel(channel string, payload any)
}

// Registry tracks device connectivity state.
// *provisioning.Service satisfies this.
type Registry interface {
	UpdateDeviceStatus(ctx context.Context, uid string, isOnline bool) error
}

// TelemetryEvent is the hub payload for a relayed reading.
type TelemetryEvent struct {
	SiteID     string         `json:"site_id"`
	DeviceUID  string         `json:"device_uid"`
	DeviceType string         `json:"device_type,omitempty"`
	Metrics    map[string]any `json:"metrics"`
}

// StatusEvent is the hub payload for a connectivity transition.
type StatusEvent struct {
	DeviceUID string `json:"device_uid"`
	Online    bool   `json:"online"`
}

// Relay subscribes to device topics on the gateway and fans messages
// out to the time-series store, the device registry and the hub.
//
// Recorder and Broadcaster are optional; a nil consumer is skipped so
// the relay degrades gracefully when InfluxDB or the hub is disabled.
type Relay struct {
	gw       Subscriber
	recorder Recorder
	hub      Broadcaster
	registry Registry
	logger   Logger

	ctx context.Context

	telemetryID gateway.HandlerID
	statusID    gateway.HandlerID
}

// New creates a relay. gw, registry and logger are required.
func New(gw Subscriber, registry Registry, recorder Recorder, hub Broadcaster, logger Logger) *Relay {
	return &Relay{
		gw:       gw,
		recorder: recorder,
		hub:      hub,
		registry: registry,
		logger:   logger,
	}
}

// Start subscribes to the telemetry and status wildcard patterns.
// ctx bounds registry updates made from gateway dispatch.
func (r *Relay) Start(ctx context.Context) error {
	r.ctx = ctx

	topics := gateway.Topics{}

	id, err := r.gw.Subscribe(topics.AllTelemetry(), r.handleTelemetry)
	if err != nil {
		return fmt.Errorf("subscribing to telemetry: %w", err)
	}
	r.telemetryID = id

	id, err = r.gw.Subscribe(topics.AllStatus(), r.handleStatus)
	if err != nil {
		_ = r.gw.Unsubscribe(topics.AllTelemetry(), r.telemetryID)
		return fmt.Errorf("subscribing to status: %w", err)
	}
	r.statusID = id

	r.logger.Info("telemetry relay started",
		"telemetry_pattern", topics.AllTelemetry(),
		"status_pattern", topics.AllStatus())
	return nil
}

// Close removes the relay's gateway subscriptions.
func (r *Relay) Close() error {
	topics := gateway.Topics{}
	if err := r.gw.Unsubscribe(topics.AllTelemetry(), r.telemetryID); err != nil {
		r.logger.Debug("telemetry unsubscribe failed", "error", err)
	}
	if err := r.gw.Unsubscribe(topics.AllStatus(), r.statusID); err != nil {
		r.logger.Debug("status unsubscribe failed", "error", err)
	}
	return nil
}

// handleTelemetry processes one reading from voltgrid/telemetry/{site}/{uid}.
func (r *Relay) handleTelemetry(topic string, payload []byte) error {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 {
		return fmt.Errorf("unexpected telemetry topic %q", topic)
	}
	siteID, deviceUID := parts[2], parts[3]

	var reading map[string]any
	if err := json.Unmarshal(payload, &reading); err != nil {
		return fmt.Errorf("decoding telemetry from %s: %w", deviceUID, err)
	}

	deviceType, _ := reading["type"].(string)

	// Only numeric values go to the time-series store.
	fields := make(map[string]interface{}, len(reading))
	for k, v := range reading {
		if f, ok := v.(float64); ok {
			fields[k] = f
		}
	}

	if r.recorder != nil {
		r.recorder.WriteTelemetry(deviceUID, deviceType, fields)
	}
	if r.hub != nil {
		r.hub.PublishToChannel(ChannelTelemetry, TelemetryEvent{
			SiteID:     siteID,
			DeviceUID:  deviceUID,
			DeviceType: deviceType,
			Metrics:    reading,
		})
	}

	r.logger.Debug("relayed telemetry", "device_uid", deviceUID, "site_id", siteID, "fields", len(fields))
	return nil
}

// statusMessage mirrors the gateway's retained-status JSON convention.
type statusMessage struct {
	Status string `json:"status"`
}

// handleStatus processes one transition from voltgrid/status/{uid}.
//
// Both the JSON convention and a bare "online"/"offline" string are
// accepted; constrained devices publish the latter as their LWT.
func (r *Relay) handleStatus(topic string, payload []byte) error {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 {
		return fmt.Errorf("unexpected status topic %q", topic)
	}
	deviceUID := parts[2]

	status := strings.TrimSpace(string(payload))
	var msg statusMessage
	if err := json.Unmarshal(payload, &msg); err == nil && msg.Status != "" {
		status = msg.Status
	}

	var online bool
	switch status {
	case "online":
		online = true
	case "offline":
		online = false
	default:
		return fmt.Errorf("unrecognized status %q from %s", status, deviceUID)
	}

	if err := r.registry.UpdateDeviceStatus(r.ctx, deviceUID, online); err != nil {
		// Unregistered devices can publish before onboarding; keep relaying.
		r.logger.Warn("failed to record device status", "device_uid", deviceUID, "error", err)
	}

	if r.recorder != nil {
		r.recorder.WriteConnectivityEvent(deviceUID, online)
	}
	if r.hub != nil {
		r.hub.PublishToChannel(ChannelStatus, StatusEvent{DeviceUID: deviceUID, Online: online})
	}

	r.logger.Info("device status changed", "device_uid", deviceUID, "online", online)
	return nil
}
