package gateway

import "fmt"

// Topic prefixes for the VoltGrid MQTT namespace.
//
// Field devices publish under the flat scheme:
//
//	voltgrid/telemetry/{site}/{device_uid}
//	voltgrid/status/{device_uid}
//
// Core publishes commands and system announcements under voltgrid/command
// and voltgrid/system.
const (
	// TopicPrefix is the base for all VoltGrid topics.
	TopicPrefix = "voltgrid"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "voltgrid/system"
)

// Topics provides builders for VoltGrid MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := gateway.Topics{}
//	t := topics.DeviceTelemetry("site-12", "dev-7")
//	// Returns: "voltgrid/telemetry/site-12/dev-7"
type Topics struct{}

// DeviceTelemetry returns the topic a device publishes measurements on.
//
// Example: voltgrid/telemetry/site-12/dev-7
func (Topics) DeviceTelemetry(siteID, deviceUID string) string {
	return fmt.Sprintf("%s/telemetry/%s/%s", TopicPrefix, siteID, deviceUID)
}

// DeviceStatus returns the topic a device publishes online/offline status on.
//
// Example: voltgrid/status/dev-7
func (Topics) DeviceStatus(deviceUID string) string {
	return fmt.Sprintf("%s/status/%s", TopicPrefix, deviceUID)
}

// DeviceCommand returns the topic Core publishes commands to a device on.
//
// Example: voltgrid/command/dev-7
func (Topics) DeviceCommand(deviceUID string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, deviceUID)
}

// DeviceRegistered returns the topic announcing a newly onboarded device.
//
// Example: voltgrid/system/device-registered
func (Topics) DeviceRegistered() string {
	return fmt.Sprintf("%s/device-registered", TopicPrefixSystem)
}

// SystemStatus returns the Core online/offline status topic (also the LWT topic).
//
// Example: voltgrid/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllTelemetry returns a pattern matching every device telemetry topic.
//
// Pattern: voltgrid/telemetry/+/+
func (Topics) AllTelemetry() string {
	return fmt.Sprintf("%s/telemetry/+/+", TopicPrefix)
}

// AllStatus returns a pattern matching every device status topic.
//
// Pattern: voltgrid/status/+
func (Topics) AllStatus() string {
	return fmt.Sprintf("%s/status/+", TopicPrefix)
}

// AllTopics returns a pattern matching all VoltGrid topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: voltgrid/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}
