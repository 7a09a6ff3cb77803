package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteTelemetry writes a device telemetry sample to InfluxDB.
//
// This is the primary method for recording device readings relayed
// from the MQTT gateway. The write is non-blocking; data is batched
// and sent asynchronously.
//
// Parameters:
//   - deviceUID: Unique identifier for the device (e.g., "vg-inv-042")
//   - deviceType: Device category used as a tag (e.g., "inverter")
//   - fields: Numeric readings keyed by metric name
//
// Example:
//
//	client.WriteTelemetry("vg-batt-007", "battery_storage", map[string]interface{}{
//	    "soc_percent": 81.5,
//	    "power_w":     -2400.0,
//	})
func (c *Client) WriteTelemetry(deviceUID string, deviceType string, fields map[string]interface{}) {
	if !c.IsConnected() || len(fields) == 0 {
		return
	}

	point := write.NewPoint(
		"telemetry",
		map[string]string{
			"device_uid":  deviceUID,
			"device_type": deviceType,
		},
		fields,
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteEnergyMetric writes an energy flow measurement.
//
// Used for tracking production, consumption and grid import/export.
// Positive power is production or import depending on the device role.
//
// Parameters:
//   - deviceUID: Device identifier
//   - powerWatts: Instantaneous power in watts
//   - energyKWh: Cumulative energy in kWh (optional, use 0 if unknown)
func (c *Client) WriteEnergyMetric(deviceUID string, powerWatts float64, energyKWh float64) {
	if !c.IsConnected() {
		return
	}

	fields := map[string]interface{}{
		"power_watts": powerWatts,
	}
	if energyKWh > 0 {
		fields["energy_kwh"] = energyKWh
	}

	point := write.NewPoint(
		"energy",
		map[string]string{
			"device_uid": deviceUID,
		},
		fields,
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteConnectivityEvent records a device coming online or dropping offline.
//
// Stored as a 0/1 gauge so dashboards can chart availability over time.
func (c *Client) WriteConnectivityEvent(deviceUID string, online bool) {
	if !c.IsConnected() {
		return
	}

	state := 0.0
	if online {
		state = 1.0
	}

	point := write.NewPoint(
		"connectivity",
		map[string]string{
			"device_uid": deviceUID,
		},
		map[string]interface{}{
			"online": state,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
//
// Example:
//
//	client.WritePoint("system_stats",
//	    map[string]string{"host": "core-01"},
//	    map[string]interface{}{"cpu_percent": 45.2, "memory_mb": 512})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing
//   - fields: Key-value pairs for the data
//   - timestamp: The exact time for this data point
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
