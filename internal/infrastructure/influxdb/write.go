package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementLockState  = "lock_state"
	MeasurementBridgeLink = "nuki_bridge"
)

// WriteLockState records one lock's cached state.
//
//	lock_state,entity_id=lock.front_door,nuki_id=42 locked=true,available=true,battery_critical=false
func (c *Client) WriteLockState(entityID string, nukiID int, locked, available, batteryCritical bool, ts time.Time) {
	c.WritePointWithTime(MeasurementLockState,
		map[string]string{
			"entity_id": entityID,
			"nuki_id":   strconv.Itoa(nukiID),
		},
		map[string]any{
			"locked":           locked,
			"available":        available,
			"battery_critical": batteryCritical,
		},
		ts,
	)
}

// WriteBridgeStats records bridge reachability and request counters.
func (c *Client) WriteBridgeStats(bridgeID string, reachable bool, requests, errors uint64) {
	c.WritePoint(MeasurementBridgeLink,
		map[string]string{"bridge_id": bridgeID},
		map[string]any{
			"reachable": reachable,
			"requests":  requests,
			"errors":    errors,
		},
	)
}

// WritePoint writes a point stamped with the current time.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a point with an explicit timestamp.
// Dropped silently when the client is not connected.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, ts))
}
