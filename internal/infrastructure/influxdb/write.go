package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementNodeStatus    = "node_status"
	MeasurementContactSignal = "contact_signal"
)

// WriteNodeStatus records one status response from a remote node.
//
// Parameters:
//   - node: Public key prefix of the reporting node
//   - fields: Numeric status values (bat_mv, up_secs, ...)
//   - at: When the status was received
func (c *Client) WriteNodeStatus(node string, fields map[string]any, at time.Time) {
	c.WritePoint(MeasurementNodeStatus, map[string]string{"node": node}, fields, at)
}

// WriteContactSignal records the last heard signal of one contact.
func (c *Client) WriteContactSignal(contact, name string, rssi int, snr float64, at time.Time) {
	tags := map[string]string{"contact": contact}
	if name != "" {
		tags["name"] = name
	}
	c.WritePoint(MeasurementContactSignal, tags, map[string]any{"rssi": rssi, "snr": snr}, at)
}

// WritePoint queues an arbitrary point. Points without fields are dropped,
// as InfluxDB rejects them.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any, at time.Time) {
	if !c.IsConnected() || len(fields) == 0 {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, at))
}
