// Package telemetry mirrors session events to MQTT and InfluxDB.
//
// Both sinks are session.Listeners fed by the session Broadcaster, so they
// work from event snapshots and never touch the device session itself.
// Either may be absent; the bridge runs the same without them.
package telemetry
