// Package influxdb records mesh telemetry as InfluxDB v2 time series.
//
// Writes are non-blocking and batched by the client library; failures are
// reported asynchronously through SetOnError. Two measurements are written:
//
//	node_status     tags: node          fields: bat_mv, up_secs, noise_floor, last_rssi, last_snr, airtime, ...
//	contact_signal  tags: contact, name fields: rssi, snr
package influxdb
