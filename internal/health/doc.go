// Package health tracks what the bridge knows about its device session and
// reports bridge health.
//
// Tracker is a session.Listener that keeps the latest connection state,
// identity, contact table and per-node status replies. Reporter combines that
// view with the dispatcher, line loop and event broadcaster counters and
// publishes a retained health message to MQTT on an interval. The monitor
// API serves the same data over HTTP.
package health
