// Package api implements the optional monitor HTTP API and WebSocket stream.
//
// This package provides:
//   - GET /api/v1/health: the current bridge health message
//   - GET /api/v1/metrics: Go runtime, WebSocket and audit database figures
//   - GET /api/v1/session: the last known session view built from events
//   - GET /api/v1/audit: paginated command audit entries (when audit is on)
//   - GET /api/v1/session/nodes/{key}: last status reply of one node
//   - GET /api/v1/ws: a WebSocket stream of session events
//
// # Stream
//
// A stream client first receives a "snapshot" frame holding the session
// view, then one "event" frame per session event on the channels it follows
// (session.connected, session.status, ... or session.* for all). Event
// frames are numbered per client so a gap shows dropped frames. Clients may
// send subscribe, unsubscribe and ping control messages.
//
// # Architecture
//
// The API is read-only. It never calls into the device session; everything it
// serves comes from session events (via health.Tracker and the Hub) or from
// the audit database. Commands are only accepted on the bridge's standard
// input, so a monitor client cannot change device state.
//
// The server binds to loopback by default and carries no authentication.
package api
