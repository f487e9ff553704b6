// Package session owns the bridge's connection to one MeshCore companion node.
//
// A Session is either Disconnected or Connected. While connected it holds the
// device handle, the node's self-identity and the last contact table read
// from it. Nothing is persisted: a new process starts disconnected.
//
// Every operation other than Connect and Disconnect fails with
// ErrNotConnected while disconnected and leaves the state untouched.
// Connect on a connected session disconnects first, so at most one transport
// is ever open.
//
// Device answers are normalised into JSON-safe records. Optional fields the
// device did not report are nil pointers and disappear from JSON, and a GPS
// axis of exactly zero (the firmware's "no fix" value) is dropped.
//
// Changes are published as Events to an optional Publisher. Broadcaster is
// the standard Publisher; it delivers on its own goroutine so telemetry and
// the monitor API never touch the Session itself.
package session
