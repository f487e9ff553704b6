// Package meshcore speaks the MeshCore companion-radio protocol.
//
// A companion node (USB serial or WiFi/TCP firmware) exchanges small binary
// frames with its host. This package provides the byte-level transports and
// a Client that performs the handshake, issues commands and decodes the
// replies and pushes the bridge needs.
//
// # Framing
//
// Both transports carry the same framing:
//
//	host → node:  '<' (0x3c) | u16 little-endian length | payload
//	node → host:  '>' (0x3e) | u16 little-endian length | payload
//
// The first payload byte is a command code (host → node) or a response or
// push code (node → host). Codes at 0x80 and above are unsolicited pushes.
//
// # Transports
//
//	┌───────────────┐   Transport    ┌──────────────────┐
//	│    Client     │◄──────────────►│ SerialTransport  │──► /dev/ttyACM0
//	│ (this pkg)    │                │ NetworkTransport │──► host:4403
//	└───────────────┘                └──────────────────┘
//
// The Client depends only on the Transport interface, so tests drive it
// with an in-memory peer.
//
// # Thread Safety
//
// Client methods are safe for concurrent use, although the bridge issues
// them strictly one at a time. A single background goroutine reads frames
// and routes each one to the command waiting for it or to the push handler.
package meshcore
