// Package transport implements the live channel between the client and the
// chat server.
//
// # Channel
//
// Channel is what the synchronization core consumes: listeners register for
// named inbound events, and state handlers observe connected/disconnected
// transitions. Two implementations exist:
//
//   - WSChannel: a WebSocket client that reconnects with a paced backoff
//   - MemoryChannel: an in-process channel for tests and local wiring
//
// # Wire Format
//
// Every frame is a JSON envelope:
//
//	{"type": "message:new", "payload": {...}}
//
// Inbound event types:
//
//   - message:new: a chat.Message
//   - presence:snapshot: the full list of online user ids
//   - presence:delta: {"userId": "...", "online": true}
//
// The client sends a single outbound frame type, listen, whose payload
// lists the event types the connection wants delivered. Each listen frame
// replaces the previous set.
package transport
