// Package store provides persistent storage for the chat development server.
//
// # Architecture
//
// Store is the interface the server depends on. Two implementations exist:
//
//   - SQLiteStore: modernc.org/sqlite backed, schema created on open
//   - MockStore: in-memory, for tests
//
// # Data Models
//
//   - users: id, display name, avatar reference
//   - messages: server id, sender, receiver, text and/or image, creation
//     time, and the sender's idempotency key
//
// Messages carry an insertion sequence so a conversation reads back in
// creation order with ties broken by arrival. A (sender, idempotency key)
// pair is unique: saving the same pair twice returns the first message.
package store
