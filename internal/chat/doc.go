// Package chat defines the data model shared by the synchronization core.
//
// # Types
//
//   - User: a peer the local user can converse with
//   - Message: a timeline entry, optimistic or server-confirmed
//   - Draft: user input for a new message, validated before dispatch
//   - Status: load state of one conversation
//
// # Delivery States
//
// A locally originated message starts Pending and carries a client-generated
// correlation token. It becomes Confirmed once the server assigns an ID, or
// Failed if the create call fails. Failed messages stay visible so the user
// can retry or discard them. Confirmed messages are never mutated.
//
// # Errors
//
// Three sentinel errors classify failures:
//
//   - ErrNetwork: transient request failure, retryable
//   - ErrValidation: rejected input, no network call was made
//   - ErrTransport: live channel registration failure, history still usable
package chat
