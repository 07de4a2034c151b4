// Package api is the HTTP Request Client used by the chat core.
//
// Endpoints:
//
//   - GET  /api/me                 the authenticated user
//   - GET  /api/users              every registered user
//   - GET  /api/messages/{peerID}  the conversation with peerID, oldest first
//   - POST /api/messages/{peerID}  create a message
//
// Requests carry a bearer token. Failures map onto the chat error
// sentinels: connection problems and 5xx responses wrap chat.ErrNetwork,
// 400 and 422 wrap chat.ErrValidation, and authentication failures wrap
// ErrUnauthorized.
//
// Create sends an idempotency key. The client passes the message's
// correlation token, so a retried create returns the originally stored
// message instead of a duplicate.
package api
