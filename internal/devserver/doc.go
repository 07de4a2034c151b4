// Package devserver is a small chat server for local development and
// end-to-end tests of the client packages.
//
// It serves the HTTP API used by internal/api and the WebSocket live channel
// used by internal/transport, backed by a store.Store. Routes:
//
//	GET  /health                 liveness, no auth
//	GET  /api/me                 the authenticated user
//	GET  /api/users              every user
//	GET  /api/messages/{peerID}  conversation history, oldest first
//	POST /api/messages/{peerID}  create a message (idempotent by key)
//	GET  /ws                     live channel
//
// Everything except /health requires a bearer JWT whose subject is a known
// user id. Browsers may pass the token as ?token= on /ws.
package devserver
