// Package coordinator ties the conversation store, presence tracker and live
// subscription into the operations a client surface calls.
//
// # Conversation Focus
//
// SelectPeer switches the active conversation and returns immediately. The
// history load, when one is needed, runs in the background; its result is
// discarded if a newer load for the same peer was issued in the meantime. A
// conversation that is already Ready and not stale is shown from memory,
// including one built entirely from live arrivals.
//
// # Sending
//
// SendMessage validates the draft, appends an optimistic entry, and calls the
// server with the entry's correlation token as the idempotency key. It
// returns once the create call resolves, with the message either Confirmed
// or Failed. Failed messages stay visible until retried or discarded.
//
// # Live Events
//
// message:new is routed to the conversation of the other party whether or not
// it is active. The server echoes the sender's correlation token, so an echo
// of a local send reconciles the optimistic entry instead of duplicating it.
// After a reconnect the active conversation is reloaded and the others are
// marked stale.
package coordinator
