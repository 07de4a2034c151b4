// Package timeline owns the per-peer message timelines of the local user.
//
// # Overview
//
// Store keeps one conversation per peer and a pointer to the active one.
// All mutation goes through its operations:
//
//   - Select: switch the active conversation
//   - LoadHistory: fetch and apply the server history for a peer
//   - AppendOptimistic: show a locally originated message before it is sent
//   - ReconcileConfirmed: apply a server-confirmed message
//   - MarkFailed, MarkPending, Discard: drive the failed-send affordances
//
// # Ordering
//
// Within a conversation entries are ordered by CreatedAt ascending; entries
// with equal timestamps keep arrival order. A confirmed message replaces its
// optimistic entry in place, so the position the user saw is kept.
//
// # Superseded Loads
//
// Every LoadHistory call takes a sequence number. When its response arrives,
// the result is applied only if no newer load was issued for the same peer
// in the meantime. Older responses are dropped without surfacing an error.
//
// # Notifications
//
// Watch returns a channel of Change values. Changes are hints: readers call
// View or Active to get a consistent copy of the state.
package timeline
