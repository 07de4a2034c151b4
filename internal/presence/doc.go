// Package presence tracks which peers are currently online.
//
// Tracker is updated from live channel events: a full snapshot on every
// (re)connect and single-user deltas in between. The local user is never a
// member of the set. Presence is advisory display state and never gates
// message delivery.
package presence
