// Package subscription owns the single live-channel registration for the
// chat core.
//
// Manager registers one listener covering every inbound event type and
// keeps it alive across reconnects. On a reconnect it issues the
// registration again when the channel does not do so itself, then invokes
// the resync callback so the active conversation can reload the history it
// may have missed.
//
// A failed registration leaves the manager degraded: live updates are off
// but history reads still work. The next Activate or reconnect retries.
package subscription
