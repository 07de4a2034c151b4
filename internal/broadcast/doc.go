// Package broadcast provides keyed in-memory fan-out for change notifications.
//
// Subscribers register for a key and receive values published under that
// key on a buffered channel. Publishing never blocks: a subscriber whose
// buffer is full misses the value, so consumers treat notifications as hints
// and re-read state rather than as a complete log.
//
//	b := broadcast.New[Change](logger)
//	ch, id := b.Subscribe(ctx, "peer-1")
//	b.Publish("peer-1", change, "")
//
// Subscriptions end when their context is cancelled, on Unsubscribe, or on
// Close. The channel is closed in every case.
package broadcast
