// ABOUTME: Error taxonomy for the synchronization core
// ABOUTME: Sentinels are wrapped with detail and matched with errors.Is at boundaries

package chat

import "errors"

var (
	// ErrNetwork marks a transient request failure. History loads are retried
	// by re-selecting or refreshing; failed sends can be retried.
	ErrNetwork = errors.New("network error")

	// ErrValidation marks input rejected before any network call.
	ErrValidation = errors.New("validation error")

	// ErrTransport marks a live channel registration failure.
	ErrTransport = errors.New("transport error")

	// ErrEmptyDraft is returned for a draft with neither text nor image.
	ErrEmptyDraft = errors.New("draft has no text or image")

	// ErrNoActiveConversation is returned when an operation needs a selected peer.
	ErrNoActiveConversation = errors.New("no active conversation")

	// ErrUnknownToken is returned when a correlation token matches no entry.
	ErrUnknownToken = errors.New("unknown correlation token")
)
