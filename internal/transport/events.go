// ABOUTME: Wire envelope and payload codecs for live channel events
// ABOUTME: Shared by the WebSocket client and the development server

package transport

import (
	"encoding/json"
	"fmt"

	"github.com/2389/coven-chat/internal/chat"
)

// Event type names.
const (
	EventMessageNew       = "message:new"
	EventPresenceSnapshot = "presence:snapshot"
	EventPresenceDelta    = "presence:delta"

	// FrameListen is the only client-to-server frame.
	FrameListen = "listen"
)

// Event is the envelope for every frame on the channel.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// PresenceDelta is the payload of presence:delta.
type PresenceDelta struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

// PresenceSnapshot is the payload of presence:snapshot.
type PresenceSnapshot struct {
	UserIDs []string `json:"userIds"`
}

// ListenRequest is the payload of a listen frame.
type ListenRequest struct {
	Events []string `json:"events"`
}

// NewEvent wraps payload in an envelope of the given type.
func NewEvent(eventType string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encoding %s payload: %w", eventType, err)
	}
	return Event{Type: eventType, Payload: raw}, nil
}

// DecodeMessage extracts the message from a message:new event.
func DecodeMessage(ev Event) (chat.Message, error) {
	var m chat.Message
	if err := decode(ev, EventMessageNew, &m); err != nil {
		return chat.Message{}, err
	}
	if m.ID == "" {
		return chat.Message{}, fmt.Errorf("decoding %s: missing id", ev.Type)
	}
	if !m.HasContent() {
		return chat.Message{}, fmt.Errorf("decoding %s: message %s has no text or image", ev.Type, m.ID)
	}
	m.State = chat.Confirmed
	return m, nil
}

// DecodePresenceSnapshot extracts the online ids from a presence:snapshot event.
func DecodePresenceSnapshot(ev Event) ([]string, error) {
	var p PresenceSnapshot
	if err := decode(ev, EventPresenceSnapshot, &p); err != nil {
		return nil, err
	}
	return p.UserIDs, nil
}

// DecodePresenceDelta extracts the change from a presence:delta event.
func DecodePresenceDelta(ev Event) (PresenceDelta, error) {
	var p PresenceDelta
	if err := decode(ev, EventPresenceDelta, &p); err != nil {
		return PresenceDelta{}, err
	}
	if p.UserID == "" {
		return PresenceDelta{}, fmt.Errorf("decoding %s: missing userId", ev.Type)
	}
	return p, nil
}

func decode(ev Event, want string, v any) error {
	if ev.Type != want {
		return fmt.Errorf("decoding %s: got event type %q", want, ev.Type)
	}
	if err := json.Unmarshal(ev.Payload, v); err != nil {
		return fmt.Errorf("decoding %s: %w", want, err)
	}
	return nil
}
