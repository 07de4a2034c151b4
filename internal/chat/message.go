// ABOUTME: Core data types for peer conversations: users, messages, delivery states
// ABOUTME: Messages are keyed by peer and ordered by CreatedAt within a conversation

package chat

import "time"

// DeliveryState tracks where a message is in its send lifecycle.
type DeliveryState int

const (
	Pending DeliveryState = iota
	Confirmed
	Failed
)

func (s DeliveryState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Confirmed:
		return "confirmed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// User is a peer identity. Immutable once fetched.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarRef   string `json:"avatarRef,omitempty"`
}

// Message is a single timeline entry.
type Message struct {
	// ID is assigned by the server; empty until confirmed.
	ID string `json:"id,omitempty"`
	// PeerID keys the conversation this message belongs to: the other party
	// relative to the local user.
	PeerID     string    `json:"-"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Text       string    `json:"text,omitempty"`
	ImageRef   string    `json:"image,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`

	State            DeliveryState `json:"-"`
	CorrelationToken string        `json:"correlationToken,omitempty"`
	FailReason       string        `json:"-"`
}

// HasContent reports whether the message satisfies the text-or-image invariant.
func (m Message) HasContent() bool {
	return m.Text != "" || m.ImageRef != ""
}

// PeerFor returns the conversation key of a message from the point of view
// of localUserID.
func PeerFor(localUserID string, m Message) string {
	if m.SenderID == localUserID {
		return m.ReceiverID
	}
	return m.SenderID
}

// Status is the load state of a conversation.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusReady
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusReady:
		return "ready"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}
