// ABOUTME: Per-peer conversation state with token and id indexes
// ABOUTME: Keeps entries ordered by CreatedAt with arrival order breaking ties

package timeline

import (
	"slices"

	"github.com/2389/coven-chat/internal/chat"
)

// entry is one timeline slot. stamp is the store counter value at the time
// the slot was last confirmed or inserted.
type entry struct {
	msg   chat.Message
	stamp uint64
}

type conversation struct {
	peerID  string
	entries []*entry
	byToken map[string]*entry
	byID    map[string]*entry

	status chat.Status
	err    error
	stale  bool

	// seq is the latest load sequence issued for this peer; loadMark is the
	// store stamp counter at the time it was issued.
	seq      uint64
	loadMark uint64
}

func newConversation(peerID string) *conversation {
	return &conversation{
		peerID:  peerID,
		byToken: make(map[string]*entry),
		byID:    make(map[string]*entry),
	}
}

// insert places e after every entry with an equal or earlier CreatedAt, so
// ties keep arrival order. The scan runs from the tail since live arrivals
// are almost always the newest.
func (c *conversation) insert(e *entry) {
	i := len(c.entries)
	for i > 0 && e.msg.CreatedAt.Before(c.entries[i-1].msg.CreatedAt) {
		i--
	}
	c.entries = slices.Insert(c.entries, i, e)
	c.index(e)
}

func (c *conversation) index(e *entry) {
	if e.msg.ID != "" {
		c.byID[e.msg.ID] = e
	}
	if e.msg.State != chat.Confirmed && e.msg.CorrelationToken != "" {
		c.byToken[e.msg.CorrelationToken] = e
	}
}

func (c *conversation) remove(e *entry) {
	if i := slices.Index(c.entries, e); i >= 0 {
		c.entries = slices.Delete(c.entries, i, i+1)
	}
	if e.msg.ID != "" && c.byID[e.msg.ID] == e {
		delete(c.byID, e.msg.ID)
	}
	if e.msg.CorrelationToken != "" && c.byToken[e.msg.CorrelationToken] == e {
		delete(c.byToken, e.msg.CorrelationToken)
	}
}

func (c *conversation) reindex() {
	clear(c.byToken)
	clear(c.byID)
	for _, e := range c.entries {
		c.index(e)
	}
}

// trim evicts the oldest confirmed entries until at most limit remain.
// Pending and failed entries are never evicted.
func (c *conversation) trim(limit int) {
	if limit <= 0 || len(c.entries) <= limit {
		return
	}
	excess := len(c.entries) - limit
	kept := c.entries[:0]
	for _, e := range c.entries {
		if excess > 0 && e.msg.State == chat.Confirmed {
			excess--
			delete(c.byID, e.msg.ID)
			continue
		}
		kept = append(kept, e)
	}
	clear(c.entries[len(kept):])
	c.entries = kept
}

func (c *conversation) messages() []chat.Message {
	out := make([]chat.Message, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.msg
	}
	return out
}
