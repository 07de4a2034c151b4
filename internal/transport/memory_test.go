// ABOUTME: Tests for the in-process channel
// ABOUTME: Covers delivery filtering, state observers and registration failures

package transport

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chat/internal/chat"
)

func TestMemoryChannel_EmitFiltersByEvent(t *testing.T) {
	ch := NewMemoryChannel(true)

	var got []string
	_, err := ch.Register([]string{EventPresenceDelta}, func(ev Event) { got = append(got, ev.Type) })
	require.NoError(t, err)

	ch.Emit(Event{Type: EventMessageNew})
	ch.Emit(Event{Type: EventPresenceDelta})

	assert.Equal(t, []string{EventPresenceDelta}, got)
}

func TestMemoryChannel_DisconnectDropsListenersWithoutAutoResubscribe(t *testing.T) {
	ch := NewMemoryChannel(false)
	_, err := ch.Register([]string{EventMessageNew}, func(Event) {})
	require.NoError(t, err)

	var states []State
	cancel := ch.OnState(func(s State) { states = append(states, s) })

	ch.SetConnected(false)
	ch.SetConnected(false)
	ch.SetConnected(true)
	cancel()
	ch.SetConnected(false)

	assert.Equal(t, []State{StateDisconnected, StateConnected}, states)
	assert.Equal(t, 0, ch.Listeners())
}

func TestMemoryChannel_AutoResubscribeKeepsListeners(t *testing.T) {
	ch := NewMemoryChannel(true)
	_, err := ch.Register([]string{EventMessageNew}, func(Event) {})
	require.NoError(t, err)

	ch.SetConnected(false)
	ch.SetConnected(true)

	assert.Equal(t, 1, ch.Listeners())
}

func TestMemoryChannel_FailRegistrations(t *testing.T) {
	ch := NewMemoryChannel(true)
	ch.FailRegistrations(errors.New("boom"))

	_, err := ch.Register([]string{EventMessageNew}, func(Event) {})
	require.Error(t, err)
	assert.ErrorIs(t, err, chat.ErrTransport)
	assert.Equal(t, 0, ch.Registrations())

	ch.FailRegistrations(nil)
	_, err = ch.Register([]string{EventMessageNew}, func(Event) {})
	require.NoError(t, err)
	assert.Equal(t, 1, ch.Registrations())
}

func TestDecodePresenceDelta_RequiresUser(t *testing.T) {
	ev, err := NewEvent(EventPresenceDelta, PresenceDelta{Online: true})
	require.NoError(t, err)

	_, err = DecodePresenceDelta(ev)
	assert.Error(t, err)

	_, err = DecodePresenceSnapshot(ev)
	assert.Error(t, err, "wrong event type")
}
