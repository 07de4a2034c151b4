// ABOUTME: Tests for draft normalization and validation
// ABOUTME: Covers empty drafts, oversized text, image data URIs and URL references

package chat

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 1x1 transparent PNG.
var pngBytes = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0d, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

func TestDraft_NormalizeTrimsText(t *testing.T) {
	d := Draft{Text: "  hi there \n"}.Normalize()
	assert.Equal(t, "hi there", d.Text)
}

func TestDraft_EmptyIsRejected(t *testing.T) {
	err := Draft{Text: "   "}.Normalize().Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
	assert.ErrorIs(t, err, ErrEmptyDraft)
}

func TestDraft_TextOnly(t *testing.T) {
	assert.NoError(t, Draft{Text: "hi"}.Validate())
}

func TestDraft_TextTooLong(t *testing.T) {
	err := Draft{Text: strings.Repeat("a", MaxTextLength+1)}.Validate()
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDraft_ImageDataURI(t *testing.T) {
	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes)
	assert.NoError(t, Draft{Image: uri}.Validate())
}

func TestDraft_NonImageDataURIRejected(t *testing.T) {
	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("just some text"))
	err := Draft{Image: uri}.Validate()
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDraft_ImageURL(t *testing.T) {
	assert.NoError(t, Draft{Image: "https://cdn.example.com/a.png", Text: "look"}.Validate())
}

func TestDraft_ImageNotAURI(t *testing.T) {
	err := Draft{Image: "not a uri"}.Validate()
	assert.ErrorIs(t, err, ErrValidation)
}

func TestPeerFor(t *testing.T) {
	in := Message{SenderID: "bob", ReceiverID: "alice"}
	out := Message{SenderID: "alice", ReceiverID: "bob"}

	assert.Equal(t, "bob", PeerFor("alice", in))
	assert.Equal(t, "bob", PeerFor("alice", out))
}
