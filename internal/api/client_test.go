// ABOUTME: Tests for the HTTP request client
// ABOUTME: Uses httptest servers to check paths, auth and error mapping

package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chat/internal/chat"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestHistory_SetsPeerAndState(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/messages/bob", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, []chat.Message{
			{ID: "m1", SenderID: "bob", ReceiverID: "alice", Text: "hi", CreatedAt: created},
		})
	}))
	defer srv.Close()

	c := New(srv.URL+"/", "secret", nil, nil)
	msgs, err := c.History(t.Context(), "bob")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "bob", msgs[0].PeerID)
	assert.Equal(t, chat.Confirmed, msgs[0].State)
	assert.True(t, created.Equal(msgs[0].CreatedAt))
}

func TestCreate_SendsIdempotencyKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req CreateRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "hello", req.Text)
		assert.Equal(t, "tok-1", req.IdempotencyKey)

		writeJSON(w, http.StatusCreated, chat.Message{
			ID: "m9", SenderID: "alice", ReceiverID: "bob", Text: req.Text,
			CreatedAt: time.Now().UTC(), CorrelationToken: req.IdempotencyKey,
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "", nil, nil)
	m, err := c.Create(t.Context(), "bob", chat.Draft{Text: "hello"}, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "m9", m.ID)
	assert.Equal(t, "bob", m.PeerID)
	assert.Equal(t, chat.Confirmed, m.State)
	assert.Equal(t, "tok-1", m.CorrelationToken)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"bad request", http.StatusBadRequest, chat.ErrValidation},
		{"unprocessable", http.StatusUnprocessableEntity, chat.ErrValidation},
		{"unauthorized", http.StatusUnauthorized, ErrUnauthorized},
		{"server error", http.StatusInternalServerError, chat.ErrNetwork},
		{"unavailable", http.StatusServiceUnavailable, chat.ErrNetwork},
		{"not found", http.StatusNotFound, ErrRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, tt.status, ErrorResponse{Error: "nope"})
			}))
			defer srv.Close()

			_, err := New(srv.URL, "", nil, nil).History(t.Context(), "bob")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Contains(t, err.Error(), "nope")
		})
	}
}

func TestConnectionFailureIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url, "", nil, nil).Users(t.Context())
	require.Error(t, err)
	assert.ErrorIs(t, err, chat.ErrNetwork)
}

func TestCreate_MissingIDIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, chat.Message{Text: "x"})
	}))
	defer srv.Close()

	_, err := New(srv.URL, "", nil, nil).Create(t.Context(), "bob", chat.Draft{Text: "x"}, "k")
	assert.ErrorIs(t, err, chat.ErrNetwork)
}

func TestMeAndUsers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/me":
			writeJSON(w, http.StatusOK, chat.User{ID: "alice", DisplayName: "Alice"})
		case "/api/users":
			writeJSON(w, http.StatusOK, []chat.User{{ID: "alice"}, {ID: "bob", DisplayName: "Bob"}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "t", nil, nil)
	me, err := c.Me(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "Alice", me.DisplayName)

	users, err := c.Users(t.Context())
	require.NoError(t, err)
	assert.Len(t, users, 2)
}
