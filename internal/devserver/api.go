// ABOUTME: HTTP API handlers for users, history and idempotent message creation
// ABOUTME: Errors are JSON bodies of the form {"error": "..."}

package devserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/samber/lo"

	"github.com/2389/coven-chat/internal/api"
	"github.com/2389/coven-chat/internal/auth"
	"github.com/2389/coven-chat/internal/chat"
	"github.com/2389/coven-chat/internal/store"
)

const (
	defaultHistoryLimit = 500
	maxHistoryLimit     = 1000
	maxCreateBodyBytes  = 8 << 20
)

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		s.logger.Error("failed to list users", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// handleHistory handles GET /api/messages/{peerID}, optionally limited by ?limit=N.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	me, _ := auth.UserFromContext(r.Context())
	peerID, ok := s.resolvePeer(w, r, me)
	if !ok {
		return
	}

	limit := defaultHistoryLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			s.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(parsed, maxHistoryLimit)
	}

	msgs, err := s.store.ListConversation(r.Context(), me.ID, peerID, limit)
	if err != nil {
		s.logger.Error("failed to list conversation", "error", err, "user_id", me.ID, "peer_id", peerID)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	// Idempotency keys are private to their sender.
	msgs = lo.Map(msgs, func(m chat.Message, _ int) chat.Message {
		if m.SenderID != me.ID {
			m.CorrelationToken = ""
		}
		return m
	})
	writeJSON(w, http.StatusOK, msgs)
}

// handleCreate handles POST /api/messages/{peerID}. A repeated idempotency
// key from the same sender returns the originally created message with 200
// instead of 201 and does not publish again.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	me, _ := auth.UserFromContext(r.Context())

	if !s.limiter.allow(me.ID) {
		s.sendJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req api.CreateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCreateBodyBytes)).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	draft := chat.Draft{Text: req.Text, Image: req.Image}.Normalize()
	if err := draft.Validate(); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	peerID, ok := s.resolvePeer(w, r, me)
	if !ok {
		return
	}

	cacheKey := me.ID + "/" + req.IdempotencyKey
	if req.IdempotencyKey != "" {
		if id, hit := s.dedupe.Get(cacheKey); hit {
			existing, err := s.store.GetMessage(r.Context(), id)
			if err == nil {
				s.logger.Debug("duplicate create", "user_id", me.ID, "message_id", id)
				existing.CorrelationToken = req.IdempotencyKey
				writeJSON(w, http.StatusOK, existing)
				return
			}
			s.logger.Warn("dedupe entry without message", "message_id", id, "error", err)
		}
	}

	msg := chat.Message{
		ID:         s.newID(),
		SenderID:   me.ID,
		ReceiverID: peerID,
		Text:       draft.Text,
		ImageRef:   draft.Image,
		CreatedAt:  s.now(),
	}

	stored, created, err := s.store.SaveMessage(r.Context(), msg, req.IdempotencyKey)
	if err != nil {
		s.logger.Error("failed to save message", "error", err, "user_id", me.ID, "peer_id", peerID)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if req.IdempotencyKey != "" {
		s.dedupe.Put(cacheKey, stored.ID)
	}

	if !created {
		writeJSON(w, http.StatusOK, stored)
		return
	}

	s.hub.PublishMessage(stored)
	writeJSON(w, http.StatusCreated, stored)
}

// resolvePeer validates the {peerID} path value against the caller and the
// user table, writing the error response itself when it returns false.
func (s *Server) resolvePeer(w http.ResponseWriter, r *http.Request, me chat.User) (string, bool) {
	peerID := r.PathValue("peerID")
	if peerID == "" {
		s.sendJSONError(w, http.StatusBadRequest, "peer id is required")
		return "", false
	}
	if peerID == me.ID {
		s.sendJSONError(w, http.StatusBadRequest, "cannot open a conversation with yourself")
		return "", false
	}

	_, err := s.store.GetUser(r.Context(), peerID)
	if errors.Is(err, store.ErrNotFound) {
		s.sendJSONError(w, http.StatusNotFound, "user not found")
		return "", false
	}
	if err != nil {
		s.logger.Error("failed to get user", "error", err, "peer_id", peerID)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return "", false
	}
	return peerID, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// sendJSONError writes a JSON error response.
func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, api.ErrorResponse{Error: message})
}
