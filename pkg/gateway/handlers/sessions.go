package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/voxgate/voxgate/pkg/authority"
	"github.com/voxgate/voxgate/pkg/gateway/apierror"
	"github.com/voxgate/voxgate/pkg/store"
)

// SessionsHandler is the admin view over sessions: list them, force one
// inactive, or delete (deactivate) one outright. Sessions are never
// reactivated; clients get a new one by authenticating again.
type SessionsHandler struct {
	Sessions  store.SessionStore
	Authority *authority.Authority
	Logger    *slog.Logger
}

type sessionResponse struct {
	SessionID          string    `json:"sessionId"`
	Identity           string    `json:"identity"`
	StartTime          time.Time `json:"startTime"`
	LastActivity       time.Time `json:"lastActivity"`
	MessageCount       int       `json:"messageCount"`
	Active             bool      `json:"active"`
	ConversationActive bool      `json:"conversationActive"`
	ConversationStart  time.Time `json:"conversationStart,omitzero"`
}

func (h SessionsHandler) List(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.Sessions.List(r.Context())
	if err != nil {
		h.Logger.Error("session list failed", "error", err)
		apierror.Write(w, err, requestID(r))
		return
	}

	out := make([]sessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sessionResponse{
			SessionID:          sess.ID,
			Identity:           sess.Identity,
			StartTime:          sess.StartTime,
			LastActivity:       sess.LastActivity,
			MessageCount:       sess.MessageCount,
			Active:             sess.Active,
			ConversationActive: sess.ConversationActive,
			ConversationStart:  sess.ConversationStart,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

type sessionStatusRequest struct {
	Active bool `json:"active"`
}

func (h SessionsHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	identity := r.PathValue("identity")

	var req sessionStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Active {
		apierror.WriteMessage(w, apierror.ErrInvalidRequest, "sessions cannot be reactivated", requestID(r), http.StatusBadRequest)
		return
	}

	if err := h.Authority.EndSession(r.Context(), identity); err != nil {
		apierror.Write(w, err, requestID(r))
		return
	}

	h.Logger.Info("session deactivated by admin", "identity", identity)
	writeJSON(w, http.StatusOK, map[string]any{"identity": identity, "active": false})
}

func (h SessionsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	identity := r.PathValue("identity")

	if err := h.Authority.EndSession(r.Context(), identity); err != nil {
		apierror.Write(w, err, requestID(r))
		return
	}

	h.Logger.Info("session deleted by admin", "identity", identity)
	w.WriteHeader(http.StatusNoContent)
}
