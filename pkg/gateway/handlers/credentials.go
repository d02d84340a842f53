package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/voxgate/voxgate/pkg/authority"
	"github.com/voxgate/voxgate/pkg/gateway/apierror"
	"github.com/voxgate/voxgate/pkg/store"
)

// CredentialsHandler is the admin CRUD surface for user credentials.
// Plaintext secrets are accepted on the wire and hashed before they reach
// the store; responses never include the stored hash.
type CredentialsHandler struct {
	Creds     store.CredentialStore
	Authority *authority.Authority
	Logger    *slog.Logger
}

type credentialResponse struct {
	Identity     string    `json:"identity"`
	Active       bool      `json:"active"`
	SessionLimit int       `json:"sessionLimit"`
	SessionsUsed int       `json:"sessionsUsed"`
	LastUsed     time.Time `json:"lastUsed,omitzero"`
	CreatedAt    time.Time `json:"createdAt,omitzero"`
	UpdatedAt    time.Time `json:"updatedAt,omitzero"`
}

func toCredentialResponse(cred store.Credential) credentialResponse {
	return credentialResponse{
		Identity:     cred.Identity,
		Active:       cred.Active,
		SessionLimit: cred.SessionLimit,
		SessionsUsed: cred.SessionsUsed,
		LastUsed:     cred.LastUsed,
		CreatedAt:    cred.CreatedAt,
		UpdatedAt:    cred.UpdatedAt,
	}
}

func (h CredentialsHandler) List(w http.ResponseWriter, r *http.Request) {
	creds, err := h.Creds.List(r.Context())
	if err != nil {
		h.Logger.Error("credential list failed", "error", err)
		apierror.Write(w, err, requestID(r))
		return
	}

	out := make([]credentialResponse, 0, len(creds))
	for _, cred := range creds {
		out = append(out, toCredentialResponse(cred))
	}
	writeJSON(w, http.StatusOK, map[string]any{"credentials": out})
}

type createCredentialRequest struct {
	Identity     string `json:"identity"`
	Secret       string `json:"secret"`
	SessionLimit int    `json:"sessionLimit"`
}

func (h CredentialsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createCredentialRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Identity == "" || req.Secret == "" {
		apierror.WriteMessage(w, apierror.ErrInvalidRequest, "identity and secret are required", requestID(r), http.StatusBadRequest)
		return
	}
	if req.SessionLimit <= 0 {
		req.SessionLimit = 1
	}

	hash, err := authority.HashSecret(req.Secret)
	if err != nil {
		h.Logger.Error("secret hash failed", "error", err)
		apierror.Write(w, err, requestID(r))
		return
	}

	cred := store.Credential{
		Identity:     req.Identity,
		Secret:       hash,
		Active:       true,
		SessionLimit: req.SessionLimit,
	}
	if err := h.Creds.Create(r.Context(), cred); err != nil {
		apierror.Write(w, err, requestID(r))
		return
	}

	h.Logger.Info("credential created", "identity", req.Identity, "session_limit", req.SessionLimit)
	writeJSON(w, http.StatusCreated, toCredentialResponse(cred))
}

type updateCredentialRequest struct {
	Secret       *string `json:"secret"`
	Active       *bool   `json:"active"`
	SessionLimit *int    `json:"sessionLimit"`
}

func (h CredentialsHandler) Update(w http.ResponseWriter, r *http.Request) {
	identity := r.PathValue("identity")

	var req updateCredentialRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Secret == nil && req.Active == nil && req.SessionLimit == nil {
		apierror.WriteMessage(w, apierror.ErrInvalidRequest, "no fields to update", requestID(r), http.StatusBadRequest)
		return
	}
	if req.SessionLimit != nil && *req.SessionLimit <= 0 {
		apierror.WriteMessage(w, apierror.ErrInvalidRequest, "sessionLimit must be positive", requestID(r), http.StatusBadRequest)
		return
	}

	patch := store.CredentialPatch{Active: req.Active, SessionLimit: req.SessionLimit}
	if req.Secret != nil {
		if *req.Secret == "" {
			apierror.WriteMessage(w, apierror.ErrInvalidRequest, "secret must not be empty", requestID(r), http.StatusBadRequest)
			return
		}
		hash, err := authority.HashSecret(*req.Secret)
		if err != nil {
			h.Logger.Error("secret hash failed", "error", err)
			apierror.Write(w, err, requestID(r))
			return
		}
		patch.Secret = &hash
	}

	if err := h.Creds.Update(r.Context(), identity, patch); err != nil {
		apierror.Write(w, err, requestID(r))
		return
	}

	cred, err := h.Creds.Get(r.Context(), identity)
	if err != nil {
		apierror.Write(w, err, requestID(r))
		return
	}

	h.Logger.Info("credential updated", "identity", identity)
	writeJSON(w, http.StatusOK, toCredentialResponse(cred))
}

func (h CredentialsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	identity := r.PathValue("identity")

	// Any live session dies with the credential.
	if err := h.Authority.EndSession(r.Context(), identity); err != nil {
		apierror.Write(w, err, requestID(r))
		return
	}
	if err := h.Creds.Delete(r.Context(), identity); err != nil {
		apierror.Write(w, err, requestID(r))
		return
	}

	h.Logger.Info("credential deleted", "identity", identity)
	w.WriteHeader(http.StatusNoContent)
}

// ResetSessions zeroes the identity's usage counter and deactivates its
// session so the reset takes effect immediately.
func (h CredentialsHandler) ResetSessions(w http.ResponseWriter, r *http.Request) {
	identity := r.PathValue("identity")

	if err := h.Authority.ResetSessionsUsed(r.Context(), identity); err != nil {
		apierror.Write(w, err, requestID(r))
		return
	}

	h.Logger.Info("sessions reset", "identity", identity)
	writeJSON(w, http.StatusOK, map[string]any{"identity": identity, "sessionsUsed": 0})
}
