package handlers

import (
	"log/slog"
	"net/http"

	"github.com/voxgate/voxgate/pkg/authority"
	"github.com/voxgate/voxgate/pkg/gateway/apierror"
	"github.com/voxgate/voxgate/pkg/token"
)

type loginRequest struct {
	Identity string `json:"identity"`
	Secret   string `json:"secret"`
}

// LoginHandler exchanges credentials for a long-lived user token. The token
// only proves identity; session and quota enforcement happen per connection.
type LoginHandler struct {
	Authority *authority.Authority
	Tokens    *token.Service
	Logger    *slog.Logger
}

func (h LoginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Identity == "" || req.Secret == "" {
		apierror.WriteMessage(w, apierror.ErrInvalidRequest, "identity and secret are required", requestID(r), http.StatusBadRequest)
		return
	}

	check, err := h.Authority.ValidateCredentials(r.Context(), req.Identity, req.Secret)
	if err != nil {
		apierror.Write(w, err, requestID(r))
		return
	}

	signed, err := h.Tokens.IssueUserToken(check.Identity)
	if err != nil {
		h.Logger.Error("user token issue failed", "identity", check.Identity, "error", err)
		apierror.Write(w, err, requestID(r))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token":    signed,
		"identity": check.Identity,
	})
}

// AdminLoginHandler authenticates the configured admin identity and issues
// an access/refresh token pair. Non-admin credentials are rejected even when
// valid; the regular login path serves those.
type AdminLoginHandler struct {
	Authority *authority.Authority
	Tokens    *token.Service
	Logger    *slog.Logger
}

func (h AdminLoginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Identity == "" || req.Secret == "" {
		apierror.WriteMessage(w, apierror.ErrInvalidRequest, "identity and secret are required", requestID(r), http.StatusBadRequest)
		return
	}

	check, err := h.Authority.ValidateCredentials(r.Context(), req.Identity, req.Secret)
	if err != nil {
		apierror.Write(w, err, requestID(r))
		return
	}
	if !check.IsAdmin {
		apierror.WriteMessage(w, apierror.ErrPermission, "admin credentials required", requestID(r), http.StatusForbidden)
		return
	}

	access, err := h.Tokens.IssueAdminAccessToken(check.Identity)
	if err != nil {
		h.Logger.Error("admin access token issue failed", "error", err)
		apierror.Write(w, err, requestID(r))
		return
	}
	refresh, err := h.Tokens.IssueAdminRefreshToken(check.Identity)
	if err != nil {
		h.Logger.Error("admin refresh token issue failed", "error", err)
		apierror.Write(w, err, requestID(r))
		return
	}

	h.Logger.Info("admin logged in", "identity", check.Identity, "request_id", requestID(r))
	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken":  access,
		"refreshToken": refresh,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// AdminRefreshHandler rotates an admin access/refresh pair.
type AdminRefreshHandler struct {
	Tokens *token.Service
}

func (h AdminRefreshHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		apierror.WriteMessage(w, apierror.ErrInvalidRequest, "refreshToken is required", requestID(r), http.StatusBadRequest)
		return
	}

	access, refresh, err := h.Tokens.RefreshAdmin(req.RefreshToken)
	if err != nil {
		apierror.Write(w, err, requestID(r))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken":  access,
		"refreshToken": refresh,
	})
}
