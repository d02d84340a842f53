// Package handlers implements the HTTP surface: health probes, login and
// token refresh, the admin credential and session endpoints, and the
// WebSocket upgrade that hands off to the live connection loop.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/voxgate/voxgate/pkg/gateway/apierror"
	"github.com/voxgate/voxgate/pkg/gateway/mw"
)

const maxBodyBytes = 64 * 1024

func requestID(r *http.Request) string {
	id, _ := mw.RequestIDFrom(r.Context())
	return id
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON parses a bounded request body and rejects unknown fields so
// typos in admin payloads fail loudly instead of silently no-opping.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		apierror.WriteMessage(w, apierror.ErrInvalidRequest, "invalid request body", requestID(r), http.StatusBadRequest)
		return false
	}
	return true
}

type NotFoundHandler struct{}

func (h NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	apierror.WriteMessage(w, apierror.ErrNotFound, "not found", requestID(r), http.StatusNotFound)
}
