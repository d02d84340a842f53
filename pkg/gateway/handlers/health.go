package handlers

import (
	"net/http"

	"github.com/voxgate/voxgate/pkg/gateway/lifecycle"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// ReadyHandler reports 503 once draining starts so load balancers stop
// routing new clients to an instance that is shutting down.
type ReadyHandler struct {
	Lifecycle *lifecycle.Lifecycle
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK       bool `json:"ok"`
		Draining bool `json:"draining,omitempty"`
	}

	if h.Lifecycle.IsDraining() {
		writeJSON(w, http.StatusServiceUnavailable, readyResp{OK: false, Draining: true})
		return
	}
	writeJSON(w, http.StatusOK, readyResp{OK: true})
}
