package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/voxgate/voxgate/pkg/authority"
	"github.com/voxgate/voxgate/pkg/gateway/apierror"
	"github.com/voxgate/voxgate/pkg/gateway/config"
	"github.com/voxgate/voxgate/pkg/gateway/lifecycle"
	"github.com/voxgate/voxgate/pkg/gateway/live"
	"github.com/voxgate/voxgate/pkg/gateway/live/conns"
	"github.com/voxgate/voxgate/pkg/stale"
)

const maxFrameBytes = 64 * 1024

// LiveHandler upgrades /ws requests and runs one live.Conn per socket until
// the client disconnects or the gateway drains.
type LiveHandler struct {
	Config    config.Config
	Authority *authority.Authority
	Stale     *stale.Tracker
	Backends  live.Backends
	Conns     *conns.Tracker
	Lifecycle *lifecycle.Lifecycle
	Logger    *slog.Logger
}

func (h LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Lifecycle != nil && h.Lifecycle.IsDraining() {
		apierror.WriteMessage(w, apierror.ErrAPI, "gateway is draining", requestID(r), http.StatusServiceUnavailable)
		return
	}
	if !h.originAllowed(r) {
		apierror.WriteMessage(w, apierror.ErrPermission, "origin is not allowed", requestID(r), http.StatusForbidden)
		return
	}

	// Origin was checked above with the CORS allowlist semantics; gorilla's
	// default same-origin check would reject the allowlisted dashboards.
	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	ws.SetReadLimit(maxFrameBytes)

	conn := live.NewConn(ws, h.Authority, h.Stale, h.Backends, live.Config{
		WriteTimeout: h.Config.WSWriteTimeout,
		PingInterval: h.Config.WSPingInterval,
		TickInterval: h.Config.TimeTickInterval,
		TurnTimeout:  h.Config.TurnTimeout,
	}, h.Logger)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if h.Conns != nil {
		unregister := h.Conns.Register(conn.ID(), conns.Handle{
			Cancel: cancel,
			Warn:   conn.Warn,
		})
		defer unregister()
	}

	conn.Run(ctx)
}

func (h LiveHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if len(h.Config.CORSAllowedOrigins) == 0 {
		return false
	}
	_, ok := h.Config.CORSAllowedOrigins[origin]
	return ok
}
