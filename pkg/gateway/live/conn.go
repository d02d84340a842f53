// Package live implements the per-connection conversation orchestrator: one
// Conn per WebSocket, gating every inbound event against the session
// authority and coordinating the generation, speech and avatar backends.
package live

import (
	"context"
	"encoding/base64"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/voxgate/voxgate/pkg/authority"
	"github.com/voxgate/voxgate/pkg/backends"
	"github.com/voxgate/voxgate/pkg/gateway/live/protocol"
	"github.com/voxgate/voxgate/pkg/stale"
)

// Backends bundles the external collaborators a connection talks to. Avatar
// and Cache may be nil; the orchestrator degrades to audio-only and uncached.
type Backends struct {
	Generator backends.Generator
	Speech    backends.Speech
	Avatar    backends.AvatarStreamer
	Cache     backends.ResponseCache
}

type Config struct {
	WriteTimeout time.Duration
	PingInterval time.Duration
	TickInterval time.Duration
	TurnTimeout  time.Duration
}

// Conn is the in-memory state of one live connection. All of it is discarded
// on disconnect; session state lives in the authority, not here.
type Conn struct {
	id     string
	ws     *websocket.Conn
	auth   *authority.Authority
	stale  *stale.Tracker
	be     Backends
	cfg    Config
	logger *slog.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	identity string
	isAdmin  bool
	mode     string
	streamID string
	history  []backends.Turn

	tickCancel context.CancelFunc
}

func NewConn(ws *websocket.Conn, auth *authority.Authority, staleTracker *stale.Tracker, be Backends, cfg Config, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 25 * time.Second
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = 30 * time.Second
	}
	id := "conn_" + uuid.NewString()
	return &Conn{
		id:     id,
		ws:     ws,
		auth:   auth,
		stale:  staleTracker,
		be:     be,
		cfg:    cfg,
		logger: logger.With("conn_id", id),
		mode:   protocol.ModeAudio,
	}
}

// ID identifies the connection for tracking and avatar-stream binding.
func (c *Conn) ID() string { return c.id }

// Warn pushes a server notice; used during graceful shutdown.
func (c *Conn) Warn(code, message string) error {
	return c.send(protocol.EventError, protocol.ErrorEvent{Message: code + ": " + message})
}

// Run processes inbound frames until the socket closes or ctx ends. It owns
// the read side; all writes go through send's write lock.
func (c *Conn) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.cleanup()

	go func() {
		<-ctx.Done()
		_ = c.ws.Close()
	}()

	// WriteControl is safe alongside WriteMessage, so pings do not need the
	// write lock.
	go func() {
		ticker := time.NewTicker(c.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout))
			}
		}
	}()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("websocket read failed", "error", err)
			}
			return
		}

		msg, err := protocol.DecodeClientFrame(data)
		if err != nil {
			_ = c.send(protocol.EventError, protocol.ErrorEvent{Message: err.Error()})
			continue
		}

		switch ev := msg.(type) {
		case protocol.Authenticate:
			c.handleAuthenticate(ctx, ev)
		case protocol.StartConversation:
			c.handleStartConversation(ctx)
		case protocol.StopConversation:
			c.handleStopConversation(ctx)
		case protocol.GetConversationTime:
			c.handleGetConversationTime(ctx)
		case protocol.GetSessionInfo:
			c.handleGetSessionInfo(ctx)
		case protocol.SetConversationType:
			c.handleSetConversationType(ctx, ev)
		case protocol.TextMessage:
			c.handleTextMessage(ctx, ev)
		}
	}
}

// cleanup runs on disconnect. The avatar teardown is fire-and-forget: it must
// not delay the disconnect path, and its failure is logged, not propagated.
// The authority session is deliberately left alone; only expiry, explicit
// stop, or the reaper end it.
func (c *Conn) cleanup() {
	c.mu.Lock()
	streamID := c.streamID
	c.streamID = ""
	c.history = nil
	if c.tickCancel != nil {
		c.tickCancel()
		c.tickCancel = nil
	}
	c.mu.Unlock()

	if streamID != "" && c.be.Avatar != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := c.be.Avatar.Close(ctx, c.id); err != nil {
				c.logger.Warn("avatar close on disconnect failed", "error", err)
			}
		}()
	}
	if c.stale != nil {
		c.stale.Forget(c.id)
	}
}

func (c *Conn) send(event string, payload any) error {
	data, err := protocol.EncodeFrame(event, payload)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *Conn) boundIdentity() (identity string, isAdmin, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity, c.isAdmin, c.identity != ""
}

func (c *Conn) handleAuthenticate(ctx context.Context, ev protocol.Authenticate) {
	check, err := c.auth.ValidateCredentials(ctx, ev.Identity, ev.Secret)
	if err != nil {
		_ = c.send(protocol.EventAuthError, protocol.AuthError{Message: authority.MessageOf(err)})
		return
	}

	grant, err := c.auth.CreateSession(ctx, check.Identity)
	if err != nil {
		_ = c.send(protocol.EventAuthError, protocol.AuthError{Message: authority.MessageOf(err)})
		return
	}

	c.mu.Lock()
	c.identity = check.Identity
	c.isAdmin = check.IsAdmin
	c.history = nil
	c.mu.Unlock()

	c.logger.Info("connection authenticated", "identity", check.Identity, "admin", check.IsAdmin)
	_ = c.send(protocol.EventAuthSuccess, protocol.AuthSuccess{
		SessionID:     grant.SessionID,
		ExpiresAt:     grant.ExpiresAt.UnixMilli(),
		TimeRemaining: c.auth.SessionDuration().Milliseconds(),
	})
}

func (c *Conn) handleStartConversation(ctx context.Context) {
	identity, _, ok := c.boundIdentity()
	if !ok {
		_ = c.send(protocol.EventConversationError, protocol.ConversationError{Message: "authentication required"})
		return
	}

	start, err := c.auth.StartConversation(ctx, identity)
	if err != nil {
		_ = c.send(protocol.EventConversationError, protocol.ConversationError{Message: authority.MessageOf(err)})
		return
	}

	c.startTicker(ctx)
	_ = c.send(protocol.EventConversationStarted, protocol.ConversationStarted{
		SessionID:     start.SessionID,
		MessageCount:  start.MessageCount,
		TimeRemaining: start.TimeRemaining.Milliseconds(),
	})
}

func (c *Conn) handleStopConversation(ctx context.Context) {
	identity, _, ok := c.boundIdentity()
	if !ok {
		_ = c.send(protocol.EventConversationError, protocol.ConversationError{Message: "authentication required"})
		return
	}

	c.stopTicker()
	if err := c.auth.StopConversation(ctx, identity); err != nil {
		_ = c.send(protocol.EventConversationError, protocol.ConversationError{Message: authority.MessageOf(err)})
		return
	}
	_ = c.send(protocol.EventConversationStopped, protocol.ConversationStopped{Success: true})
}

func (c *Conn) handleGetConversationTime(ctx context.Context) {
	identity, _, ok := c.boundIdentity()
	if !ok {
		_ = c.send(protocol.EventConversationTimeUpdate, protocol.ConversationTimeUpdate{})
		return
	}

	clock, err := c.auth.ConversationTimeRemaining(ctx, identity)
	if err != nil {
		_ = c.send(protocol.EventError, protocol.ErrorEvent{Message: authority.MessageOf(err)})
		return
	}
	_ = c.send(protocol.EventConversationTimeUpdate, protocol.ConversationTimeUpdate{
		TimeRemaining: clock.Remaining.Milliseconds(),
		IsActive:      clock.Active,
	})
}

func (c *Conn) handleGetSessionInfo(ctx context.Context) {
	identity, _, ok := c.boundIdentity()
	if !ok {
		_ = c.send(protocol.EventError, protocol.ErrorEvent{Message: "authentication required"})
		return
	}

	info, err := c.auth.SessionInfo(ctx, identity)
	if err != nil {
		_ = c.send(protocol.EventError, protocol.ErrorEvent{Message: authority.MessageOf(err)})
		return
	}
	_ = c.send(protocol.EventSessionInfo, protocol.SessionInfo{
		SessionID:     info.SessionID,
		MessageCount:  info.MessageCount,
		TimeRemaining: info.TimeRemaining.Milliseconds(),
	})
}

// handleSetConversationType switches between audio and video. A failed
// avatar open keeps the video intent: the connection emits stream_error and
// every turn falls back to audio until a later open succeeds.
func (c *Conn) handleSetConversationType(ctx context.Context, ev protocol.SetConversationType) {
	if _, _, ok := c.boundIdentity(); !ok {
		_ = c.send(protocol.EventError, protocol.ErrorEvent{Message: "authentication required"})
		return
	}

	if ev.Type == protocol.ModeAudio {
		c.mu.Lock()
		streamID := c.streamID
		c.mode = protocol.ModeAudio
		c.streamID = ""
		c.mu.Unlock()

		if streamID != "" && c.be.Avatar != nil {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := c.be.Avatar.Close(ctx, c.id); err != nil {
					c.logger.Warn("avatar close failed", "error", err)
				}
			}()
		}
		return
	}

	c.mu.Lock()
	c.mode = protocol.ModeVideo
	c.mu.Unlock()

	if c.be.Avatar == nil {
		_ = c.send(protocol.EventStreamError, protocol.StreamError{Message: "avatar streaming is not configured"})
		return
	}

	info, err := c.be.Avatar.Open(ctx, c.id)
	if err != nil {
		c.logger.Warn("avatar open failed", "error", err)
		_ = c.send(protocol.EventStreamError, protocol.StreamError{Message: "failed to open avatar stream"})
		return
	}

	c.mu.Lock()
	c.streamID = info.StreamID
	c.mu.Unlock()

	_ = c.send(protocol.EventStreamSetup, protocol.StreamSetup{StreamID: info.StreamID, SourceRef: info.SourceRef})
	_ = c.send(protocol.EventStreamReady, nil)
}

func (c *Conn) handleTextMessage(ctx context.Context, ev protocol.TextMessage) {
	identity, isAdmin, ok := c.boundIdentity()
	if !ok {
		_ = c.send(protocol.EventError, protocol.ErrorEvent{Message: "authentication required"})
		return
	}

	// Admin turns skip per-message gating; user turns are validated against
	// the session clock and message ceiling before any backend work.
	if !isAdmin {
		if _, err := c.auth.ValidateSession(ctx, identity); err != nil {
			c.expire(authority.MessageOf(err))
			return
		}
		if _, err := c.auth.IncrementMessageCount(ctx, identity); err != nil {
			c.expire(authority.MessageOf(err))
			return
		}
	}

	turnCtx, cancel := context.WithTimeout(ctx, c.cfg.TurnTimeout)
	defer cancel()

	var hint string
	if c.stale != nil {
		hint, _ = c.stale.ContinuationHint(c.id)
	}

	c.mu.Lock()
	history := make([]backends.Turn, len(c.history))
	copy(history, c.history)
	c.mu.Unlock()

	reply, cached := "", false
	if hint == "" && c.be.Cache != nil {
		reply, cached = c.be.Cache.Get(turnCtx, ev.Text)
	}
	if !cached {
		var err error
		reply, err = c.be.Generator.Generate(turnCtx, ev.Text, history, hint)
		if err != nil {
			c.logger.Error("generation failed", "error", err)
			_ = c.send(protocol.EventError, protocol.ErrorEvent{Message: "failed to generate a response"})
			return
		}
		if hint == "" && c.be.Cache != nil {
			c.be.Cache.Set(turnCtx, ev.Text, reply)
		}
	}

	if c.stale != nil {
		c.stale.RecordIfIncomplete(c.id, reply)
	}

	c.mu.Lock()
	c.history = append(c.history, backends.Turn{Role: "user", Text: ev.Text}, backends.Turn{Role: "assistant", Text: reply})
	mode, streamID := c.mode, c.streamID
	c.mu.Unlock()

	remaining := int64(0)
	if clock, err := c.auth.ConversationTimeRemaining(ctx, identity); err == nil {
		remaining = clock.Remaining.Milliseconds()
	}
	_ = c.send(protocol.EventAIResponse, protocol.AIResponse{Text: reply, TimeRemaining: remaining})

	c.dispatchOutput(turnCtx, mode, streamID, reply)
}

// dispatchOutput delivers the spoken form of reply. Video with a bound
// stream tries the avatar first; any failure falls back to audio for this
// turn so the user never gets silence.
func (c *Conn) dispatchOutput(ctx context.Context, mode, streamID, reply string) {
	if mode == protocol.ModeVideo && streamID != "" && c.be.Avatar != nil {
		err := c.be.Avatar.Push(ctx, c.id, reply)
		if err == nil {
			return
		}
		c.logger.Warn("avatar push failed, falling back to audio", "error", err)
		_ = c.send(protocol.EventStreamFallback, protocol.StreamFallback{Message: "avatar stream unavailable, falling back to audio"})
	}

	if c.be.Speech == nil {
		return
	}
	audio, err := c.be.Speech.Synthesize(ctx, reply)
	if err != nil {
		c.logger.Error("speech synthesis failed", "error", err)
		_ = c.send(protocol.EventError, protocol.ErrorEvent{Message: "failed to synthesize audio"})
		return
	}
	_ = c.send(protocol.EventAIAudio, protocol.AIAudio{AudioBase64: base64.StdEncoding.EncodeToString(audio)})
}

// expire pushes the terminal expiry event and unbinds the identity, forcing
// re-authentication before any further gated event.
func (c *Conn) expire(message string) {
	c.stopTicker()

	c.mu.Lock()
	c.identity = ""
	c.isAdmin = false
	c.history = nil
	c.mu.Unlock()

	_ = c.send(protocol.EventSessionExpired, protocol.SessionExpired{Message: message, TimeRemaining: 0})
}

// startTicker emits conversation_time_update on the configured interval
// while the conversation runs, and forces expiry when the clock hits zero.
func (c *Conn) startTicker(ctx context.Context) {
	c.stopTicker()

	tickCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.tickCancel = cancel
	c.mu.Unlock()

	identity, isAdmin, _ := c.boundIdentity()

	go func() {
		ticker := time.NewTicker(c.cfg.TickInterval)
		defer ticker.Stop()

		for {
			select {
			case <-tickCtx.Done():
				return
			case <-ticker.C:
				clock, err := c.auth.ConversationTimeRemaining(tickCtx, identity)
				if err != nil {
					continue
				}
				if !clock.Active {
					return
				}
				if clock.Remaining <= 0 && !isAdmin {
					_ = c.auth.StopConversation(tickCtx, identity)
					_ = c.auth.EndSession(tickCtx, identity)
					c.expire("session expired")
					return
				}
				_ = c.send(protocol.EventConversationTimeUpdate, protocol.ConversationTimeUpdate{
					TimeRemaining: clock.Remaining.Milliseconds(),
					IsActive:      true,
				})
			}
		}
	}()
}

func (c *Conn) stopTicker() {
	c.mu.Lock()
	if c.tickCancel != nil {
		c.tickCancel()
		c.tickCancel = nil
	}
	c.mu.Unlock()
}
