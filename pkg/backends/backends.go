// Package backends declares the external collaborator interfaces the live
// orchestrator talks to: text generation, speech synthesis, avatar streaming,
// and the response cache. Adapters live in subpackages; the orchestrator only
// sees these interfaces.
package backends

import (
	"context"
	"errors"
)

// ErrUnavailable reports that a backend could not serve the call. Avatar
// push failures wrapped in it trigger the per-turn audio fallback.
var ErrUnavailable = errors.New("backend unavailable")

// Turn is one entry of a connection's running chat history.
type Turn struct {
	Role string // "user" or "assistant"
	Text string
}

// Generator produces the assistant reply for a user message. History is the
// connection's prior turns, oldest first. A non-empty hint asks the backend
// to finish a previously truncated reply instead of starting fresh.
type Generator interface {
	Generate(ctx context.Context, text string, history []Turn, hint string) (string, error)
}

// Speech synthesizes spoken audio for a reply.
type Speech interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// StreamInfo identifies an open avatar stream.
type StreamInfo struct {
	StreamID  string
	SourceRef string
}

// AvatarStreamer is the talking-avatar channel, keyed by the caller's session
// key. Push failures are recoverable: the orchestrator falls back to audio
// for that turn rather than surfacing them.
type AvatarStreamer interface {
	Open(ctx context.Context, sessionKey string) (StreamInfo, error)
	Push(ctx context.Context, sessionKey, text string) error
	Close(ctx context.Context, sessionKey string) error
}

// ResponseCache memoizes generated replies. A cache error is never fatal to
// a turn; implementations log and report a miss.
type ResponseCache interface {
	Get(ctx context.Context, prompt string) (string, bool)
	Set(ctx context.Context, prompt, reply string)
}
