// Package did adapts the D-ID talks/streams API to the
// backends.AvatarStreamer interface. It keeps the sessionKey → stream binding
// so callers address streams by their own session key.
package did

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/voxgate/voxgate/pkg/backends"
)

const (
	// DefaultBaseURL is the default API endpoint.
	DefaultBaseURL = "https://api.d-id.com"

	// DefaultSourceURL is the presenter image used when none is configured.
	DefaultSourceURL = "https://create-images-results.d-id.com/DefaultPresenters/Emma_f/image.jpeg"
)

type Config struct {
	APIKey     string
	BaseURL    string
	SourceURL  string
	HTTPClient *http.Client
}

type Streamer struct {
	cfg        Config
	httpClient *http.Client

	mu      sync.Mutex
	streams map[string]streamBinding
}

type streamBinding struct {
	streamID  string
	sessionID string
}

func New(cfg Config) *Streamer {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.SourceURL == "" {
		cfg.SourceURL = DefaultSourceURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Streamer{
		cfg:        cfg,
		httpClient: httpClient,
		streams:    make(map[string]streamBinding),
	}
}

type createStreamResponse struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
}

// Open creates a new avatar stream and binds it to sessionKey. An existing
// binding for the key is closed first so a key never holds two streams.
func (s *Streamer) Open(ctx context.Context, sessionKey string) (backends.StreamInfo, error) {
	s.mu.Lock()
	old, had := s.streams[sessionKey]
	delete(s.streams, sessionKey)
	s.mu.Unlock()
	if had {
		s.deleteStream(ctx, old)
	}

	respBody, err := s.doRequest(ctx, http.MethodPost, "/talks/streams", map[string]any{
		"source_url": s.cfg.SourceURL,
	})
	if err != nil {
		return backends.StreamInfo{}, err
	}

	var created createStreamResponse
	if err := json.Unmarshal(respBody, &created); err != nil {
		return backends.StreamInfo{}, fmt.Errorf("unmarshal response: %w", err)
	}
	if created.ID == "" {
		return backends.StreamInfo{}, fmt.Errorf("d-id: stream without id: %w", backends.ErrUnavailable)
	}

	s.mu.Lock()
	s.streams[sessionKey] = streamBinding{streamID: created.ID, sessionID: created.SessionID}
	s.mu.Unlock()

	return backends.StreamInfo{StreamID: created.ID, SourceRef: s.cfg.SourceURL}, nil
}

// Push sends text for the avatar bound to sessionKey to speak.
func (s *Streamer) Push(ctx context.Context, sessionKey, text string) error {
	s.mu.Lock()
	binding, ok := s.streams[sessionKey]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("d-id: no stream for session: %w", backends.ErrUnavailable)
	}

	_, err := s.doRequest(ctx, http.MethodPost, "/talks/streams/"+binding.streamID, map[string]any{
		"script": map[string]any{
			"type":  "text",
			"input": text,
		},
		"session_id": binding.sessionID,
	})
	if err != nil {
		return fmt.Errorf("d-id: push: %w: %w", backends.ErrUnavailable, err)
	}
	return nil
}

// Close tears down the stream bound to sessionKey. Closing an unbound key is
// a no-op.
func (s *Streamer) Close(ctx context.Context, sessionKey string) error {
	s.mu.Lock()
	binding, ok := s.streams[sessionKey]
	delete(s.streams, sessionKey)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return s.deleteStream(ctx, binding)
}

func (s *Streamer) deleteStream(ctx context.Context, binding streamBinding) error {
	_, err := s.doRequest(ctx, http.MethodDelete, "/talks/streams/"+binding.streamID, map[string]any{
		"session_id": binding.sessionID,
	})
	return err
}

func (s *Streamer) doRequest(ctx context.Context, method, path string, payload map[string]any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, s.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(s.cfg.APIKey+":")))

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("d-id: status %d: %s", resp.StatusCode, respBody)
	}
	return respBody, nil
}
