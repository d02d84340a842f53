package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/voxgate/voxgate/pkg/backends"
)

func TestGenerate(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "  Hello there.  "}},
			},
		})
	}))
	defer srv.Close()

	g := New(Config{APIKey: "test-key", BaseURL: srv.URL, SystemPrompt: "be brief"})
	history := []backends.Turn{
		{Role: "user", Text: "hi"},
		{Role: "assistant", Text: "hey"},
	}
	reply, err := g.Generate(context.Background(), "how are you?", history, "")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if reply != "Hello there." {
		t.Fatalf("reply = %q", reply)
	}

	want := []chatMessage{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hey"},
		{Role: "user", Content: "how are you?"},
	}
	if len(got.Messages) != len(want) {
		t.Fatalf("messages = %d, want %d", len(got.Messages), len(want))
	}
	for i := range want {
		if got.Messages[i] != want[i] {
			t.Errorf("message[%d] = %+v, want %+v", i, got.Messages[i], want[i])
		}
	}
}

func TestGenerateContinuationHint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)
		last := req.Messages[len(req.Messages)-1]
		if last.Content != "finish your last thought\n\ngo on" {
			t.Errorf("prompt = %q", last.Content)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": "done"}},
			},
		})
	}))
	defer srv.Close()

	g := New(Config{APIKey: "k", BaseURL: srv.URL})
	if _, err := g.Generate(context.Background(), "go on", nil, "finish your last thought"); err != nil {
		t.Fatalf("Generate: %v", err)
	}
}

func TestGenerateAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"type": "rate_limit_error", "message": "slow down"},
		})
	}))
	defer srv.Close()

	g := New(Config{APIKey: "k", BaseURL: srv.URL})
	_, err := g.Generate(context.Background(), "hi", nil, "")
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *Error", err)
	}
	if apiErr.Type != ErrRateLimit || !apiErr.IsRetryable() {
		t.Fatalf("apiErr = %+v", apiErr)
	}
}

func TestGenerateEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer srv.Close()

	g := New(Config{APIKey: "k", BaseURL: srv.URL})
	if _, err := g.Generate(context.Background(), "hi", nil, ""); !errors.Is(err, backends.ErrUnavailable) {
		t.Fatalf("error = %v, want ErrUnavailable", err)
	}
}
