// Package gemini adapts Google Gemini to the backends.Generator interface.
package gemini

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/voxgate/voxgate/pkg/backends"
)

const (
	// DefaultModel is used when the config names no model.
	DefaultModel = "gemini-2.0-flash"

	// DefaultSystemPrompt keeps replies short enough for speech synthesis.
	DefaultSystemPrompt = "You are a friendly, concise voice assistant. " +
		"Answer in two or three spoken sentences. Finish every thought; never stop mid-sentence."
)

type Config struct {
	APIKey       string
	Model        string
	SystemPrompt string
	MaxTokens    int32
}

type Generator struct {
	client *genai.Client
	cfg    Config
}

func New(ctx context.Context, cfg Config) (*Generator, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &Generator{client: client, cfg: cfg}, nil
}

func (g *Generator) Generate(ctx context.Context, text string, history []backends.Turn, hint string) (string, error) {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, turn := range history {
		role := genai.Role(genai.RoleUser)
		if turn.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(turn.Text, role))
	}

	prompt := text
	if hint != "" {
		prompt = hint + "\n\n" + text
	}
	contents = append(contents, genai.NewContentFromText(prompt, genai.RoleUser))

	resp, err := g.client.Models.GenerateContent(ctx, g.cfg.Model, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(g.cfg.SystemPrompt, genai.RoleUser),
		MaxOutputTokens:   g.cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}

	reply := strings.TrimSpace(resp.Text())
	if reply == "" {
		return "", fmt.Errorf("gemini generate: %w", backends.ErrUnavailable)
	}
	return reply, nil
}
