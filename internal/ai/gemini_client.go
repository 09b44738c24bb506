package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

type GeminiConfig struct {
	APIKey       string
	Model        string
	SystemPrompt string
}

// GeminiClient answers through the Gemini API.
type GeminiClient struct {
	client       *genai.Client
	model        string
	systemPrompt string
}

func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("gemini: api key not set")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to create client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}
	prompt := cfg.SystemPrompt
	if prompt == "" {
		prompt = DefaultSystemPrompt
	}

	return &GeminiClient{client: client, model: model, systemPrompt: prompt}, nil
}

func (c *GeminiClient) GetReply(ctx context.Context, history []Message, latest string) (string, error) {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, m := range history {
		content := &genai.Content{Parts: []*genai.Part{{Text: m.Text}}}
		if m.Role == RoleAssistant {
			content.Role = genai.RoleModel
		} else {
			content.Role = genai.RoleUser
		}
		contents = append(contents, content)
	}
	last := &genai.Content{Parts: []*genai.Part{{Text: latest}}}
	last.Role = genai.RoleUser
	contents = append(contents, last)

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: c.systemPrompt}},
		},
	})
	if err != nil {
		return "", fmt.Errorf("gemini: generate content: %w", err)
	}
	return resp.Text(), nil
}
