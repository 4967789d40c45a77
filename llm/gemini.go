package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const DefaultGeminiChatModel = "gemini-2.5-flash-lite"

type GeminiConfig struct {
	APIKey string
	Model  string
}

type Gemini struct {
	client *genai.Client
	model  string
}

func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("Gemini API key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = DefaultGeminiChatModel
	}

	return &Gemini{client: client, model: model}, nil
}

func (g *Gemini) Close() error {
	return g.client.Close()
}

func (g *Gemini) Complete(ctx context.Context, system, prompt string) (string, error) {
	m := g.client.GenerativeModel(g.model)
	m.SetTemperature(0)
	m.SystemInstruction = genai.NewUserContent(genai.Text(system))

	resp, err := m.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	return responseText(resp), nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}

	return sb.String()
}
