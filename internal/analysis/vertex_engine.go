package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/option"
)

type VertexConfig struct {
	ProjectID       string
	Region          string
	Model           string
	CredentialsJSON string
}

// VertexEngine runs the analysis prompt on a Gemini model with JSON output forced.
type VertexEngine struct {
	client *genai.Client
	model  string
}

func NewVertexEngine(ctx context.Context, cfg VertexConfig) (*VertexEngine, error) {
	if cfg.ProjectID == "" || cfg.Region == "" {
		return nil, errors.New("vertex project and region are required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	}
	client, err := genai.NewClient(ctx, cfg.ProjectID, cfg.Region, opts...)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}
	model := cfg.Model
	if model == "" || strings.HasPrefix(model, "gpt") {
		model = "gemini-1.5-flash"
	}
	return &VertexEngine{client: client, model: model}, nil
}

func (e *VertexEngine) Complete(ctx context.Context, p Prompt) (string, error) {
	m := e.client.GenerativeModel(e.model)
	m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(p.System)}}
	m.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.3),
		TopP:             genai.Ptr[float32](0.9),
		MaxOutputTokens:  genai.Ptr[int32](500),
	}

	resp, err := m.GenerateContent(ctx, genai.Text(p.User))
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return b.String(), nil
}

func (e *VertexEngine) Close() error {
	return e.client.Close()
}
