package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ChatEngine calls an OpenAI-compatible /chat/completions endpoint.
type ChatEngine struct {
	URL    string
	APIKey string
	Model  string
	Client *http.Client
}

func NewChatEngine(url, apiKey, model string, timeout time.Duration) *ChatEngine {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &ChatEngine{URL: url, APIKey: apiKey, Model: model, Client: &http.Client{Timeout: timeout}}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	TopP        float64       `json:"top_p"`
}

func (e *ChatEngine) Complete(ctx context.Context, p Prompt) (string, error) {
	if e.URL == "" {
		return "", errors.New("analysis url not configured")
	}
	payload, err := json.Marshal(chatRequest{
		Model: e.Model,
		Messages: []chatMessage{
			{Role: "system", Content: p.System},
			{Role: "user", Content: p.User},
		},
		Temperature: 0.3,
		MaxTokens:   500,
		TopP:        0.9,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.URL, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.APIKey)
	}

	resp, err := e.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("analysis engine returned %d", resp.StatusCode)
	}

	if content := contentFromChoices(body); content != "" {
		return content, nil
	}
	// Not a chat envelope; let the parser look for JSON in the raw body.
	return string(body), nil
}

// contentFromChoices reads choices[0].message.content.
func contentFromChoices(body []byte) string {
	var obj struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &obj); err != nil || len(obj.Choices) == 0 {
		return ""
	}
	return strings.TrimSpace(obj.Choices[0].Message.Content)
}
