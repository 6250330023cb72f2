package conversation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"qawakun/store"
)

// Completer produces the next assistant turn for a transcript.
type Completer interface {
	Complete(ctx context.Context, messages []store.ChatMessage) (string, error)
}

// HTTPCompleter calls a chat-completions compatible endpoint.
type HTTPCompleter struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
}

// NewHTTPCompleter builds a completer for the given API endpoint and model.
func NewHTTPCompleter(baseURL, apiKey, model string) *HTTPCompleter {
	return &HTTPCompleter{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		http: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type completionRequest struct {
	Model    string              `json:"model"`
	Messages []store.ChatMessage `json:"messages"`
}

type completionResponse struct {
	Choices []struct {
		Message store.ChatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *HTTPCompleter) Complete(ctx context.Context, messages []store.ChatMessage) (string, error) {
	body, err := json.Marshal(completionRequest{Model: c.model, Messages: messages})
	if err != nil {
		return "", fmt.Errorf("conversation: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("conversation: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("conversation: request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("conversation: read response: %w", err)
	}
	var decoded completionResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("conversation: decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if decoded.Error != nil {
			return "", fmt.Errorf("conversation: model error: %s", decoded.Error.Message)
		}
		return "", fmt.Errorf("conversation: unexpected status %d", resp.StatusCode)
	}
	if len(decoded.Choices) == 0 {
		return "", fmt.Errorf("conversation: empty completion")
	}
	return decoded.Choices[0].Message.Content, nil
}
