package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// OllamaSummarizer summarizes text with a local Ollama server.
type OllamaSummarizer struct {
	baseURL string
	model   string
	prompt  Prompt
	client  *http.Client
	retry   RetryConfig
}

// NewOllamaSummarizer creates a summarizer that calls Ollama's /api/generate.
func NewOllamaSummarizer(baseURL, model string, prompt Prompt) *OllamaSummarizer {
	return &OllamaSummarizer{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		prompt:  prompt,
		client:  &http.Client{Timeout: requestTimeout},
		retry:   DefaultRetryConfig(),
	}
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

type ollamaErrorResponse struct {
	Error string `json:"error"`
}

// Summarize sends text as the prompt and the configured instructions as the
// system message.
func (o *OllamaSummarizer) Summarize(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptySummary
	}

	body, err := json.Marshal(ollamaGenerateRequest{
		Model:   o.model,
		Prompt:  text,
		System:  o.prompt.System(),
		Stream:  false,
		Options: map[string]any{"temperature": 0},
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	return retryWithBackoff(ctx, o.retry, func() (string, error) {
		return o.generate(ctx, body)
	})
}

func (o *OllamaSummarizer) generate(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama request failed (is Ollama running at %s?): %w", o.baseURL, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp ollamaErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return "", &statusError{Backend: "ollama", Code: resp.StatusCode, Body: errResp.Error}
		}
		return "", &statusError{Backend: "ollama", Code: resp.StatusCode, Body: string(respBody)}
	}

	var genResp ollamaGenerateResponse
	if err := json.Unmarshal(respBody, &genResp); err != nil {
		return "", &parseError{err: err}
	}

	return finish(genResp.Response)
}
