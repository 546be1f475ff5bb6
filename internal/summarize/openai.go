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

// OpenAISummarizer summarizes text with any OpenAI-compatible chat completions API.
type OpenAISummarizer struct {
	baseURL string
	apiKey  string
	model   string
	prompt  Prompt
	client  *http.Client
	retry   RetryConfig
}

// NewOpenAISummarizer creates a summarizer that calls baseURL + /chat/completions.
func NewOpenAISummarizer(baseURL, apiKey, model string, prompt Prompt) *OpenAISummarizer {
	return &OpenAISummarizer{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		prompt:  prompt,
		client:  &http.Client{Timeout: requestTimeout},
		retry:   DefaultRetryConfig(),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

// Summarize sends the system prompt followed by text as the user message.
func (o *OpenAISummarizer) Summarize(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptySummary
	}

	var messages []chatMessage
	if system := o.prompt.System(); system != "" {
		messages = append(messages, chatMessage{Role: "system", Content: system})
	}
	messages = append(messages, chatMessage{Role: "user", Content: text})

	body, err := json.Marshal(chatRequest{
		Model:       o.model,
		Messages:    messages,
		Temperature: 0,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	return retryWithBackoff(ctx, o.retry, func() (string, error) {
		return o.chat(ctx, body)
	})
}

func (o *OpenAISummarizer) chat(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", &statusError{Backend: "chat completions API", Code: resp.StatusCode, Body: string(respBody)}
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", &parseError{err: err}
	}
	if len(chatResp.Choices) == 0 {
		return "", ErrEmptySummary
	}

	return finish(chatResp.Choices[0].Message.Content)
}
