// Package llm is a thin adapter to an OpenAI-compatible chat-completion
// endpoint. It holds no conversation state.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"llm-chat-service/internal/models"
	"llm-chat-service/internal/observability"
)

const maxResponseBytes = 8 << 20

// ErrEmptyCompletion is returned when the upstream answers 200 without a choice.
var ErrEmptyCompletion = errors.New("llm: completion has no choices")

// UpstreamError carries a non-200 answer from the completion endpoint verbatim.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("llm: upstream HTTP %d: %s", e.Status, e.Body)
}

// Completer produces one assistant reply for an ordered list of turns.
type Completer interface {
	Complete(ctx context.Context, turns []models.Turn, maxOutputTokens int) (string, error)
}

// Options configure a Client.
type Options struct {
	Endpoint    string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
	// HTTPClient overrides the default client; its Timeout is left untouched.
	HTTPClient *http.Client
}

// Client calls the chat-completion API with bearer authentication.
type Client struct {
	httpClient  *http.Client
	endpoint    string
	apiKey      string
	model       string
	temperature float64
}

// NewClient builds a Client.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		httpClient:  httpClient,
		endpoint:    opts.Endpoint,
		apiKey:      opts.APIKey,
		model:       opts.Model,
		temperature: opts.Temperature,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete sends turns as the conversation context and returns the reply
// text. A non-200 answer is returned as *UpstreamError; nothing is retried.
func (c *Client) Complete(ctx context.Context, turns []models.Turn, maxOutputTokens int) (reply string, err error) {
	ctx, span := otel.Tracer("llm-chat-service/llm").Start(ctx, "llm.complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", c.model),
		attribute.Int("llm.context_turns", len(turns)),
		attribute.Int("llm.max_tokens", maxOutputTokens),
	)

	start := time.Now()
	status := "error"
	defer func() {
		observability.ObserveLLMRequest(status, time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	body, err := json.Marshal(c.buildRequest(turns, maxOutputTokens))
	if err != nil {
		return "", fmt.Errorf("llm: marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("llm: creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm: sending request: %w", err)
	}
	defer resp.Body.Close()

	status = strconv.Itoa(resp.StatusCode)
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("llm: reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &UpstreamError{Status: resp.StatusCode, Body: string(raw)}
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("llm: decoding response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	return parsed.Choices[0].Message.Content, nil
}

func (c *Client) buildRequest(turns []models.Turn, maxOutputTokens int) chatRequest {
	messages := make([]chatMessage, 0, len(turns))
	for _, turn := range turns {
		messages = append(messages, chatMessage{Role: turn.Role, Content: turn.Message})
	}
	return chatRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   maxOutputTokens,
		Temperature: c.temperature,
	}
}
