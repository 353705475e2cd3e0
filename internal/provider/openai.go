package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// maxErrorBody caps how much of an upstream error reply is kept.
const maxErrorBody = 64 << 10

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint.
// OpenAI and Gemini both use it.
type OpenAIProvider struct {
	kind         Kind
	apiKey       string
	endpoint     string
	client       *http.Client
	streamClient *http.Client
}

// NewOpenAIProvider creates an adapter posting to <baseURL>/chat/completions.
func NewOpenAIProvider(kind Kind, apiKey, baseURL string, client, streamClient *http.Client) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if baseURL == "" {
		return nil, fmt.Errorf("base URL is required for %s", kind)
	}
	if client == nil {
		client = http.DefaultClient
	}
	if streamClient == nil {
		streamClient = client
	}
	return &OpenAIProvider{
		kind:         kind,
		apiKey:       apiKey,
		endpoint:     strings.TrimRight(baseURL, "/") + "/chat/completions",
		client:       client,
		streamClient: streamClient,
	}, nil
}

func (p *OpenAIProvider) newRequest(ctx context.Context, req Request, stream bool) (*http.Request, error) {
	openaiMessages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, msg := range req.Messages {
		openaiMessages[i] = openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	body := openai.ChatCompletionRequest{
		Model:     req.Model,
		Messages:  openaiMessages,
		MaxTokens: req.MaxTokens,
		Stream:    stream,
		Tools:     req.Tools,
	}
	if len(req.ToolChoice) > 0 {
		body.ToolChoice = req.ToolChoice
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	return httpReq, nil
}

// Chat performs a non-streaming chat completion
func (p *OpenAIProvider) Chat(ctx context.Context, req Request) (*Response, error) {
	httpReq, err := p.newRequest(ctx, req, false)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", p.kind, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, p.upstreamError(resp)
	}

	var completion openai.ChatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", p.kind, err)
	}

	out := &Response{}
	if len(completion.Choices) > 0 {
		out.Content = completion.Choices[0].Message.Content
		out.ToolCalls = completion.Choices[0].Message.ToolCalls
	}
	return out, nil
}

// StreamChat returns the upstream event stream unmodified.
func (p *OpenAIProvider) StreamChat(ctx context.Context, req Request) (io.ReadCloser, error) {
	httpReq, err := p.newRequest(ctx, req, true)
	if err != nil {
		return nil, err
	}

	resp, err := p.streamClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s stream request failed: %w", p.kind, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, p.upstreamError(resp)
	}
	return resp.Body, nil
}

func (p *OpenAIProvider) upstreamError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &UpstreamError{
		Provider:   p.kind,
		StatusCode: resp.StatusCode,
		Body:       string(body),
	}
}
