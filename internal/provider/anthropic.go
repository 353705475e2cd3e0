package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/maximbilan/vaultai/internal/sse"
)

const defaultAnthropicMaxTokens = 1024

// AnthropicProvider implements Provider using Anthropic's API
type AnthropicProvider struct {
	client       anthropic.Client
	streamClient *http.Client
}

// toAnthropicMessages hoists system messages into the top-level system field.
// Anthropic uses "user" and "assistant" roles only.
func toAnthropicMessages(messages []Message) ([]anthropic.MessageParam, []anthropic.TextBlockParam) {
	anthropicMessages := make([]anthropic.MessageParam, 0, len(messages))
	systemPrompt := make([]anthropic.TextBlockParam, 0)

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			systemPrompt = append(systemPrompt, anthropic.TextBlockParam{Text: msg.Content})
		case RoleUser:
			anthropicMessages = append(anthropicMessages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case RoleAssistant:
			anthropicMessages = append(anthropicMessages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	return anthropicMessages, systemPrompt
}

// NewAnthropicProvider creates a new Anthropic provider. Automatic retries are
// disabled so upstream failures reach the caller as-is.
func NewAnthropicProvider(apiKey, baseURL string, client, streamClient *http.Client) (*AnthropicProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	if streamClient == nil {
		streamClient = client
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(client),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		streamClient: streamClient,
	}, nil
}

func newMessageParams(req Request) anthropic.MessageNewParams {
	anthropicMessages, systemPrompt := toAnthropicMessages(req.Messages)

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages:  anthropicMessages,
	}
	if len(systemPrompt) > 0 {
		params.System = systemPrompt
	}
	return params
}

// Chat performs a non-streaming chat completion. Tools are not forwarded.
func (p *AnthropicProvider) Chat(ctx context.Context, req Request) (*Response, error) {
	resp, err := p.client.Messages.New(ctx, newMessageParams(req))
	if err != nil {
		return nil, anthropicError(err)
	}

	out := &Response{}
	if len(resp.Content) > 0 {
		if textBlock, ok := resp.Content[0].AsAny().(anthropic.TextBlock); ok {
			out.Content = textBlock.Text
		}
	}
	return out, nil
}

// StreamChat re-frames Anthropic's event stream as OpenAI-shaped delta
// frames. The first event is read before returning so that a rejected
// request surfaces as an error rather than as a stream.
func (p *AnthropicProvider) StreamChat(ctx context.Context, req Request) (io.ReadCloser, error) {
	stream := p.client.Messages.NewStreaming(ctx, newMessageParams(req), option.WithHTTPClient(p.streamClient))

	if !stream.Next() {
		err := stream.Err()
		stream.Close()
		if err != nil {
			return nil, anthropicError(err)
		}
		pr, pw := io.Pipe()
		go func() {
			pw.CloseWithError(sse.WriteDone(pw))
		}()
		return pr, nil
	}

	pr, pw := io.Pipe()
	go relayAnthropic(stream, pw)
	return pr, nil
}

// relayAnthropic writes the stream's text deltas to pw until the stream or
// the reader ends. stream.Current() holds the already peeked first event.
func relayAnthropic(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], pw *io.PipeWriter) {
	defer stream.Close()

	for {
		event := stream.Current()
		if eventVariant, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			if deltaVariant, ok := eventVariant.Delta.AsAny().(anthropic.TextDelta); ok && deltaVariant.Text != "" {
				if err := sse.WriteDelta(pw, deltaVariant.Text); err != nil {
					// Reader is gone.
					pw.CloseWithError(err)
					return
				}
			}
		}
		if !stream.Next() {
			break
		}
	}

	if err := stream.Err(); err != nil {
		pw.CloseWithError(fmt.Errorf("anthropic stream error: %w", anthropicError(err)))
		return
	}
	pw.CloseWithError(sse.WriteDone(pw))
}

// anthropicError maps SDK API errors onto UpstreamError.
func anthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		body := apiErr.RawJSON()
		if body == "" {
			body = http.StatusText(apiErr.StatusCode)
		}
		return &UpstreamError{
			Provider:   Anthropic,
			StatusCode: apiErr.StatusCode,
			Body:       body,
		}
	}
	return fmt.Errorf("anthropic request failed: %w", err)
}
