package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// Provider is one upstream AI API behind the common call shape.
type Provider interface {
	// Chat performs a non-streaming completion and normalizes the reply.
	Chat(ctx context.Context, req Request) (*Response, error)

	// StreamChat opens a streaming completion. The returned body carries
	// OpenAI-shaped delta frames terminated by "data: [DONE]".
	StreamChat(ctx context.Context, req Request) (io.ReadCloser, error)
}

// Kind is the closed set of supported upstream providers.
type Kind string

const (
	OpenAI    Kind = "openai"
	Gemini    Kind = "gemini"
	Anthropic Kind = "anthropic"
)

// Kinds lists every provider in a stable order.
var Kinds = []Kind{OpenAI, Gemini, Anthropic}

// ParseKind rejects anything outside the closed provider set.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case OpenAI, Gemini, Anthropic:
		return k, nil
	}
	return "", fmt.Errorf("unsupported provider %q", s)
}

// Message represents a chat message
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Role constants
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ValidRole reports whether role is one of system, user or assistant.
func ValidRole(role string) bool {
	switch role {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Request is a provider-independent completion request.
type Request struct {
	Model     string
	Messages  []Message
	MaxTokens int
	// Tools and ToolChoice are passed through to OpenAI-compatible upstreams.
	Tools      []openai.Tool
	ToolChoice json.RawMessage
}

// Response is the normalized non-streaming reply. Content is always set,
// possibly empty.
type Response struct {
	Content   string
	ToolCalls []openai.ToolCall
}

// UpstreamError is a non-2xx reply from a provider. It is never retried.
type UpstreamError struct {
	Provider   Kind
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("AI provider error (%d): %s", e.StatusCode, e.Body)
}

// Settings holds the per-provider defaults.
type Settings struct {
	Model   string
	BaseURL string
}

// DefaultSettings returns the stock model and endpoint for each provider.
func DefaultSettings() map[Kind]Settings {
	return map[Kind]Settings{
		OpenAI:    {Model: "gpt-4o-mini", BaseURL: "https://api.openai.com/v1"},
		Gemini:    {Model: "gemini-2.0-flash", BaseURL: "https://generativelanguage.googleapis.com/v1beta/openai"},
		Anthropic: {Model: "claude-3-5-haiku-latest", BaseURL: "https://api.anthropic.com/"},
	}
}

// Factory builds a Provider for a user's credential.
type Factory struct {
	Settings map[Kind]Settings
	// HTTPClient serves non-streaming calls; its Timeout bounds the whole call.
	HTTPClient *http.Client
	// StreamClient serves streaming calls; it bounds time to first byte only.
	StreamClient *http.Client
}

// NewFactory creates a factory whose upstream calls are bounded by timeout.
func NewFactory(settings map[Kind]Settings, timeout time.Duration) *Factory {
	merged := DefaultSettings()
	for k, s := range settings {
		d := merged[k]
		if s.Model != "" {
			d.Model = s.Model
		}
		if s.BaseURL != "" {
			d.BaseURL = s.BaseURL
		}
		merged[k] = d
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout

	return &Factory{
		Settings:     merged,
		HTTPClient:   &http.Client{Timeout: timeout},
		StreamClient: &http.Client{Transport: transport},
	}
}

// Model returns the configured default model for kind.
func (f *Factory) Model(kind Kind) string {
	return f.Settings[kind].Model
}

// New returns the adapter for kind authenticated with apiKey.
func (f *Factory) New(kind Kind, apiKey string) (Provider, error) {
	s := f.Settings[kind]
	switch kind {
	case OpenAI, Gemini:
		return NewOpenAIProvider(kind, apiKey, s.BaseURL, f.HTTPClient, f.StreamClient)
	case Anthropic:
		return NewAnthropicProvider(apiKey, s.BaseURL, f.HTTPClient, f.StreamClient)
	}
	return nil, fmt.Errorf("unsupported provider %q", kind)
}
