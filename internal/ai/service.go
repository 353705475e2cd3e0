// Package ai orchestrates the vault's AI features: templated one-shot
// completions, the streaming chat relay and the duplicate scan.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"unicode/utf8"

	"github.com/sashabaranov/go-openai"

	"github.com/maximbilan/vaultai/internal/cache"
	"github.com/maximbilan/vaultai/internal/prompt"
	"github.com/maximbilan/vaultai/internal/provider"
	"github.com/maximbilan/vaultai/internal/store"
	"github.com/maximbilan/vaultai/internal/validation"
)

var (
	// ErrNotConfigured means the caller has no usable active credential.
	ErrNotConfigured = errors.New("No API key configured. Please add one in Settings > AI Settings.")
	// ErrInvalidRequest wraps every problem with the caller's input.
	ErrInvalidRequest = errors.New("invalid request")
)

// ProviderFactory builds upstream adapters; *provider.Factory satisfies it.
type ProviderFactory interface {
	New(kind provider.Kind, apiKey string) (provider.Provider, error)
	Model(kind provider.Kind) string
}

// Limits bounds what a single request may send upstream.
type Limits struct {
	MaxTokens          int
	ChatContextLimit   int
	DuplicateScanLimit int
}

// DefaultLimits matches the stock configuration.
func DefaultLimits() Limits {
	return Limits{MaxTokens: 1024, ChatContextLimit: 50, DuplicateScanLimit: 200}
}

// ActionRequest is the body of POST /ai-proxy.
type ActionRequest struct {
	Action       string             `json:"action"`
	Content      json.RawMessage    `json:"content,omitempty"`
	Messages     []provider.Message `json:"messages,omitempty"`
	Provider     string             `json:"provider,omitempty"`
	SystemPrompt string             `json:"systemPrompt,omitempty"`
	Tools        []openai.Tool      `json:"tools,omitempty"`
	ToolChoice   json.RawMessage    `json:"tool_choice,omitempty"`
}

// Result is the normalized non-streaming reply.
type Result struct {
	Content   string            `json:"content"`
	Provider  string            `json:"provider"`
	ToolCalls []openai.ToolCall `json:"tool_calls,omitempty"`
}

// ChatStream is an open upstream stream of OpenAI-shaped delta frames.
type ChatStream struct {
	Provider provider.Kind
	io.ReadCloser
}

type Service struct {
	store   store.Store
	factory ProviderFactory
	cache   *cache.Cache
	limits  Limits
	log     *slog.Logger
}

type Option func(*Service)

// WithCache enables reply caching for deterministic actions.
func WithCache(c *cache.Cache) Option {
	return func(s *Service) { s.cache = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

func NewService(st store.Store, factory ProviderFactory, limits Limits, opts ...Option) *Service {
	d := DefaultLimits()
	if limits.MaxTokens <= 0 {
		limits.MaxTokens = d.MaxTokens
	}
	if limits.ChatContextLimit <= 0 {
		limits.ChatContextLimit = d.ChatContextLimit
	}
	if limits.DuplicateScanLimit <= 0 {
		limits.DuplicateScanLimit = d.DuplicateScanLimit
	}

	s := &Service{store: st, factory: factory, limits: limits, log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Configured reports whether the user has at least one active credential.
func (s *Service) Configured(ctx context.Context, userID string) (bool, error) {
	creds, err := s.store.ListActiveCredentials(ctx, userID)
	if err != nil {
		return false, err
	}
	return len(creds) > 0, nil
}

// selectCredential returns the credential for preferred, or the first
// active one in store order when preferred is empty.
func (s *Service) selectCredential(ctx context.Context, userID, preferred string) (provider.Kind, store.Credential, error) {
	creds, err := s.store.ListActiveCredentials(ctx, userID)
	if err != nil {
		return "", store.Credential{}, err
	}

	var selected *store.Credential
	for i := range creds {
		if preferred == "" || creds[i].Provider == preferred {
			selected = &creds[i]
			break
		}
	}
	if selected == nil {
		return "", store.Credential{}, ErrNotConfigured
	}

	kind, err := provider.ParseKind(selected.Provider)
	if err != nil {
		return "", store.Credential{}, fmt.Errorf("stored credential: %w", err)
	}
	return kind, *selected, nil
}

func (s *Service) open(ctx context.Context, userID, preferred string) (provider.Kind, provider.Provider, error) {
	kind, cred, err := s.selectCredential(ctx, userID, preferred)
	if err != nil {
		return "", nil, err
	}
	p, err := s.factory.New(kind, cred.APIKey)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create %s provider: %w", kind, err)
	}
	return kind, p, nil
}

func (s *Service) itemContext(ctx context.Context, userID string) string {
	items, err := s.store.ListRecentItems(ctx, userID, s.limits.ChatContextLimit)
	if err != nil {
		// Chat still works without context.
		s.log.Warn("failed to load chat context", "user", userID, "error", err)
		return prompt.RenderItemContext(nil)
	}
	return prompt.RenderItemContext(items)
}

// checkSize counts the characters of the decoded request text, not the
// bytes of its JSON encoding.
func checkSize(content json.RawMessage, messages []provider.Message, systemPrompt string) error {
	text, err := prompt.ContentText(content)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	n := utf8.RuneCountInString(text) + utf8.RuneCountInString(systemPrompt)
	for _, m := range messages {
		n += utf8.RuneCountInString(m.Content)
	}
	if err := validation.ValidateInputLength(n); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

// Complete runs one non-streaming request.
func (s *Service) Complete(ctx context.Context, userID string, req ActionRequest) (*Result, error) {
	kind, p, err := s.open(ctx, userID, req.Provider)
	if err != nil {
		return nil, err
	}

	action, err := prompt.ParseAction(req.Action)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := checkSize(req.Content, req.Messages, req.SystemPrompt); err != nil {
		return nil, err
	}

	in := prompt.Input{
		Action:       action,
		Content:      req.Content,
		Messages:     req.Messages,
		SystemPrompt: req.SystemPrompt,
	}
	if action == prompt.Chat {
		in.ItemContext = s.itemContext(ctx, userID)
	}
	messages, err := prompt.Build(in)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	upstream := provider.Request{
		Model:      s.factory.Model(kind),
		Messages:   messages,
		MaxTokens:  s.limits.MaxTokens,
		Tools:      req.Tools,
		ToolChoice: req.ToolChoice,
	}

	cacheKey := s.cacheKey(userID, kind, action, upstream)
	if cacheKey != "" {
		if entry := s.cache.Get(cacheKey); entry != nil {
			s.log.Debug("ai cache hit", "user", userID, "provider", kind, "action", action)
			return &Result{Content: entry.Content, Provider: string(kind)}, nil
		}
	}

	resp, err := p.Chat(ctx, upstream)
	if err != nil {
		s.logUpstream(err, userID, kind, action)
		return nil, err
	}

	if cacheKey != "" {
		if err := s.cache.Set(cacheKey, string(kind), resp.Content); err != nil {
			s.log.Warn("failed to cache ai reply", "error", err)
		}
	}

	return &Result{
		Content:   resp.Content,
		Provider:  string(kind),
		ToolCalls: resp.ToolCalls,
	}, nil
}

// cacheKey is empty when the request must not be cached.
func (s *Service) cacheKey(userID string, kind provider.Kind, action prompt.Action, req provider.Request) string {
	if s.cache == nil || !action.Cacheable() || len(req.Tools) > 0 || len(req.ToolChoice) > 0 {
		return ""
	}
	encoded, err := json.Marshal(req.Messages)
	if err != nil {
		return ""
	}
	return s.cache.Hash(userID, string(kind), req.Model, string(action), string(encoded))
}

// OpenChat starts a streamed chat reply. The persona and the user's most
// recently updated items are prepended to messages.
func (s *Service) OpenChat(ctx context.Context, userID string, messages []provider.Message) (*ChatStream, error) {
	kind, p, err := s.open(ctx, userID, "")
	if err != nil {
		return nil, err
	}
	if err := checkSize(nil, messages, ""); err != nil {
		return nil, err
	}

	full, err := prompt.Build(prompt.Input{
		Action:      prompt.Chat,
		Messages:    messages,
		ItemContext: s.itemContext(ctx, userID),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	body, err := p.StreamChat(ctx, provider.Request{
		Model:     s.factory.Model(kind),
		Messages:  full,
		MaxTokens: s.limits.MaxTokens,
	})
	if err != nil {
		s.logUpstream(err, userID, kind, prompt.Chat)
		return nil, err
	}
	return &ChatStream{Provider: kind, ReadCloser: body}, nil
}

func (s *Service) logUpstream(err error, userID string, kind provider.Kind, action prompt.Action) {
	var upErr *provider.UpstreamError
	if errors.As(err, &upErr) {
		s.log.Error("ai provider error", "user", userID, "provider", kind, "action", action, "status", upErr.StatusCode)
		return
	}
	s.log.Error("ai request failed", "user", userID, "provider", kind, "action", action, "error", err)
}
