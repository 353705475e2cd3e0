package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/maximbilan/vaultai/internal/sse"
)

// MockProvider is a simple mock provider for testing
type MockProvider struct {
	mu        sync.Mutex
	responses map[string]string
	err       error
	requests  []Request
}

// NewMockProvider creates a new mock provider
func NewMockProvider() *MockProvider {
	return &MockProvider{
		responses: make(map[string]string),
	}
}

// SetResponse sets a mock response for a given prompt
func (m *MockProvider) SetResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// SetError makes every following call fail with err.
func (m *MockProvider) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Requests returns the requests received so far.
func (m *MockProvider) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

func (m *MockProvider) reply(req Request) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)

	if m.err != nil {
		return "", m.err
	}
	if len(req.Messages) == 0 {
		return "", fmt.Errorf("no messages provided")
	}

	// Get the last user message
	var prompt string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == RoleUser {
			prompt = req.Messages[i].Content
			break
		}
	}

	response, ok := m.responses[prompt]
	if !ok {
		response = "Mock response for: " + prompt
	}
	return response, nil
}

// Chat performs a non-streaming chat completion
func (m *MockProvider) Chat(ctx context.Context, req Request) (*Response, error) {
	response, err := m.reply(req)
	if err != nil {
		return nil, err
	}
	return &Response{Content: response}, nil
}

// StreamChat streams the response one rune per frame.
func (m *MockProvider) StreamChat(ctx context.Context, req Request) (io.ReadCloser, error) {
	response, err := m.reply(req)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	for _, char := range response {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := sse.WriteDelta(&buf, string(char)); err != nil {
			return nil, err
		}
	}
	if err := sse.WriteDone(&buf); err != nil {
		return nil, err
	}
	return io.NopCloser(&buf), nil
}
