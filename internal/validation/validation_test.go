package validation

import (
	"strings"
	"testing"

	"github.com/maximbilan/vaultai/internal/provider"
)

func TestValidateAPIKey(t *testing.T) {
	tests := []struct {
		name    string
		kind    provider.Kind
		apiKey  string
		wantErr bool
	}{
		{
			name:   "valid openai key",
			kind:   provider.OpenAI,
			apiKey: "sk-12345678901234567890",
		},
		{
			name:   "valid anthropic key",
			kind:   provider.Anthropic,
			apiKey: "sk-ant-REDACTED",
		},
		{
			name:   "valid gemini key",
			kind:   provider.Gemini,
			apiKey: "AIzaSyA1234567890abcdefghijk",
		},
		{
			name:    "empty key",
			kind:    provider.OpenAI,
			apiKey:  "",
			wantErr: true,
		},
		{
			name:    "too short",
			kind:    provider.OpenAI,
			apiKey:  "sk-short",
			wantErr: true,
		},
		{
			name:    "invalid prefix",
			kind:    provider.OpenAI,
			apiKey:  "abc-12345678901234567890",
			wantErr: true,
		},
		{
			name:    "openai key used for anthropic",
			kind:    provider.Anthropic,
			apiKey:  "sk-12345678901234567890",
			wantErr: true,
		},
		{
			name:    "leading whitespace",
			kind:    provider.OpenAI,
			apiKey:  " sk-12345678901234567890",
			wantErr: true,
		},
		{
			name:    "unknown provider",
			kind:    provider.Kind("mistral"),
			apiKey:  "sk-12345678901234567890",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAPIKey(tt.kind, tt.apiKey)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateAPIKey(%s, %q) error = %v, wantErr %v", tt.kind, tt.apiKey, err, tt.wantErr)
			}
		})
	}
}

func TestValidateTextInput(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr bool
	}{
		{name: "valid text", text: "Summarize my notes"},
		{name: "empty text", text: "", wantErr: true},
		{name: "whitespace only", text: " \n\t", wantErr: true},
		{name: "at max length", text: strings.Repeat("a", MaxInputLength)},
		{name: "over max length", text: strings.Repeat("a", MaxInputLength+1), wantErr: true},
		{name: "multibyte at max length", text: strings.Repeat("é", MaxInputLength)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTextInput(tt.text)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateTextInput() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateInputLength(t *testing.T) {
	if err := ValidateInputLength(0); err != nil {
		t.Errorf("ValidateInputLength(0) = %v", err)
	}
	if err := ValidateInputLength(MaxInputLength + 1); err == nil {
		t.Error("ValidateInputLength(max+1) = nil, want error")
	}
}
