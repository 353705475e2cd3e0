package validation

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/maximbilan/vaultai/internal/provider"
)

const (
	// MaxInputLength is the maximum allowed length for input text (100K characters)
	// This prevents excessive API costs and potential memory issues
	MaxInputLength = 100000

	minAPIKeyLength = 20
)

// ValidateAPIKey checks the key format expected by kind.
func ValidateAPIKey(kind provider.Kind, apiKey string) error {
	if apiKey == "" {
		return fmt.Errorf("API key is required")
	}
	if strings.IndexFunc(apiKey, unicode.IsSpace) >= 0 {
		return fmt.Errorf("API key must not contain whitespace")
	}
	if len(apiKey) < minAPIKeyLength {
		return fmt.Errorf("API key appears to be invalid (too short)")
	}

	switch kind {
	case provider.OpenAI:
		if !strings.HasPrefix(apiKey, "sk-") {
			return fmt.Errorf("OpenAI API key must start with 'sk-'")
		}
	case provider.Anthropic:
		if !strings.HasPrefix(apiKey, "sk-ant-") {
			return fmt.Errorf("Anthropic API key must start with 'sk-ant-'")
		}
	case provider.Gemini:
		if !strings.HasPrefix(apiKey, "AIza") {
			return fmt.Errorf("Gemini API key must start with 'AIza'")
		}
	default:
		return fmt.Errorf("unsupported provider %q", kind)
	}
	return nil
}

// ValidateTextInput requires non-empty text within MaxInputLength.
func ValidateTextInput(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("text cannot be empty")
	}
	return ValidateInputLength(utf8.RuneCountInString(text))
}

// ValidateInputLength rejects request payloads larger than MaxInputLength.
func ValidateInputLength(n int) error {
	if n > MaxInputLength {
		return fmt.Errorf("text exceeds maximum length of %d characters (got %d)", MaxInputLength, n)
	}
	return nil
}
