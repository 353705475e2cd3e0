// Package prompt turns high-level vault actions into provider messages.
package prompt

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/maximbilan/vaultai/internal/provider"
	"github.com/maximbilan/vaultai/internal/store"
)

// Action names a templated request.
type Action string

const (
	None             Action = ""
	Summarize        Action = "summarize"
	Categorize       Action = "categorize"
	GenerateTitle    Action = "generate-title"
	GeneratePassword Action = "generate-password"
	DraftEmail       Action = "draft-email"
	DraftMessage     Action = "draft-message"
	AnalyzePassword  Action = "analyze-password"
	SmartSearch      Action = "smart-search"
	DetectDuplicates Action = "detect-duplicates"
	Chat             Action = "chat"
)

// Actions lists every templated action.
var Actions = []Action{
	Summarize, Categorize, GenerateTitle, GeneratePassword, DraftEmail,
	DraftMessage, AnalyzePassword, SmartSearch, DetectDuplicates, Chat,
}

var (
	ErrUnknownAction = errors.New("unknown action")
	ErrNoMessages    = errors.New("no messages to send")
	ErrInvalidRole   = errors.New("invalid message role")
)

// ParseAction accepts an empty string (plain pass-through) or a known action.
func ParseAction(s string) (Action, error) {
	a := Action(strings.TrimSpace(s))
	if a == None {
		return None, nil
	}
	for _, known := range Actions {
		if a == known {
			return a, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
}

// Cacheable reports whether the action's reply depends only on its content.
func (a Action) Cacheable() bool {
	switch a {
	case Summarize, Categorize, GenerateTitle:
		return true
	}
	return false
}

// Input is everything Build needs. Content is a JSON string or object.
type Input struct {
	Action       Action
	Content      json.RawMessage
	Messages     []provider.Message
	SystemPrompt string
	// ItemContext is the rendered item list used by the chat persona.
	ItemContext string
}

const (
	summarizeSystem        = "You are a helpful assistant. Provide clear, concise summaries."
	categorizeSystem       = "You are a categorization expert. Analyze the given content and suggest the best category and tags."
	generateTitleSystem    = "Generate a concise, descriptive title for the given content. Return only the title, nothing else."
	generatePasswordSystem = "Generate a strong, secure password. Return only the password, nothing else. Make it 16-20 characters with uppercase, lowercase, numbers, and special characters."
	draftEmailSystem       = "You are an email drafting assistant. Write professional, clear emails."
	draftMessageSystem     = "You are a message drafting assistant. Write clear, concise messages."
	analyzePasswordSystem  = "You are a password security expert. Analyze the password strength and provide improvement tips. Do NOT reveal the actual password in your response."
	smartSearchSystem      = `You are a search assistant. Given a natural language query and a list of items, return the IDs of matching items as a JSON array. Consider semantic meaning, not just keyword matching. Return: {"ids": ["id1", "id2"]}`
	detectDuplicatesSystem = `You are a deduplication assistant. Analyze the given items and find potential duplicates or very similar entries. Return JSON: {"groups": [["id1", "id2"], ["id3", "id4"]], "summary": "brief description"}`
)

// Build resolves an action into the messages sent upstream. Apart from chat
// and pass-through it depends only on the action and content.
func Build(in Input) ([]provider.Message, error) {
	text, err := ContentText(in.Content)
	if err != nil {
		return nil, err
	}

	var msgs []provider.Message
	switch in.Action {
	case GeneratePassword:
		msgs = pair(generatePasswordSystem, "Generate a strong password")
	case Summarize:
		if text != "" {
			msgs = pair(summarizeSystem, "Summarize the following content:\n\n"+text)
		}
	case Categorize:
		if text != "" {
			title, body := categorizeFields(in.Content, text)
			msgs = pair(categorizeSystem, fmt.Sprintf(
				"Analyze and categorize this item:\nTitle: %s\nContent: %s\n\nRespond with JSON: {\"category\": \"suggested category\", \"tags\": [\"tag1\", \"tag2\"], \"reason\": \"brief reason\"}",
				title, body))
		}
	case GenerateTitle:
		if text != "" {
			msgs = pair(generateTitleSystem, text)
		}
	case DraftEmail:
		if text != "" {
			msgs = pair(draftEmailSystem, "Draft an email about: "+text)
		}
	case DraftMessage:
		if text != "" {
			msgs = pair(draftMessageSystem, "Draft a message about: "+text)
		}
	case AnalyzePassword:
		if text != "" {
			msgs = pair(analyzePasswordSystem, describePassword(text))
		}
	case SmartSearch:
		if text != "" {
			msgs = pair(smartSearchSystem, text)
		}
	case DetectDuplicates:
		if text != "" {
			msgs = pair(detectDuplicatesSystem, text)
		}
	case Chat:
		system := in.SystemPrompt
		if system == "" {
			system = ChatSystemPrompt(in.ItemContext)
		}
		msgs = append([]provider.Message{{Role: provider.RoleSystem, Content: system}}, in.Messages...)
		if len(in.Messages) == 0 {
			return nil, ErrNoMessages
		}
	case None:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, in.Action)
	}

	if msgs == nil {
		msgs = passThrough(in.Messages, in.SystemPrompt)
	}

	if err := validate(msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func pair(system, user string) []provider.Message {
	return []provider.Message{
		{Role: provider.RoleSystem, Content: system},
		{Role: provider.RoleUser, Content: user},
	}
}

func passThrough(messages []provider.Message, systemPrompt string) []provider.Message {
	out := make([]provider.Message, 0, len(messages)+1)
	if systemPrompt != "" {
		out = append(out, provider.Message{Role: provider.RoleSystem, Content: systemPrompt})
	}
	return append(out, messages...)
}

func validate(msgs []provider.Message) error {
	hasTurn := false
	for i, m := range msgs {
		if !provider.ValidRole(m.Role) {
			return fmt.Errorf("%w %q at index %d", ErrInvalidRole, m.Role, i)
		}
		if m.Role != provider.RoleSystem {
			hasTurn = true
		}
	}
	if !hasTurn {
		return ErrNoMessages
	}
	return nil
}

// ContentText returns a JSON string content as is and any other JSON value
// in its compact encoding. Absent or null content is empty.
func ContentText(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("invalid content: %w", err)
		}
		return s, nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return "", fmt.Errorf("invalid content: %w", err)
	}
	if s := buf.String(); s != "{}" && s != "[]" {
		return s, nil
	}
	return "", nil
}

// categorizeFields accepts {title, body} or a plain string used as the body.
func categorizeFields(raw json.RawMessage, text string) (string, string) {
	var fields struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	}
	if t := bytes.TrimSpace(raw); len(t) > 0 && t[0] == '{' {
		if err := json.Unmarshal(t, &fields); err == nil {
			return fields.Title, fields.Body
		}
	}
	return "", text
}

// describePassword reduces a password to its length and character classes.
// The password itself never leaves this function.
func describePassword(password string) string {
	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= '0' && r <= '9':
			digit = true
		default:
			special = true
		}
	}
	return fmt.Sprintf("Analyze password strength (%d characters): contains uppercase: %t, lowercase: %t, numbers: %t, special chars: %t",
		utf8.RuneCountInString(password), upper, lower, digit, special)
}

const contextPreview = 100

// RenderItemContext renders one "[type] title: preview" line per item.
func RenderItemContext(items []store.Item) string {
	if len(items) == 0 {
		return "No items"
	}
	lines := make([]string, len(items))
	for i, item := range items {
		lines[i] = fmt.Sprintf("[%s] %s: %s", item.Type, item.Title, truncate(item.Content, contextPreview))
	}
	return strings.Join(lines, "\n")
}

// ChatSystemPrompt is the vault assistant persona around the item context.
func ChatSystemPrompt(itemContext string) string {
	if itemContext == "" {
		itemContext = "No items"
	}
	return `You are Vault AI Assistant. You help users manage their stored items (links, emails, messages, passwords, contacts, web URLs). You have access to the user's items for context.

User's recent items:
` + itemContext + `

Be helpful, concise, and security-conscious. Never reveal passwords in full. Help with organizing, searching, and managing their vault.`
}

// DuplicateScanPrompt lists the candidate items for the detect-duplicates action.
func DuplicateScanPrompt(items []store.Item) string {
	lines := make([]string, len(items))
	for i, item := range items {
		lines[i] = fmt.Sprintf("ID:%s | Type:%s | Title:%s | Content:%s", item.ID, item.Type, item.Title, truncate(item.Content, contextPreview))
	}
	return "Here are items from a user's vault. Find groups of potential duplicates or very similar entries based on title and content similarity. Only include groups where items are genuinely similar.\n\nItems:\n" +
		strings.Join(lines, "\n") +
		"\n\nRespond with JSON: {\"groups\": [{\"ids\": [\"id1\", \"id2\"], \"reason\": \"brief reason\"}], \"summary\": \"brief description\"}"
}

// truncate keeps the first n runes of s.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
