package client

import "github.com/maximbilan/vaultai/internal/provider"

// Conversation accumulates a chat transcript, growing the assistant reply
// as deltas arrive.
type Conversation struct {
	Messages []provider.Message
}

// AddUser appends a user turn.
func (c *Conversation) AddUser(text string) {
	c.Messages = append(c.Messages, provider.Message{Role: provider.RoleUser, Content: text})
}

// AppendDelta extends the trailing assistant message, starting one if the
// last turn was not the assistant's.
func (c *Conversation) AppendDelta(text string) {
	n := len(c.Messages)
	if n == 0 || c.Messages[n-1].Role != provider.RoleAssistant {
		c.Messages = append(c.Messages, provider.Message{Role: provider.RoleAssistant})
		n++
	}
	c.Messages[n-1].Content += text
}

// LastReply returns the most recent assistant message, if any.
func (c *Conversation) LastReply() string {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == provider.RoleAssistant {
			return c.Messages[i].Content
		}
	}
	return ""
}

// History returns a copy of the transcript safe to send while it keeps growing.
func (c *Conversation) History() []provider.Message {
	return append([]provider.Message(nil), c.Messages...)
}

func (c *Conversation) Reset() {
	c.Messages = nil
}
