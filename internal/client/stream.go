package client

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/maximbilan/vaultai/internal/provider"
	"github.com/maximbilan/vaultai/internal/sse"
)

type EventKind int

const (
	EventDelta EventKind = iota
	EventDone
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventDelta:
		return "delta"
	case EventDone:
		return "done"
	case EventError:
		return "error"
	}
	return "unknown"
}

// Event is one step of a streamed reply. A stream carries any number of
// deltas followed by at most one Done or Error, then the channel closes.
type Event struct {
	Kind EventKind
	Text string
	Err  error
}

const readChunk = 4096

// StreamChat opens /ai-chat and decodes the reply. Cancelling ctx ends the
// stream with Done, not Error.
func (c *Client) StreamChat(ctx context.Context, messages []provider.Message) <-chan Event {
	events := make(chan Event, 16)

	// Session check happens before any request.
	if _, err := c.token(); err != nil {
		events <- Event{Kind: EventError, Err: err}
		close(events)
		return events
	}

	go func() {
		defer close(events)
		c.stream(ctx, messages, events)
	}()
	return events
}

func (c *Client) stream(ctx context.Context, messages []provider.Message, events chan<- Event) {
	resp, err := c.do(ctx, http.MethodPost, "/ai-chat", chatBody{Messages: messages})
	if err != nil {
		if ctx.Err() != nil {
			finish(ctx, events, Event{Kind: EventDone})
			return
		}
		finish(ctx, events, Event{Kind: EventError, Err: err})
		return
	}
	defer resp.Body.Close()

	dec := sse.NewDecoder(c.log)
	send := func(deltas []string) bool {
		for _, d := range deltas {
			select {
			case events <- Event{Kind: EventDelta, Text: d}:
			case <-ctx.Done():
				return false
			}
		}
		return true
	}

	buf := make([]byte, readChunk)
	for !dec.Done() {
		n, readErr := resp.Body.Read(buf)
		if n > 0 && !send(dec.Feed(buf[:n])) {
			break
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) && ctx.Err() == nil {
				c.log.Warn("chat stream ended early", "error", readErr)
			}
			send(dec.Flush())
			break
		}
	}
	finish(ctx, events, Event{Kind: EventDone})
}

// finish delivers the terminal event. After cancellation the consumer may be
// gone, so it is dropped rather than blocking.
func finish(ctx context.Context, events chan<- Event, ev Event) {
	if ctx.Err() == nil {
		events <- ev
		return
	}
	select {
	case events <- ev:
	default:
	}
}

type chatBody struct {
	Messages []provider.Message `json:"messages"`
}

// Handlers are the callbacks used by StreamChatFunc. Nil handlers are skipped.
type Handlers struct {
	OnDelta func(text string)
	OnDone  func()
	OnError func(err error)
}

// StreamChatFunc streams like StreamChat but reports through callbacks. It
// blocks until the stream ends. Exactly one of OnDone or OnError runs.
func (c *Client) StreamChatFunc(ctx context.Context, messages []provider.Message, h Handlers) {
	terminated := false
	for ev := range c.StreamChat(ctx, messages) {
		switch ev.Kind {
		case EventDelta:
			if h.OnDelta != nil {
				h.OnDelta(ev.Text)
			}
		case EventDone:
			terminated = true
			if h.OnDone != nil {
				h.OnDone()
			}
		case EventError:
			terminated = true
			if h.OnError != nil {
				h.OnError(ev.Err)
			}
		}
	}
	if !terminated && h.OnDone != nil {
		h.OnDone()
	}
}
