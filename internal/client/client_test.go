package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maximbilan/vaultai/internal/ai"
	"github.com/maximbilan/vaultai/internal/provider"
)

type staticToken string

func (s staticToken) Token() (string, error) {
	if s == "" {
		return "", errors.New("no token")
	}
	return string(s), nil
}

func userMsg(text string) []provider.Message {
	return []provider.Message{{Role: provider.RoleUser, Content: text}}
}

func collect(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("stream did not finish")
		}
	}
}

func TestCallAI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ai-proxy", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		var req ai.ActionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "summarize", req.Action)
		assert.JSONEq(t, `"hello"`, string(req.Content))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"content":"short","provider":"openai"}`)
	}))
	defer srv.Close()

	c := New(srv.URL, staticToken("tok"))
	res, err := c.CallAI(context.Background(), ai.ActionRequest{Action: "summarize", Content: json.RawMessage(`"hello"`)})
	require.NoError(t, err)
	assert.Equal(t, "short", res.Content)
	assert.Equal(t, "openai", res.Provider)
}

func TestCallAIErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{name: "not configured", status: 400, body: `{"error":"No API key configured. Please add one in Settings > AI Settings."}`, message: ai.ErrNotConfigured.Error()},
		{name: "upstream", status: 502, body: `{"error":"AI provider error (429): slow"}`, message: "AI provider error (429): slow"},
		{name: "non json", status: 500, body: `oops`, message: "Error 500"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			_, err := New(srv.URL, staticToken("tok")).CallAI(context.Background(), ai.ActionRequest{Action: "summarize"})
			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.message, apiErr.Message)
			assert.Equal(t, tt.name == "not configured", apiErr.NotConfigured())
		})
	}
}

func TestCheckAIConfigured(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"configured":true}`)
	}))
	defer srv.Close()

	assert.True(t, New(srv.URL, staticToken("good")).CheckAIConfigured(context.Background()))
	assert.False(t, New(srv.URL, staticToken("bad")).CheckAIConfigured(context.Background()))
	assert.False(t, New(srv.URL, staticToken("")).CheckAIConfigured(context.Background()))
}

func TestStreamChatWithoutSessionMakesNoRequest(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	events := collect(t, New(srv.URL, staticToken("")).StreamChat(context.Background(), userMsg("hi")))
	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Kind)
	assert.EqualError(t, events[0].Err, "Not authenticated")
	assert.Zero(t, hits.Load())
}

func TestStreamChatDeltasThenDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ai-chat", r.URL.Path)
		var body chatBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, userMsg("hi"), body.Messages)

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		// Split a frame across writes.
		fmt.Fprint(w, ": keep-alive\n\ndata: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\ndata: {\"choi")
		flusher.Flush()
		fmt.Fprint(w, "ces\":[{\"delta\":{\"content\":\"lo\"}}]}\n\ndata: [DONE]\n\ndata: {\"choices\":[{\"delta\":{\"content\":\"late\"}}]}\n\n")
	}))
	defer srv.Close()

	events := collect(t, New(srv.URL, staticToken("tok")).StreamChat(context.Background(), userMsg("hi")))
	require.Len(t, events, 3)
	assert.Equal(t, Event{Kind: EventDelta, Text: "Hel"}, events[0])
	assert.Equal(t, Event{Kind: EventDelta, Text: "lo"}, events[1])
	assert.Equal(t, EventDone, events[2].Kind)
}

func TestStreamChatNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, `{"error":"AI provider error (500): down"}`)
	}))
	defer srv.Close()

	events := collect(t, New(srv.URL, staticToken("tok")).StreamChat(context.Background(), userMsg("hi")))
	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Kind)
	assert.EqualError(t, events[0].Err, "AI provider error (500): down")
}

func TestStreamChatCancelEndsWithDone(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	ch := New(srv.URL, staticToken("tok")).StreamChat(ctx, userMsg("hi"))

	first := <-ch
	assert.Equal(t, Event{Kind: EventDelta, Text: "a"}, first)
	cancel()

	for ev := range ch {
		assert.NotEqual(t, EventError, ev.Kind)
	}
}

func TestStreamChatFuncExactlyOneTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Unterminated tail: recovered by the final flush.
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n\ndata: {\"choices\":[{\"delta\":{\"content\":\"y\"}}]}")
	}))
	defer srv.Close()

	var deltas []string
	var done, failed int
	New(srv.URL, staticToken("tok")).StreamChatFunc(context.Background(), userMsg("hi"), Handlers{
		OnDelta: func(s string) { deltas = append(deltas, s) },
		OnDone:  func() { done++ },
		OnError: func(error) { failed++ },
	})
	assert.Equal(t, []string{"x", "y"}, deltas)
	assert.Equal(t, 1, done)
	assert.Zero(t, failed)
}

func TestDetectDuplicates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ai-duplicates", r.URL.Path)
		fmt.Fprint(w, `{"groups":[{"ids":["a","b"],"reason":"same","items":[]}],"summary":"s","scanned":2}`)
	}))
	defer srv.Close()

	report, err := New(srv.URL, staticToken("tok")).DetectDuplicates(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Groups, 1)
	assert.Equal(t, []string{"a", "b"}, report.Groups[0].IDs)
	assert.Equal(t, 2, report.Scanned)
}

func TestConversationAccumulates(t *testing.T) {
	var conv Conversation
	conv.AddUser("hi")
	conv.AppendDelta("Hel")
	conv.AppendDelta("lo")
	conv.AddUser("again")
	conv.AppendDelta("Yes")

	require.Len(t, conv.Messages, 4)
	assert.Equal(t, "Hello", conv.Messages[1].Content)
	assert.Equal(t, provider.RoleAssistant, conv.Messages[1].Role)
	assert.Equal(t, "Yes", conv.LastReply())

	history := conv.History()
	conv.AppendDelta("!")
	assert.Equal(t, "Yes", history[3].Content)

	conv.Reset()
	assert.Empty(t, conv.LastReply())
}

func TestResponseTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c := New(srv.URL, staticToken("tok"), WithResponseTimeout(50*time.Millisecond))
	start := time.Now()
	_, err := c.CallAI(context.Background(), ai.ActionRequest{Action: "generate-password"})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	assert.Equal(t, DefaultResponseTimeout, New(srv.URL, nil).responseTimeout)
	assert.Equal(t, DefaultResponseTimeout, New(srv.URL, nil, WithResponseTimeout(0)).responseTimeout)
}
