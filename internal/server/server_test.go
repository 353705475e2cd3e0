package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maximbilan/vaultai/internal/ai"
	"github.com/maximbilan/vaultai/internal/auth"
	"github.com/maximbilan/vaultai/internal/provider"
	"github.com/maximbilan/vaultai/internal/ratelimit"
	"github.com/maximbilan/vaultai/internal/sse"
	"github.com/maximbilan/vaultai/internal/store"
	"github.com/maximbilan/vaultai/internal/store/storetest"
)

type mockFactory struct {
	mock *provider.MockProvider
}

func (f mockFactory) New(provider.Kind, string) (provider.Provider, error) { return f.mock, nil }
func (f mockFactory) Model(kind provider.Kind) string                      { return "test-" + string(kind) }

type fixture struct {
	srv   *Server
	store store.Store
	mock  *provider.MockProvider
	authn *auth.Authenticator
}

func newFixture(t *testing.T, limiter *ratelimit.Registry) *fixture {
	t.Helper()
	st := storetest.NewStore(t)
	mock := provider.NewMockProvider()
	svc := ai.NewService(st, mockFactory{mock: mock}, ai.Limits{})
	authn, err := auth.New("server-test-secret", "")
	require.NoError(t, err)

	return &fixture{
		srv:   New(svc, authn, Options{Limiter: limiter}),
		store: st,
		mock:  mock,
		authn: authn,
	}
}

func (f *fixture) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		token, err := f.authn.Issue(user, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func TestProxyUnauthorized(t *testing.T) {
	f := newFixture(t, nil)

	for _, path := range []string{"/ai-proxy", "/ai-chat", "/ai-duplicates"} {
		rec := f.do(t, http.MethodPost, path, "", map[string]string{"action": "summarize"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
		assert.Equal(t, "Unauthorized", errorBody(t, rec))
	}
	rec := f.do(t, http.MethodGet, "/ai-status", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, f.mock.Requests())
}

func TestProxyNotConfigured(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/ai-proxy", "u1", map[string]any{"action": "summarize", "content": "hi"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No API key configured. Please add one in Settings > AI Settings.", errorBody(t, rec))
	assert.Empty(t, f.mock.Requests())
}

func TestProxySuccess(t *testing.T) {
	f := newFixture(t, nil)
	storetest.AddCredential(t, f.store, "u1", "gemini", "AIza-test")

	rec := f.do(t, http.MethodPost, "/ai-proxy", "u1", map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "ping"}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res ai.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "gemini", res.Provider)
	assert.Equal(t, "Mock response for: ping", res.Content)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestProxyErrors(t *testing.T) {
	f := newFixture(t, nil)
	storetest.AddCredential(t, f.store, "u1", "openai", "sk-test")

	rec := f.do(t, http.MethodPost, "/ai-proxy", "u1", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid request body", errorBody(t, rec))

	rec = f.do(t, http.MethodPost, "/ai-proxy", "u1", map[string]any{"action": "teleport"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.mock.SetError(&provider.UpstreamError{Provider: provider.OpenAI, StatusCode: 401, Body: `{"error":"bad key"}`})
	rec = f.do(t, http.MethodPost, "/ai-proxy", "u1", map[string]any{"action": "generate-password"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, `AI provider error (401): {"error":"bad key"}`, errorBody(t, rec))

	f.mock.SetError(errors.New("boom"))
	rec = f.do(t, http.MethodPost, "/ai-proxy", "u1", map[string]any{"action": "generate-password"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "boom", errorBody(t, rec))
}

func TestChatStreamsFrames(t *testing.T) {
	f := newFixture(t, nil)
	storetest.AddCredential(t, f.store, "u1", "openai", "sk-test")
	f.mock.SetResponse("hi", "Hey!")

	rec := f.do(t, http.MethodPost, "/ai-chat", "u1", map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
	assert.True(t, rec.Flushed)

	dec := sse.NewDecoder(nil)
	assert.Equal(t, []string{"H", "e", "y", "!"}, dec.Feed(rec.Body.Bytes()))
	assert.True(t, dec.Done())
}

func TestChatErrorsBeforeStream(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/ai-chat", "u1", map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, errorBody(t, rec), "No API key configured")

	storetest.AddCredential(t, f.store, "u1", "openai", "sk-test")
	rec = f.do(t, http.MethodPost, "/ai-chat", "u1", map[string]any{"messages": []any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.mock.SetError(&provider.UpstreamError{Provider: provider.OpenAI, StatusCode: 429, Body: "quota"})
	rec = f.do(t, http.MethodPost, "/ai-chat", "u1", map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "AI provider error (429): quota", errorBody(t, rec))
}

func TestStatus(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/ai-status", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"configured":false}`, rec.Body.String())

	storetest.AddCredential(t, f.store, "u1", "openai", "sk-test")
	rec = f.do(t, http.MethodGet, "/ai-status", "u1", nil)
	assert.JSONEq(t, `{"configured":true}`, rec.Body.String())
}

func TestDuplicatesEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	storetest.AddCredential(t, f.store, "u1", "openai", "sk-test")
	storetest.AddItem(t, f.store, "u1", "note", "Only", "one", 1)

	rec := f.do(t, http.MethodPost, "/ai-duplicates", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"groups":[],"scanned":1}`, rec.Body.String())
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, ratelimit.NewRegistry(2, time.Hour))
	storetest.AddCredential(t, f.store, "u1", "openai", "sk-test")
	storetest.AddCredential(t, f.store, "u2", "openai", "sk-test-2")
	body := map[string]any{"action": "generate-password"}

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/ai-proxy", "u1", body).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/ai-proxy", "u1", body).Code)

	rec := f.do(t, http.MethodPost, "/ai-proxy", "u1", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "Too many requests", errorBody(t, rec))

	// Another user has their own bucket.
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/ai-proxy", "u2", body).Code)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/ai-proxy", nil)
	req.Header.Set("Origin", "https://vault.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "authorization, content-type")
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
