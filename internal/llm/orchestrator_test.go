package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/solverai/companion/internal/domain"
)

// deadOllama returns a client pointing at a closed server, so the
// liveness probe always fails.
func deadOllama(t *testing.T) *OllamaClient {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()
	return NewOllamaClient(OllamaConfig{BaseURL: srv.URL})
}

// liveOllama serves both the liveness probe and a canned generation.
func liveOllama(t *testing.T, reply string) *OllamaClient {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/tags" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Write([]byte(`{"response":"` + reply + `","done":true}`))
	}))
	t.Cleanup(srv.Close)
	return NewOllamaClient(OllamaConfig{BaseURL: srv.URL})
}

func userMessages(content string) []domain.ChatMessage {
	return []domain.ChatMessage{{Role: domain.RoleUser, Content: content}}
}

func TestOrchestratorMockGenerate(t *testing.T) {
	o := NewOrchestrator(deadOllama(t), nil, true, zap.NewNop())

	got, err := o.Generate(context.Background(), userMessages("anything at all"), "")
	require.NoError(t, err)
	assert.Equal(t, MockResponse, got)

	// Same fixed reply regardless of input.
	got, err = o.Generate(context.Background(), userMessages("something else"), "some context")
	require.NoError(t, err)
	assert.Equal(t, MockResponse, got)
}

func TestOrchestratorMockStream(t *testing.T) {
	o := NewOrchestrator(deadOllama(t), nil, true, zap.NewNop())

	deltas, err := o.GenerateStream(context.Background(), userMessages("hi"), "")
	require.NoError(t, err)

	var b strings.Builder
	for delta := range deltas {
		require.NoError(t, delta.Err)
		b.WriteString(delta.Text)
	}
	assert.Equal(t, MockResponse, strings.TrimSpace(b.String()))
}

func TestOrchestratorNoProvider(t *testing.T) {
	o := NewOrchestrator(deadOllama(t), nil, false, zap.NewNop())

	_, err := o.Generate(context.Background(), userMessages("hi"), "")
	assert.ErrorIs(t, err, domain.ErrNoProvider)

	_, err = o.GenerateStream(context.Background(), userMessages("hi"), "")
	assert.ErrorIs(t, err, domain.ErrNoProvider)
}

func TestOrchestratorPrefersPrimary(t *testing.T) {
	fallbackSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("fallback must not be called when the primary is alive")
	}))
	defer fallbackSrv.Close()

	o := NewOrchestrator(
		liveOllama(t, "from primary"),
		NewOpenAIClient(OpenAIConfig{APIKey: "sk-test", BaseURL: fallbackSrv.URL}),
		false,
		zap.NewNop(),
	)

	got, err := o.Generate(context.Background(), userMessages("hi"), "")
	require.NoError(t, err)
	assert.Equal(t, "from primary", got)
}

func TestOrchestratorFallsBack(t *testing.T) {
	fallbackSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"from fallback"}}]}`))
	}))
	defer fallbackSrv.Close()

	o := NewOrchestrator(
		deadOllama(t),
		NewOpenAIClient(OpenAIConfig{APIKey: "sk-test", BaseURL: fallbackSrv.URL}),
		false,
		zap.NewNop(),
	)

	got, err := o.Generate(context.Background(), userMessages("hi"), "")
	require.NoError(t, err)
	assert.Equal(t, "from fallback", got)
	assert.True(t, o.HasFallback())
}

func TestInjectContextAppendsToSystemMessage(t *testing.T) {
	messages := []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: "Be helpful."},
		{Role: domain.RoleUser, Content: "What is X?"},
	}

	out := injectContext(messages, "X is a thing.")
	require.Len(t, out, 2)
	assert.True(t, strings.HasPrefix(out[0].Content, "Be helpful."))
	assert.Contains(t, out[0].Content, "X is a thing.")
	assert.Equal(t, 1, strings.Count(out[0].Content, "Context information is below."))
	assert.Equal(t, "What is X?", out[1].Content)

	// The input slice stays untouched.
	assert.Equal(t, "Be helpful.", messages[0].Content)
}

func TestInjectContextSynthesizesSystemMessage(t *testing.T) {
	messages := userMessages("What is X?")

	out := injectContext(messages, "X is a thing.")
	require.Len(t, out, 2)
	assert.Equal(t, domain.RoleSystem, out[0].Role)
	assert.True(t, strings.HasPrefix(out[0].Content, defaultSystemContent))
	assert.Contains(t, out[0].Content, "X is a thing.")
	assert.Equal(t, domain.RoleUser, out[1].Role)
}

func TestInjectContextIdempotentPerCall(t *testing.T) {
	messages := []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: "Be helpful."},
		{Role: domain.RoleUser, Content: "What is X?"},
	}

	// Injecting twice from the same input never stacks templates.
	first := injectContext(messages, "X is a thing.")
	second := injectContext(messages, "X is a thing.")
	assert.Equal(t, first, second)
	assert.Equal(t, 1, strings.Count(second[0].Content, "Context information is below."))
}

func TestInjectContextEmptyContext(t *testing.T) {
	messages := userMessages("hi")
	assert.Equal(t, messages, injectContext(messages, ""))
}
