package llm

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/solverai/companion/internal/domain"
)

// StreamDelta is one incremental fragment of a streamed generation. The
// channel is closed when the stream is exhausted; a non-nil Err ends it.
type StreamDelta struct {
	Text string
	Err  error
}

// contextTemplate is appended to the system message when retrieved
// context is injected.
const contextTemplate = "\n\nContext information is below.\n---------------------\n%CONTEXT%\n---------------------\nGiven the context information and not prior knowledge, answer the query."

// defaultSystemContent seeds a synthesized system message when the
// caller supplied none.
const defaultSystemContent = "You are a helpful AI assistant."

// MockResponse is the fixed deterministic reply returned in mock mode.
const MockResponse = "This is a mock response from SolverAI."

// Orchestrator selects a generation provider, injects retrieved context
// and exposes blocking and streaming generation. The local provider is
// preferred when its liveness probe succeeds; otherwise the configured
// cloud fallback is used. No call is retried.
type Orchestrator struct {
	primary  *OllamaClient
	fallback *OpenAIClient
	mock     bool
	logger   *zap.Logger
}

// NewOrchestrator creates an orchestrator. fallback may be nil when no
// cloud credential is configured; mock short-circuits all providers.
func NewOrchestrator(primary *OllamaClient, fallback *OpenAIClient, mock bool, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		primary:  primary,
		fallback: fallback,
		mock:     mock,
		logger:   logger,
	}
}

// HasFallback reports whether a cloud fallback credential is configured.
func (o *Orchestrator) HasFallback() bool {
	return o.fallback != nil
}

// PrimaryAlive probes the local provider's reachability.
func (o *Orchestrator) PrimaryAlive(ctx context.Context) bool {
	return o.primary.Ping(ctx) == nil
}

// injectContext returns a message list with the retrieval context merged
// into the system message: appended to the first system message when one
// exists, otherwise a synthesized system message is prepended. The input
// slice is never mutated, so reusing it across calls cannot stack
// context templates.
func injectContext(messages []domain.ChatMessage, contextText string) []domain.ChatMessage {
	if contextText == "" {
		return messages
	}

	prompt := strings.Replace(contextTemplate, "%CONTEXT%", contextText, 1)

	for i, msg := range messages {
		if msg.Role != domain.RoleSystem {
			continue
		}
		out := make([]domain.ChatMessage, len(messages))
		copy(out, messages)
		out[i].Content = msg.Content + prompt
		return out
	}

	out := make([]domain.ChatMessage, 0, len(messages)+1)
	out = append(out, domain.ChatMessage{
		Role:    domain.RoleSystem,
		Content: defaultSystemContent + prompt,
	})
	return append(out, messages...)
}

// Generate returns the full response for the message list, injecting
// contextText into the system instructions first. Fails with
// domain.ErrNoProvider when the primary is unreachable and no fallback
// is configured; transport errors propagate without retry.
func (o *Orchestrator) Generate(ctx context.Context, messages []domain.ChatMessage, contextText string) (string, error) {
	msgs := injectContext(messages, contextText)

	if o.mock {
		o.logger.Info("Using mock LLM")
		return MockResponse, nil
	}

	if o.PrimaryAlive(ctx) {
		o.logger.Info("Using local provider", zap.String("model", o.primary.ModelName()))
		return o.primary.Generate(ctx, msgs)
	}
	if o.fallback != nil {
		o.logger.Info("Local provider unavailable, falling back",
			zap.String("model", o.fallback.ModelName()))
		return o.fallback.Generate(ctx, msgs)
	}
	return "", domain.ErrNoProvider
}

// GenerateStream is the streaming counterpart of Generate. Fragments are
// yielded verbatim from the selected provider; in mock mode the fixed
// reply is streamed word by word.
func (o *Orchestrator) GenerateStream(ctx context.Context, messages []domain.ChatMessage, contextText string) (<-chan StreamDelta, error) {
	msgs := injectContext(messages, contextText)

	if o.mock {
		o.logger.Info("Using mock LLM")
		out := make(chan StreamDelta)
		go func() {
			defer close(out)
			for _, word := range strings.Fields(MockResponse) {
				select {
				case out <- StreamDelta{Text: word + " "}:
				case <-ctx.Done():
					return
				}
			}
		}()
		return out, nil
	}

	if o.PrimaryAlive(ctx) {
		o.logger.Info("Using local provider", zap.String("model", o.primary.ModelName()))
		return o.primary.Stream(ctx, msgs)
	}
	if o.fallback != nil {
		o.logger.Info("Local provider unavailable, falling back",
			zap.String("model", o.fallback.ModelName()))
		return o.fallback.Stream(ctx, msgs)
	}
	return nil, domain.ErrNoProvider
}
