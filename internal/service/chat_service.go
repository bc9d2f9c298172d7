package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/solverai/companion/internal/domain"
	"github.com/solverai/companion/internal/llm"
	"github.com/solverai/companion/internal/rag"
	"github.com/solverai/companion/internal/repository"
)

// sourcePreviewLen bounds the per-chunk preview recorded with assistant
// message sources.
const sourcePreviewLen = 200

// systemPreamble seeds the first turn of every new conversation.
const systemPreamble = `You are SolverAI, a helpful and knowledgeable assistant.

Guidelines for your responses:
- Be clear, accurate, and well-structured
- Use markdown formatting for better readability:
  - Use **bold** for important terms or emphasis
  - Use bullet points or numbered lists for steps or multiple items
  - Use headings (## or ###) for organizing longer responses
  - Use ` + "`code`" + ` formatting for technical terms, commands, or code
- Keep paragraphs concise and separated
- When providing steps or instructions, number them clearly
- Be friendly but professional in tone
- If you don't know something, say so honestly`

// ChatService orchestrates one chat turn: conversation resolution,
// history assembly, retrieval, generation and persistence.
type ChatService struct {
	conversations *repository.ConversationRepository
	retriever     *rag.Retriever
	orchestrator  *llm.Orchestrator
	ragEnabled    bool
	topK          int
	logger        *zap.Logger
}

// NewChatService creates a new chat service. retriever may be nil when
// retrieval is disabled.
func NewChatService(
	conversations *repository.ConversationRepository,
	retriever *rag.Retriever,
	orchestrator *llm.Orchestrator,
	ragEnabled bool,
	topK int,
	logger *zap.Logger,
) *ChatService {
	return &ChatService{
		conversations: conversations,
		retriever:     retriever,
		orchestrator:  orchestrator,
		ragEnabled:    ragEnabled && retriever != nil,
		topK:          topK,
		logger:        logger,
	}
}

// turn carries the per-turn state assembled before generation.
type turn struct {
	conversationID string
	messages       []domain.ChatMessage
	context        string
	sources        []domain.Source
}

// prepareTurn resolves the conversation, persists the user message
// before any generation is attempted, and assembles provider messages
// plus retrieved context.
func (s *ChatService) prepareTurn(ctx context.Context, req *domain.ChatRequest) (*turn, error) {
	convID := req.ConversationID
	if convID == "" {
		convID = uuid.New().String()
	}

	conv, err := s.conversations.Get(convID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if conv == nil {
		conv = &domain.Conversation{
			ID:    convID,
			Title: domain.DeriveTitle(req.Message),
		}
		if err := s.conversations.Create(conv); err != nil {
			return nil, fmt.Errorf("create conversation: %w", err)
		}
	}

	history, err := s.conversations.GetMessages(convID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	// The user's turn is stored before generation so it survives a
	// generation failure.
	userMsg := &domain.Message{
		ConversationID: convID,
		Role:           domain.RoleUser,
		Content:        req.Message,
	}
	if err := s.conversations.CreateMessage(userMsg); err != nil {
		return nil, fmt.Errorf("persist user message: %w", err)
	}

	messages := make([]domain.ChatMessage, 0, len(history)+2)
	if len(history) == 0 {
		messages = append(messages, domain.ChatMessage{
			Role:    domain.RoleSystem,
			Content: systemPreamble,
		})
	}
	for _, msg := range history {
		messages = append(messages, domain.ChatMessage{Role: msg.Role, Content: msg.Content})
	}
	messages = append(messages, domain.ChatMessage{Role: domain.RoleUser, Content: req.Message})

	t := &turn{conversationID: convID, messages: messages}

	if s.ragEnabled {
		chunks, err := s.retriever.Retrieve(ctx, req.Message, s.topK, req.DocumentIDs)
		if err != nil {
			return nil, fmt.Errorf("retrieve context: %w", err)
		}
		if len(chunks) > 0 {
			texts := make([]string, len(chunks))
			t.sources = make([]domain.Source, len(chunks))
			for i, chunk := range chunks {
				texts[i] = chunk.Text
				t.sources[i] = domain.Source{
					DocumentID: chunk.DocumentID,
					ChunkIndex: chunk.ChunkIndex,
					SourcePath: chunk.Source,
					Preview:    preview(chunk.Text),
				}
			}
			t.context = strings.Join(texts, "\n")
			s.logger.Info("Retrieved context for chat turn",
				zap.Int("chunks", len(chunks)),
				zap.Bool("scoped", len(req.DocumentIDs) > 0),
			)
		}
	}

	return t, nil
}

// Chat handles a blocking chat turn and returns the full response with
// its retrieval sources.
func (s *ChatService) Chat(ctx context.Context, req *domain.ChatRequest) (*domain.ChatResponse, error) {
	t, err := s.prepareTurn(ctx, req)
	if err != nil {
		return nil, err
	}

	response, err := s.orchestrator.Generate(ctx, t.messages, t.context)
	if err != nil {
		return nil, err
	}

	assistantMsg := &domain.Message{
		ConversationID: t.conversationID,
		Role:           domain.RoleAssistant,
		Content:        response,
		Sources:        t.sources,
	}
	if err := s.conversations.CreateMessage(assistantMsg); err != nil {
		return nil, fmt.Errorf("persist assistant message: %w", err)
	}

	return &domain.ChatResponse{
		Response:       response,
		ConversationID: t.conversationID,
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
		Sources:        t.sources,
	}, nil
}

// ChatStream handles a streaming chat turn. Fragments are forwarded to
// the caller as they arrive while the full text accumulates in memory;
// the assistant message is persisted only once the provider stream is
// exhausted, and the done event is emitted only after that commit.
//
// Known consistency gap, kept on purpose: a crash between the last
// forwarded fragment and the commit loses the assistant turn from
// storage even though the caller already received the text.
func (s *ChatService) ChatStream(ctx context.Context, req *domain.ChatRequest) (<-chan domain.StreamChunk, error) {
	t, err := s.prepareTurn(ctx, req)
	if err != nil {
		return nil, err
	}

	deltas, err := s.orchestrator.GenerateStream(ctx, t.messages, t.context)
	if err != nil {
		return nil, err
	}

	out := make(chan domain.StreamChunk, 100)
	go func() {
		defer close(out)

		var full strings.Builder
		for delta := range deltas {
			if delta.Err != nil {
				s.logger.Error("Stream failed", zap.Error(delta.Err))
				out <- domain.StreamChunk{Type: "error", Content: delta.Err.Error()}
				return
			}
			full.WriteString(delta.Text)
			out <- domain.StreamChunk{Type: "content", Content: delta.Text}
		}

		assistantMsg := &domain.Message{
			ConversationID: t.conversationID,
			Role:           domain.RoleAssistant,
			Content:        full.String(),
			Sources:        t.sources,
		}
		if err := s.conversations.CreateMessage(assistantMsg); err != nil {
			s.logger.Error("Failed to persist assistant message", zap.Error(err))
			out <- domain.StreamChunk{Type: "error", Content: err.Error()}
			return
		}

		out <- domain.StreamChunk{Type: "done", ConversationID: t.conversationID}
	}()

	return out, nil
}

// GetConversation returns a conversation with its ordered messages.
func (s *ChatService) GetConversation(id string) (*domain.Conversation, []*domain.Message, error) {
	conv, err := s.conversations.Get(id)
	if err != nil {
		return nil, nil, err
	}
	if conv == nil {
		return nil, nil, domain.ErrNotFound
	}
	messages, err := s.conversations.GetMessages(id)
	if err != nil {
		return nil, nil, err
	}
	return conv, messages, nil
}

// ListConversations returns conversations ordered by last activity.
func (s *ChatService) ListConversations(limit, offset int) ([]*domain.Conversation, error) {
	return s.conversations.List(limit, offset)
}

// DeleteConversation removes a conversation and its messages.
func (s *ChatService) DeleteConversation(id string) error {
	return s.conversations.Delete(id)
}

func preview(text string) string {
	runes := []rune(text)
	if len(runes) <= sourcePreviewLen {
		return text
	}
	return string(runes[:sourcePreviewLen])
}
