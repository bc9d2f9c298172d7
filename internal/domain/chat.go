package domain

import "fmt"

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ParseRole validates a role string against the closed set.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleSystem, RoleUser, RoleAssistant:
		return Role(s), nil
	}
	return "", fmt.Errorf("%w: unknown role %q", ErrInvalidRequest, s)
}

// ChatMessage is a single role/content turn sent to a generation provider.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the request to send a chat message
type ChatRequest struct {
	Message        string   `json:"message" binding:"required"`
	ConversationID string   `json:"conversation_id,omitempty"`
	Stream         bool     `json:"stream,omitempty"`
	DocumentIDs    []string `json:"document_ids,omitempty"`
}

// ChatResponse is the response from a non-streaming chat turn
type ChatResponse struct {
	Response       string   `json:"response"`
	ConversationID string   `json:"conversation_id"`
	Timestamp      string   `json:"timestamp"`
	Sources        []Source `json:"sources,omitempty"`
}

// Source records where a retrieved context chunk came from.
type Source struct {
	DocumentID string `json:"document_id"`
	ChunkIndex int    `json:"chunk_index"`
	SourcePath string `json:"source_path"`
	Preview    string `json:"preview"`
}

// StreamChunk represents a chunk in an SSE stream
type StreamChunk struct {
	Type           string `json:"type"` // content, done, error
	Content        string `json:"content,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}
