package domain

import "time"

// TitleMaxLen bounds a conversation title derived from its first message.
const TitleMaxLen = 50

// Conversation groups an ordered sequence of chat messages.
type Conversation struct {
	ID        string    `json:"conversation_id"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is a persisted chat turn within a conversation.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	Sources        []Source  `json:"sources,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// DeriveTitle builds a conversation title from its first user message,
// truncated to TitleMaxLen characters with an ellipsis.
func DeriveTitle(firstMessage string) string {
	runes := []rune(firstMessage)
	if len(runes) <= TitleMaxLen {
		return firstMessage
	}
	return string(runes[:TitleMaxLen]) + "..."
}
