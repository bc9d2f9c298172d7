package repository

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/solverai/companion/internal/domain"
)

// ConversationRepository handles conversation and message persistence
type ConversationRepository struct {
	db *DB
}

// NewConversationRepository creates a new conversation repository
func NewConversationRepository(db *DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// Create creates a new conversation
func (r *ConversationRepository) Create(conv *domain.Conversation) error {
	if conv.ID == "" {
		conv.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	conv.CreatedAt = now
	conv.UpdatedAt = now

	_, err := r.db.Exec(`
		INSERT INTO conversations (id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`, conv.ID, conv.Title, conv.CreatedAt, conv.UpdatedAt)

	return err
}

// Get retrieves a conversation by ID, nil when absent
func (r *ConversationRepository) Get(id string) (*domain.Conversation, error) {
	conv := &domain.Conversation{}
	var title sql.NullString

	err := r.db.QueryRow(`
		SELECT id, title, created_at, updated_at
		FROM conversations WHERE id = ?
	`, id).Scan(&conv.ID, &title, &conv.CreatedAt, &conv.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if title.Valid {
		conv.Title = title.String
	}

	return conv, nil
}

// List retrieves conversations ordered by last activity
func (r *ConversationRepository) List(limit, offset int) ([]*domain.Conversation, error) {
	rows, err := r.db.Query(`
		SELECT id, title, created_at, updated_at
		FROM conversations
		ORDER BY updated_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conversations []*domain.Conversation
	for rows.Next() {
		conv := &domain.Conversation{}
		var title sql.NullString
		if err := rows.Scan(&conv.ID, &title, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, err
		}
		if title.Valid {
			conv.Title = title.String
		}
		conversations = append(conversations, conv)
	}

	return conversations, rows.Err()
}

// Delete removes a conversation and its messages
func (r *ConversationRepository) Delete(id string) error {
	res, err := r.db.Exec(`DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Touch bumps a conversation's updated_at timestamp
func (r *ConversationRepository) Touch(id string) error {
	_, err := r.db.Exec(`UPDATE conversations SET updated_at = ? WHERE id = ?`, time.Now().UTC(), id)
	return err
}

// CreateMessage appends a message to a conversation
func (r *ConversationRepository) CreateMessage(message *domain.Message) error {
	message.CreatedAt = time.Now().UTC()

	var sourcesJSON sql.NullString
	if len(message.Sources) > 0 {
		data, err := json.Marshal(message.Sources)
		if err != nil {
			return err
		}
		sourcesJSON = sql.NullString{String: string(data), Valid: true}
	}

	res, err := r.db.Exec(`
		INSERT INTO messages (conversation_id, role, content, sources, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, message.ConversationID, string(message.Role), message.Content,
		sourcesJSON, message.CreatedAt)
	if err != nil {
		return err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	message.ID = id

	return r.Touch(message.ConversationID)
}

// GetMessages retrieves all messages for a conversation in creation order.
// The autoincrement id breaks created_at ties so same-second turns keep
// their insert order.
func (r *ConversationRepository) GetMessages(conversationID string) ([]*domain.Message, error) {
	rows, err := r.db.Query(`
		SELECT id, conversation_id, role, content, sources, created_at
		FROM messages WHERE conversation_id = ?
		ORDER BY created_at ASC, id ASC
	`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*domain.Message
	for rows.Next() {
		message := &domain.Message{}
		var role string
		var sourcesJSON sql.NullString

		if err := rows.Scan(&message.ID, &message.ConversationID, &role,
			&message.Content, &sourcesJSON, &message.CreatedAt); err != nil {
			return nil, err
		}

		parsed, err := domain.ParseRole(role)
		if err != nil {
			return nil, err
		}
		message.Role = parsed

		if sourcesJSON.Valid && sourcesJSON.String != "" {
			if err := json.Unmarshal([]byte(sourcesJSON.String), &message.Sources); err != nil {
				return nil, err
			}
		}
		messages = append(messages, message)
	}

	return messages, rows.Err()
}
