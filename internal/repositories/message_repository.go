package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"

	"messaging-service/internal/models"
)

// MessageRepository defines durable message access. The database assigns ids
// and timestamps; both come back on insert.
type MessageRepository interface {
	CreateMessage(ctx context.Context, conversationID, senderID int64, body string) (models.Message, error)
	ListRecent(ctx context.Context, conversationID int64, limit int) ([]models.Message, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// CreateMessage stores a message and returns the persisted row.
func (r *MessageRepo) CreateMessage(ctx context.Context, conversationID, senderID int64, body string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `INSERT INTO messages (conversation_id, sender_id, body) VALUES ($1, $2, $3)
        RETURNING id, conversation_id, sender_id, body, created_at`, conversationID, senderID, body)
	return msg, err
}

// ListRecent returns the newest messages first, capped at limit.
func (r *MessageRepo) ListRecent(ctx context.Context, conversationID int64, limit int) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, `SELECT id, conversation_id, sender_id, body, created_at
        FROM messages WHERE conversation_id=$1 ORDER BY created_at DESC LIMIT $2`, conversationID, limit)
	return msgs, err
}
