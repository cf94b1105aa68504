package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Message struct {
	ID         uuid.UUID     `db:"id"`
	SenderID   uuid.UUID     `db:"sender_id"`
	ReceiverID uuid.NullUUID `db:"receiver_id"`
	Body       string        `db:"message"`
	CreatedAt  time.Time     `db:"created_at"`
	UpdatedAt  time.Time     `db:"updated_at"`
}

// MessageWithSender is a message joined with its sender's display fields.
type MessageWithSender struct {
	Message
	SenderName           string  `db:"sender_name"`
	SenderProfilePicture *string `db:"sender_profile_picture"`
}

type MessageRepository struct {
	db *DB
}

func NewMessageRepository(db *DB) *MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) Create(ctx context.Context, msg *Message) error {
	query := `
		INSERT INTO messages (id, sender_id, receiver_id, message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.ExecContext(ctx, query,
		msg.ID, msg.SenderID, msg.ReceiverID, msg.Body, msg.CreatedAt, msg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// ListWithSenders returns every message, oldest first, with the sender
// resolved in the same query.
func (r *MessageRepository) ListWithSenders(ctx context.Context) ([]MessageWithSender, error) {
	query := `
		SELECT m.id, m.sender_id, m.receiver_id, m.message, m.created_at, m.updated_at,
		       u.name AS sender_name, u.profile_picture AS sender_profile_picture
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		ORDER BY m.created_at ASC, m.id ASC
	`

	messages := []MessageWithSender{}
	if err := r.db.SelectContext(ctx, &messages, query); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return messages, nil
}
