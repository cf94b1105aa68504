// Package chat implements the global message board: persisting messages,
// listing them with their senders, and announcing new ones to realtime
// listeners.
package chat

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/globalchat/backend/internal/cache"
	"github.com/globalchat/backend/internal/db"
	"github.com/globalchat/backend/internal/logger"
	"github.com/globalchat/backend/internal/websocket"
)

const MaxMessageLength = 2000

var (
	ErrEmptyMessage   = errors.New("message is required")
	ErrMessageTooLong = errors.New("message must be at most 2000 characters")
)

type MessageStore interface {
	Create(ctx context.Context, msg *db.Message) error
	ListWithSenders(ctx context.Context) ([]db.MessageWithSender, error)
}

type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*db.User, error)
}

// SenderCache holds recently resolved sender profiles.
type SenderCache interface {
	GetSenderProfile(ctx context.Context, id uuid.UUID) (*cache.SenderProfile, bool)
	SetSenderProfile(ctx context.Context, p *cache.SenderProfile) error
}

// Sender is the public display snapshot of a message author.
type Sender struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	ProfilePicture *string `json:"profilePicture"`
}

// ResolvedMessage is a message with its sender's display fields.
type ResolvedMessage struct {
	ID        string    `json:"id"`
	Sender    Sender    `json:"sender"`
	Receiver  *Sender   `json:"receiver"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// UpdateMessagesPayload is the data of an updateMessages event.
type UpdateMessagesPayload struct {
	Content              string    `json:"content"`
	SenderName           string    `json:"senderName"`
	SenderProfilePicture *string   `json:"senderProfilePicture"`
	Timestamp            time.Time `json:"timestamp"`
}

type Service struct {
	messages  MessageStore
	users     UserLookup
	senders   SenderCache
	publisher websocket.Publisher
	log       *logger.Logger
	now       func() time.Time
}

// NewService wires the chat service. senders may be nil when no cache runs.
func NewService(messages MessageStore, users UserLookup, senders SenderCache, publisher websocket.Publisher) *Service {
	return &Service{
		messages:  messages,
		users:     users,
		senders:   senders,
		publisher: publisher,
		log:       logger.Default().WithComponent("chat"),
		now:       time.Now,
	}
}

// NormalizeMessage trims the body and checks its length.
func NormalizeMessage(body string) (string, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return "", ErrEmptyMessage
	}
	if utf8.RuneCountInString(body) > MaxMessageLength {
		return "", ErrMessageTooLong
	}
	return body, nil
}

// Send stores a global message from senderID and broadcasts it. The body
// must already be normalized. Broadcast failures are logged, never returned.
func (s *Service) Send(ctx context.Context, senderID uuid.UUID, body string) (*ResolvedMessage, error) {
	now := s.now().UTC()
	msg := &db.Message{
		ID:        uuid.New(),
		SenderID:  senderID,
		Body:      body,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, err
	}

	resolved := &ResolvedMessage{
		ID:        msg.ID.String(),
		Sender:    Sender{ID: senderID.String()},
		Message:   msg.Body,
		CreatedAt: msg.CreatedAt,
		UpdatedAt: msg.UpdatedAt,
	}

	sender, err := s.resolveSender(ctx, senderID)
	if err != nil {
		s.log.Error(ctx, "failed to resolve sender, skipping broadcast", err, map[string]interface{}{
			"message_id": msg.ID.String(),
		})
		return resolved, nil
	}
	resolved.Sender.Name = sender.Name
	resolved.Sender.ProfilePicture = sender.ProfilePicture

	s.broadcast(ctx, msg, sender)
	return resolved, nil
}

func (s *Service) resolveSender(ctx context.Context, id uuid.UUID) (*cache.SenderProfile, error) {
	if s.senders != nil {
		if p, ok := s.senders.GetSenderProfile(ctx, id); ok {
			return p, nil
		}
	}

	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	p := &cache.SenderProfile{ID: user.ID, Name: user.Name, ProfilePicture: user.ProfilePicture}
	if s.senders != nil {
		_ = s.senders.SetSenderProfile(ctx, p)
	}
	return p, nil
}

func (s *Service) broadcast(ctx context.Context, msg *db.Message, sender *cache.SenderProfile) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	err := s.publisher.Publish(ctx, websocket.EventUpdateMessages, UpdateMessagesPayload{
		Content:              msg.Body,
		SenderName:           sender.Name,
		SenderProfilePicture: sender.ProfilePicture,
		Timestamp:            msg.CreatedAt,
	})
	if err != nil {
		s.log.Error(ctx, "failed to broadcast message", err, map[string]interface{}{
			"message_id": msg.ID.String(),
		})
	}
}

// List returns every message, oldest first.
func (s *Service) List(ctx context.Context) ([]ResolvedMessage, error) {
	rows, err := s.messages.ListWithSenders(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]ResolvedMessage, 0, len(rows))
	for _, row := range rows {
		out = append(out, ResolvedMessage{
			ID: row.ID.String(),
			Sender: Sender{
				ID:             row.SenderID.String(),
				Name:           row.SenderName,
				ProfilePicture: row.SenderProfilePicture,
			},
			Message:   row.Body,
			CreatedAt: row.CreatedAt,
			UpdatedAt: row.UpdatedAt,
		})
	}
	return out, nil
}
