package chat

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/globalchat/backend/internal/auth"
	apperrors "github.com/globalchat/backend/internal/errors"
	"github.com/globalchat/backend/internal/metrics"
)

type SendMessageRequest struct {
	SenderID string `json:"senderId"`
	Message  string `json:"message"`
}

type SendMessageResponse struct {
	Message string           `json:"message"`
	Data    *ResolvedMessage `json:"data"`
}

type Handlers struct {
	chatService *Service
	metrics     *metrics.Metrics
}

func NewHandlers(chatService *Service, m *metrics.Metrics) *Handlers {
	return &Handlers{chatService: chatService, metrics: m}
}

// SendMessage posts a global message as the authenticated user. A senderId
// in the body is accepted only if it names that same user.
func (h *Handlers) SendMessage(w http.ResponseWriter, r *http.Request) error {
	user := auth.GetUserFromContext(r.Context())
	if user == nil {
		return apperrors.Unauthorized("access denied")
	}

	var req SendMessageRequest
	if err := apperrors.DecodeJSON(w, r, &req); err != nil {
		return err
	}

	if req.SenderID != "" {
		claimed, err := uuid.Parse(req.SenderID)
		if err != nil || claimed != user.UserID {
			return apperrors.Forbidden("sender does not match session")
		}
	}

	body, err := NormalizeMessage(req.Message)
	if err != nil {
		return apperrors.ValidationError(err.Error())
	}

	msg, err := h.chatService.Send(r.Context(), user.UserID, body)
	if err != nil {
		return apperrors.InternalError("Failed to send message").WithCause(err)
	}

	h.metrics.IncCounter(metrics.CounterMessagesSent)
	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusCreated, SendMessageResponse{
		Message: "Message sent successfully",
		Data:    msg,
	})
	return nil
}

func (h *Handlers) GetMessages(w http.ResponseWriter, r *http.Request) error {
	messages, err := h.chatService.List(r.Context())
	if err != nil {
		return apperrors.InternalError("Failed to retrieve messages").WithCause(err)
	}

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, messages)
	return nil
}
